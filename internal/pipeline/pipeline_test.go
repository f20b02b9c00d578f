package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap/zaptest"

	"github.com/toricodesthings/document-extraction-service/internal/config"
	"github.com/toricodesthings/document-extraction-service/internal/extract"
	"github.com/toricodesthings/document-extraction-service/internal/extractors/pdf"
	"github.com/toricodesthings/document-extraction-service/internal/ocr"
	"github.com/toricodesthings/document-extraction-service/internal/raster"
)

type stubLayer struct{ pages []string }

func (s stubLayer) Open([]byte) (pdf.Pages, error) { return stubPages(s.pages), nil }

type stubPages []string

func (p stubPages) NumPages() int                   { return len(p) }
func (p stubPages) PageText(n int) (string, error) { return p[n-1], nil }
func (p stubPages) ImageCount(int) int              { return 0 }

type stubRaster struct{}

func (stubRaster) Open(context.Context, []byte) (raster.Renderer, error) { return stubRenderer{}, nil }

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, page int, _ float64) ([]byte, error) {
	return []byte{byte(page)}, nil
}
func (stubRenderer) Close() error { return nil }

type stubOCR struct{ calls atomic.Int32 }

func (s *stubOCR) Name() string { return "stub" }
func (s *stubOCR) Recognize(_ context.Context, img ocr.Image) (string, error) {
	s.calls.Add(1)
	return fmt.Sprintf("scanned words on page %d", img.Page), nil
}

func newEngine(t *testing.T, comps Components) *extract.Engine {
	t.Helper()
	return NewWithComponents(comps, config.Defaults(), zaptest.NewLogger(t))
}

func pptxWithSlides(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := n; i >= 1; i-- {
		w, err := zw.Create(fmt.Sprintf("ppt/slides/slide%d.xml", i))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		fmt.Fprintf(w, `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><a:p><a:r><a:t>Point %d</a:t></a:r></a:p></p:sld>`, i)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestUnsupportedExtension(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	res := e.Extract(context.Background(), extract.Document{Bytes: []byte("PK\x03\x04"), Name: "archive.zip"}, false)
	if res.Method != extract.MethodUnsupported {
		t.Fatalf("expected unsupported, got %q", res.Method)
	}
	for _, f := range extract.SupportedFormats() {
		if !strings.Contains(res.Text, f) {
			t.Fatalf("notice missing %q: %q", f, res.Text)
		}
	}
}

func TestLegacyDOCAdvisory(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	res := e.Extract(context.Background(), extract.Document{
		Bytes:    []byte{0x00, 0x11, 0x22, 0x33},
		Name:     "minutes.doc",
		MIMEType: "application/msword",
	}, false)
	if res.Method != extract.MethodMetadataOnly {
		t.Fatalf("expected metadata-only advisory, got %q", res.Method)
	}
	if !strings.Contains(res.Text, "minutes.doc") || !strings.Contains(res.Text, ".docx") || !strings.Contains(res.Text, "PDF") {
		t.Fatalf("advisory missing guidance: %q", res.Text)
	}
}

func TestPPTXOrderThroughEngine(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	res := e.Extract(context.Background(), extract.Document{Bytes: pptxWithSlides(t, 10), Name: "talk.pptx"}, false)
	if res.Method != extract.MethodEmbedded {
		t.Fatalf("expected embedded, got %q: %q", res.Method, res.Text)
	}
	i9 := strings.Index(res.Text, "--- Slide 9 ---")
	i10 := strings.Index(res.Text, "--- Slide 10 ---")
	i2 := strings.Index(res.Text, "--- Slide 2 ---")
	if i2 < 0 || i9 < 0 || i10 < 0 || !(i2 < i9 && i9 < i10) {
		t.Fatalf("slides out of order: %q", res.Text)
	}
}

func TestThreePageDigitalPDF(t *testing.T) {
	t.Parallel()

	page := strings.Repeat("Hello world ", 6)
	eng := &stubOCR{}
	e := newEngine(t, Components{
		TextLayer:  stubLayer{pages: []string{page, page, page}},
		Rasterizer: stubRaster{},
		OCR:        eng,
	})

	res := e.Extract(context.Background(), extract.Document{Bytes: []byte("%PDF-1.4"), Name: "hello.pdf"}, false)
	if res.Method != extract.MethodEmbedded {
		t.Fatalf("expected embedded, got %q", res.Method)
	}
	if eng.calls.Load() != 0 {
		t.Fatalf("OCR must not run for digital PDFs")
	}
	i1 := strings.Index(res.Text, "--- Page 1 ---")
	i2 := strings.Index(res.Text, "--- Page 2 ---")
	i3 := strings.Index(res.Text, "--- Page 3 ---")
	if i1 < 0 || !(i1 < i2 && i2 < i3) {
		t.Fatalf("unexpected page blocks: %q", res.Text)
	}
}

func TestScannedPDFUsesOCR(t *testing.T) {
	t.Parallel()

	pages := make([]string, 12)
	pages[0] = "cover page"
	eng := &stubOCR{}
	e := newEngine(t, Components{TextLayer: stubLayer{pages: pages}, Rasterizer: stubRaster{}, OCR: eng})

	res := e.Extract(context.Background(), extract.Document{Bytes: []byte("%PDF-1.4"), Name: "scan.pdf"}, false)
	if res.Method != extract.MethodOCRMixed {
		t.Fatalf("expected ocr-mixed, got %q", res.Method)
	}
	if n := eng.calls.Load(); n != 5 {
		t.Fatalf("expected 5 OCR calls, got %d", n)
	}
	if res.SourceCount == nil || *res.SourceCount != 12 {
		t.Fatalf("expected 12 pages, got %v", res.SourceCount)
	}
	if !strings.Contains(res.Text, "7 more pages were not processed") {
		t.Fatalf("expected skipped note: %q", res.Text)
	}
}

func TestTruncation(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	body := strings.Repeat("abcdefghij", 2500)
	res := e.Extract(context.Background(), extract.Document{Bytes: []byte(body), Name: "long.txt"}, false)

	if !res.Truncated {
		t.Fatalf("expected truncation")
	}
	notice := extract.TruncationNotice(25000, extract.DefaultMaxChars, nil)
	if n := utf8.RuneCountInString(res.Text); n > extract.DefaultMaxChars+utf8.RuneCountInString(notice) {
		t.Fatalf("text too long: %d", n)
	}
	if !strings.Contains(res.Text, "25000") {
		t.Fatalf("notice should state original length: %q", res.Text[len(res.Text)-200:])
	}
	if res.OriginalLength != 25000 {
		t.Fatalf("expected original length 25000, got %d", res.OriginalLength)
	}
}

func TestPDFTruncationStatesPageCount(t *testing.T) {
	t.Parallel()

	page := strings.Repeat("x", 3000)
	e := newEngine(t, Components{TextLayer: stubLayer{pages: []string{page, page, page, page, page, page}}})
	res := e.Extract(context.Background(), extract.Document{Bytes: []byte("%PDF-1.4"), Name: "big.pdf"}, false)
	if !res.Truncated || !strings.Contains(res.Text, "6-page document") {
		t.Fatalf("expected page count in notice, truncated=%v", res.Truncated)
	}
}

func TestIdempotent(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	doc := extract.Document{Bytes: pptxWithSlides(t, 3), Name: "same.pptx"}
	a := e.Extract(context.Background(), doc, false)
	b := e.Extract(context.Background(), doc, false)
	if a.Method != b.Method || len(a.Text) != len(b.Text) || a.Truncated != b.Truncated {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
}

func TestGarbageNeverPanics(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Components{})
	garbage := [][]byte{
		{},
		[]byte("%PDF-1.7\n1 0 obj << /Type /Catalog >> garbage"),
		[]byte("PK\x03\x04 truncated zip"),
		{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00},
		bytes.Repeat([]byte{0xFF}, 512),
	}
	for _, ext := range []string{".pdf", ".txt", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".bin"} {
		for i, g := range garbage {
			res := e.Extract(context.Background(), extract.Document{Bytes: g, Name: "file" + ext}, false)
			if res.Method == "" {
				t.Fatalf("%s case %d: empty method", ext, i)
			}
			if strings.TrimSpace(res.Text) == "" {
				t.Fatalf("%s case %d: empty text with method %q", ext, i, res.Method)
			}
		}
	}
}
