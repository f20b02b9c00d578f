package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
	"github.com/toricodesthings/document-extraction-service/internal/ocr"
	"github.com/toricodesthings/document-extraction-service/internal/raster"
)

type Config struct {
	// MaxTextPages caps the text-layer pass.
	MaxTextPages int
	// MaxOCRPages caps the OCR pass; rasterizing and recognizing a page
	// costs far more than reading its text layer.
	MaxOCRPages int
	// RenderScale multiplies 72 dpi when rasterizing for OCR.
	RenderScale float64
	// OCRWorkers bounds concurrent page OCR within one document.
	OCRWorkers int
	// PageTimeout bounds rasterize + recognize for a single page.
	PageTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxTextPages <= 0 {
		out.MaxTextPages = 10
	}
	if out.MaxOCRPages <= 0 {
		out.MaxOCRPages = 5
	}
	if out.RenderScale <= 0 {
		out.RenderScale = 2.0
	}
	if out.OCRWorkers <= 0 {
		out.OCRWorkers = 1
	}
	if out.PageTimeout <= 0 {
		out.PageTimeout = 60 * time.Second
	}
	return out
}

// Extractor runs the two-pass PDF algorithm: embedded text first, then OCR
// of the leading pages when any page looks scanned.
type Extractor struct {
	cfg    Config
	text   TextLayer
	raster raster.Rasterizer
	ocr    ocr.Engine
	logger *zap.Logger
}

// New builds the PDF extractor. raster and engine may be nil, in which case
// documents that need OCR keep whatever embedded text they have.
func New(text TextLayer, rasterizer raster.Rasterizer, engine ocr.Engine, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:    cfg.withDefaults(),
		text:   text,
		raster: rasterizer,
		ocr:    engine,
		logger: logger,
	}
}

func (e *Extractor) Name() string { return "document/pdf" }

func (e *Extractor) Formats() []extract.Format { return []extract.Format{extract.FormatPDF} }

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	pages, err := e.text.Open(job.Bytes)
	if err != nil {
		return extract.Result{}, err
	}

	total := pages.NumPages()
	if total <= 0 {
		return extract.Result{}, fmt.Errorf("%w: PDF has no pages", extract.ErrDamaged)
	}

	embedded, assessments := e.textPass(pages, total)
	cumulative := utf8.RuneCountInString(strings.TrimSpace(embedded))

	res := extract.Result{
		Method:      extract.MethodEmbedded,
		SourceCount: extract.Count(total),
		Pages:       assessments,
	}

	if !NeedsOCR(assessments, cumulative, job.ForceOCR) {
		res.Text = embedded
		return res, nil
	}

	if e.ocr == nil || e.raster == nil {
		e.logger.Warn("PDF needs OCR but no OCR engine is configured", zap.String("file", job.Name))
		if cumulative == 0 {
			res.Method = extract.MethodFailed
			res.Text = fmt.Sprintf("The PDF %q appears to be scanned or image-only, and text recognition (OCR) is not available, "+
				"so no text could be extracted. Uploading a PDF with selectable text will make its content available.", job.Name)
			return res, nil
		}
		res.Text = embedded + "\n\n" + ocrUnavailableNote(assessments, cumulative)
		return res, nil
	}

	res.Method = extract.MethodOCRMixed
	res.Text = e.ocrPass(ctx, job.Bytes, total)
	return res, nil
}

// textPass reads embedded text from the first MaxTextPages pages and keeps
// the trusted ones.
func (e *Extractor) textPass(pages Pages, total int) (string, []extract.PageAssessment) {
	maxPages := min(total, e.cfg.MaxTextPages)

	var sb strings.Builder
	assessments := make([]extract.PageAssessment, 0, maxPages)
	for n := 1; n <= maxPages; n++ {
		text, err := pages.PageText(n)
		if err != nil {
			e.logger.Debug("page text failed", zap.Int("page", n), zap.Error(err))
			text = ""
		}
		text = strings.TrimSpace(text)

		a := Assess(n, text, pages.ImageCount(n))
		assessments = append(assessments, a)
		if !a.Trusted {
			e.logger.Debug("page text layer too thin, OCR required",
				zap.Int("page", n), zap.Int("chars", a.EmbeddedChars), zap.Int("images", a.ImageCount))
			continue
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n\n", n, text)
	}
	return sb.String(), assessments
}

// ocrPass rasterizes and recognizes the first MaxOCRPages pages. Pages run on
// a bounded pool; blocks are assembled by page index so order is preserved.
func (e *Extractor) ocrPass(ctx context.Context, data []byte, total int) string {
	n := min(total, e.cfg.MaxOCRPages)
	blocks := make([]string, n)

	renderer, err := e.raster.Open(ctx, data)
	if err != nil {
		e.logger.Warn("rasterizer open failed", zap.Error(err))
		for i := range blocks {
			blocks[i] = ocrFailedMarker(i + 1)
		}
		return assembleOCR(blocks, total)
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			e.logger.Debug("rasterizer close failed", zap.Error(err))
		}
	}()

	var g errgroup.Group
	g.SetLimit(e.cfg.OCRWorkers)
	for i := range blocks {
		page := i + 1
		g.Go(func() error {
			blocks[i] = e.ocrPage(ctx, renderer, page)
			return nil
		})
	}
	_ = g.Wait()

	return assembleOCR(blocks, total)
}

func (e *Extractor) ocrPage(ctx context.Context, renderer raster.Renderer, page int) (block string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("OCR page panicked", zap.Int("page", page), zap.Any("panic", r))
			block = ocrFailedMarker(page)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	img, err := renderer.Render(ctx, page, e.cfg.RenderScale)
	if err != nil {
		e.logger.Warn("page render failed", zap.Int("page", page), zap.Error(err))
		return ocrFailedMarker(page)
	}

	text, err := e.ocr.Recognize(ctx, ocr.Image{Data: img, MIMEType: "image/png", Page: page})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("OCR page timed out", zap.Int("page", page), zap.Duration("timeout", e.cfg.PageTimeout))
		} else {
			e.logger.Warn("OCR page failed", zap.Int("page", page), zap.String("engine", e.ocr.Name()), zap.Error(err))
		}
		return ocrFailedMarker(page)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = fmt.Sprintf("[No text recognized on page %d]", page)
	}
	return fmt.Sprintf("--- Page %d (OCR) ---\n%s", page, text)
}

// ocrUnavailableNote explains why OCR was wanted when it cannot run.
func ocrUnavailableNote(pages []extract.PageAssessment, cumulative int) string {
	for _, p := range pages {
		if !p.Trusted {
			return "[Note: some pages appear to be scanned images; OCR is not available, so only embedded text is included.]"
		}
	}
	if cumulative < MinDocumentChars {
		return "[Note: the document has very little embedded text; OCR is not available, so only embedded text is included.]"
	}
	return "[Note: OCR was requested, but it is not available; the embedded text is included instead.]"
}

func ocrFailedMarker(page int) string {
	return fmt.Sprintf("--- Page %d (OCR) ---\n[OCR failed for page %d]", page, page)
}

func assembleOCR(blocks []string, total int) string {
	text := strings.Join(blocks, "\n\n")
	if skipped := total - len(blocks); skipped > 0 {
		text += fmt.Sprintf("\n\n[Note: OCR was limited to the first %d pages; %d more pages were not processed.]", len(blocks), skipped)
	}
	return text
}
