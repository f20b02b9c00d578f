package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// DefaultMaxSlides caps how many slides are read from one presentation.
const DefaultMaxSlides = 20

const drawingMLNamespace = "http://schemas.openxmlformats.org/drawingml/2006/main"

var (
	slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	textRun   = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	// runOpen spots a run element without matching <a:tbl>, <a:tc> and friends.
	runOpen = regexp.MustCompile(`<a:t[\s>]`)
)

type slidePartRef struct {
	num  int
	file *zip.File
}

type PPTXExtractor struct {
	maxSlides     int
	maxEntryBytes int64
	logger        *zap.Logger
}

func NewPPTX(maxSlides int, logger *zap.Logger) *PPTXExtractor {
	if maxSlides <= 0 {
		maxSlides = DefaultMaxSlides
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PPTXExtractor{maxSlides: maxSlides, maxEntryBytes: defaultMaxZipEntryBytes, logger: logger}
}

func (e *PPTXExtractor) Name() string { return "document/pptx" }

func (e *PPTXExtractor) Formats() []extract.Format { return []extract.Format{extract.FormatPPTX} }

func (e *PPTXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	if isCompoundFile(job.Bytes) {
		info, err := inspectContainer(job.Bytes)
		if err != nil {
			return extract.Result{}, err
		}
		if info.Encrypted {
			return extract.Result{}, fmt.Errorf("%w: encrypted OOXML package", extract.ErrPasswordProtected)
		}
		return legacyResult(job.Document, extract.FormatPPT, &info), nil
	}

	text, total, err := e.slides(ctx, job.Bytes)
	if err != nil {
		return extract.Result{}, err
	}
	if total == 0 {
		return extract.Result{
			Text:        extract.NoTextNotice(job.Document, extract.FormatPPTX),
			Method:      extract.MethodFailed,
			SourceCount: extract.Count(0),
		}, nil
	}
	return extract.Result{Text: text, Method: extract.MethodEmbedded, SourceCount: extract.Count(total)}, nil
}

// slides renders the first maxSlides slides in numeric order and returns the
// assembled text with the total slide count.
func (e *PPTXExtractor) slides(ctx context.Context, data []byte) (string, int, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", 0, err
	}

	parts := slideParts(zr)
	total := len(parts)
	if total > e.maxSlides {
		parts = parts[:e.maxSlides]
	}

	blocks := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		blocks = append(blocks, e.slideBlock(p))
	}
	if skipped := total - len(parts); skipped > 0 {
		blocks = append(blocks, fmt.Sprintf("[Note: showing the first %d of %d slides; %d more slides were not processed.]",
			len(parts), total, skipped))
	}
	return strings.Join(blocks, "\n\n"), total, nil
}

func (e *PPTXExtractor) slideBlock(p slidePartRef) string {
	header := fmt.Sprintf("--- Slide %d ---\n", p.num)

	b, err := readEntry(p.file, e.maxEntryBytes)
	if err != nil {
		e.logger.Debug("slide unreadable", zap.Int("slide", p.num), zap.Error(err))
		return header + fmt.Sprintf("[Slide %d could not be read]", p.num)
	}

	text := slideText(b)
	if text == "" {
		return header + fmt.Sprintf("[Slide %d contains no text or only images]", p.num)
	}
	return header + text
}

// slideParts returns the slide entries sorted by their embedded index, so
// slide10 follows slide9.
func slideParts(zr *zip.Reader) []slidePartRef {
	var parts []slidePartRef
	for _, f := range zr.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		parts = append(parts, slidePartRef{num: n, file: f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].num < parts[j].num })
	return parts
}

// slideText pulls run text with a regex. Markup the regex cannot be trusted
// with (CDATA, or runs it failed to match) goes through encoding/xml instead.
func slideText(b []byte) string {
	s := string(b)
	matches := textRun.FindAllStringSubmatch(s, -1)

	if strings.Contains(s, "<![CDATA[") || (len(matches) == 0 && runOpen.MatchString(s)) {
		if text, err := xmlSlideText(b); err == nil {
			return text
		}
	}

	fragments := make([]string, 0, len(matches))
	for _, m := range matches {
		if f := strings.TrimSpace(xmlEntities.Replace(m[1])); f != "" {
			fragments = append(fragments, f)
		}
	}
	return strings.Join(fragments, " ")
}

// xmlSlideText collects the character data of every DrawingML <a:t> element.
func xmlSlideText(b []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false

	var fragments []string
	var cur strings.Builder
	inRun := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if isRunElement(t.Name) {
				inRun = true
				cur.Reset()
			}
		case xml.CharData:
			if inRun {
				cur.Write(t)
			}
		case xml.EndElement:
			if inRun && isRunElement(t.Name) {
				inRun = false
				if f := strings.TrimSpace(cur.String()); f != "" {
					fragments = append(fragments, f)
				}
			}
		}
	}
	return strings.Join(fragments, " "), nil
}

func isRunElement(n xml.Name) bool {
	return n.Local == "t" && (n.Space == drawingMLNamespace || n.Space == "a")
}
