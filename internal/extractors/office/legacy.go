package office

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

type conversion struct {
	app    string
	target string
}

var conversions = map[extract.Format]conversion{
	extract.FormatDOC: {app: "Microsoft Word, LibreOffice Writer or Google Docs", target: "Word Document (.docx)"},
	extract.FormatPPT: {app: "Microsoft PowerPoint, LibreOffice Impress or Google Slides", target: "PowerPoint Presentation (.pptx)"},
	extract.FormatXLS: {app: "Microsoft Excel, LibreOffice Calc or Google Sheets", target: "Excel Workbook (.xlsx)"},
}

// LegacyExtractor handles .doc and .ppt. The compound binary formats are not
// parsed; the modern reader is tried in case the file is mislabeled, and an
// advisory is returned otherwise.
type LegacyExtractor struct {
	docx   *DOCXExtractor
	pptx   *PPTXExtractor
	logger *zap.Logger
}

func NewLegacy(docx *DOCXExtractor, pptx *PPTXExtractor, logger *zap.Logger) *LegacyExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacyExtractor{docx: docx, pptx: pptx, logger: logger}
}

func (e *LegacyExtractor) Name() string { return "document/legacy-office" }

func (e *LegacyExtractor) Formats() []extract.Format {
	return []extract.Format{extract.FormatDOC, extract.FormatPPT}
}

func (e *LegacyExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	if res, ok := e.tryModern(ctx, job); ok {
		e.logger.Info("legacy extension held modern content", zap.String("file", job.Name), zap.String("format", string(job.Format)))
		return res, nil
	}

	if !isCompoundFile(job.Bytes) {
		return legacyResult(job.Document, job.Format, nil), nil
	}
	info, err := inspectContainer(job.Bytes)
	if err != nil {
		e.logger.Debug("compound container unreadable", zap.String("file", job.Name), zap.Error(err))
		return legacyResult(job.Document, job.Format, nil), nil
	}
	if info.Encrypted {
		return extract.Result{}, fmt.Errorf("%w: encrypted package inside compound file", extract.ErrPasswordProtected)
	}
	return legacyResult(job.Document, job.Format, &info), nil
}

func (e *LegacyExtractor) tryModern(ctx context.Context, job extract.Job) (extract.Result, bool) {
	if isCompoundFile(job.Bytes) {
		return extract.Result{}, false
	}
	switch job.Format {
	case extract.FormatDOC:
		if e.docx == nil {
			return extract.Result{}, false
		}
		text, err := e.docx.pull(job.Bytes)
		if err != nil || text == "" {
			return extract.Result{}, false
		}
		return extract.Result{Text: text, Method: extract.MethodEmbedded}, true
	case extract.FormatPPT:
		if e.pptx == nil {
			return extract.Result{}, false
		}
		text, total, err := e.pptx.slides(ctx, job.Bytes)
		if err != nil || total == 0 {
			return extract.Result{}, false
		}
		return extract.Result{Text: text, Method: extract.MethodEmbedded, SourceCount: extract.Count(total)}, true
	}
	return extract.Result{}, false
}

func legacyResult(doc extract.Document, f extract.Format, info *compoundInfo) extract.Result {
	return extract.Result{Text: legacyAdvisory(doc, f, info), Method: extract.MethodMetadataOnly}
}

// legacyAdvisory describes a legacy binary file and how to convert it.
func legacyAdvisory(doc extract.Document, f extract.Format, info *compoundInfo) string {
	conv, ok := conversions[f]
	if !ok {
		conv = conversions[extract.FormatDOC]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Legacy %s: %q\n", f.Label(), displayName(doc.Name))
	fmt.Fprintf(&sb, "Size: %s\n", extract.HumanSize(doc.Size()))
	if !doc.LastModified.IsZero() {
		fmt.Fprintf(&sb, "Last modified: %s\n", doc.LastModified.UTC().Format(time.RFC3339))
	}
	if info != nil {
		if info.Content != "" && info.Content != f {
			fmt.Fprintf(&sb, "Note: the file content looks like a %s.\n", info.Content.Label())
		}
		if len(info.Streams) > 0 {
			fmt.Fprintf(&sb, "Container streams: %s\n", strings.Join(info.Streams, ", "))
		}
	}

	sb.WriteString("\nThis file uses the older binary Office format, which cannot be read reliably for text extraction, ")
	sb.WriteString("so its content is not available for search or chat.\n\n")
	sb.WriteString("To make the content available:\n")
	fmt.Fprintf(&sb, "1. Open the file in %s.\n", conv.app)
	fmt.Fprintf(&sb, "2. Choose File > Save As and select %s, or export the file to PDF.\n", conv.target)
	sb.WriteString("3. Upload the converted file.")
	return sb.String()
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "untitled"
	}
	return name
}
