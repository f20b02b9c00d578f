package office

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

const maxListedSheets = 50

// SpreadsheetExtractor returns a metadata summary for .xls and .xlsx. Cell
// contents are not extracted.
type SpreadsheetExtractor struct {
	logger *zap.Logger
}

func NewSpreadsheet(logger *zap.Logger) *SpreadsheetExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpreadsheetExtractor{logger: logger}
}

func (e *SpreadsheetExtractor) Name() string { return "document/spreadsheet" }

func (e *SpreadsheetExtractor) Formats() []extract.Format {
	return []extract.Format{extract.FormatXLS, extract.FormatXLSX}
}

type workbookSummary struct {
	sheets   []string
	title    string
	creator  string
	modified string
	note     string
}

func (e *SpreadsheetExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	var sum workbookSummary
	if isCompoundFile(job.Bytes) {
		sum = e.compoundSummary(job)
	} else {
		sum = e.workbookSummary(job)
	}

	res := extract.Result{
		Text:   spreadsheetText(job.Document, job.Format, sum),
		Method: extract.MethodMetadataOnly,
	}
	if len(sum.sheets) > 0 {
		res.SourceCount = extract.Count(len(sum.sheets))
	}
	return res, nil
}

func (e *SpreadsheetExtractor) workbookSummary(job extract.Job) (sum workbookSummary) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("workbook reader panicked", zap.String("file", job.Name), zap.Any("panic", r))
			sum = workbookSummary{note: "The workbook structure could not be read."}
		}
	}()

	f, err := excelize.OpenReader(bytes.NewReader(job.Bytes))
	if err != nil {
		e.logger.Debug("workbook open failed", zap.String("file", job.Name), zap.Error(err))
		if isPasswordMessage(err.Error()) {
			return workbookSummary{note: "The workbook is password protected."}
		}
		return workbookSummary{note: "The workbook structure could not be read; the file may be damaged."}
	}
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Debug("workbook close failed", zap.Error(err))
		}
	}()

	sum.sheets = f.GetSheetList()
	if props, err := f.GetDocProps(); err == nil && props != nil {
		sum.title = strings.TrimSpace(props.Title)
		sum.creator = strings.TrimSpace(props.Creator)
		sum.modified = strings.TrimSpace(props.Modified)
	}
	if job.Format == extract.FormatXLS {
		sum.note = "The file has an .xls name but contains a modern workbook."
	}
	return sum
}

func (e *SpreadsheetExtractor) compoundSummary(job extract.Job) workbookSummary {
	info, err := inspectContainer(job.Bytes)
	if err != nil {
		e.logger.Debug("compound container unreadable", zap.String("file", job.Name), zap.Error(err))
		return workbookSummary{note: "The workbook structure could not be read; the file may be damaged."}
	}
	if info.Encrypted {
		return workbookSummary{note: "The workbook is password protected."}
	}
	sum := workbookSummary{}
	if len(info.Streams) > 0 {
		sum.note = "Container streams: " + strings.Join(info.Streams, ", ")
	}
	return sum
}

func spreadsheetText(doc extract.Document, f extract.Format, sum workbookSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Spreadsheet: %q\n", displayName(doc.Name))
	fmt.Fprintf(&sb, "Format: %s\n", f.Label())
	fmt.Fprintf(&sb, "Size: %s\n", extract.HumanSize(doc.Size()))

	switch {
	case !doc.LastModified.IsZero():
		fmt.Fprintf(&sb, "Last modified: %s\n", doc.LastModified.UTC().Format(time.RFC3339))
	case sum.modified != "":
		fmt.Fprintf(&sb, "Last modified: %s\n", sum.modified)
	}
	if sum.title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", sum.title)
	}
	if sum.creator != "" {
		fmt.Fprintf(&sb, "Author: %s\n", sum.creator)
	}
	if n := len(sum.sheets); n > 0 {
		shown := sum.sheets
		if n > maxListedSheets {
			shown = shown[:maxListedSheets]
		}
		fmt.Fprintf(&sb, "Sheets (%d): %s\n", n, strings.Join(shown, ", "))
	}
	if sum.note != "" {
		sb.WriteString(sum.note + "\n")
	}

	sb.WriteString("\nSpreadsheet cell contents are not extracted as text; only file details are recorded.")
	if f == extract.FormatXLS {
		conv := conversions[extract.FormatXLS]
		fmt.Fprintf(&sb, " This file uses the older binary Excel format. Saving it as %s in %s keeps it compatible with future processing.",
			conv.target, conv.app)
	}
	return sb.String()
}

func isPasswordMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}
