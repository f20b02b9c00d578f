package extract

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Format is the detected document format that drives dispatch.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatTXT         Format = "txt"
	FormatDOC         Format = "doc"
	FormatDOCX        Format = "docx"
	FormatPPT         Format = "ppt"
	FormatPPTX        Format = "pptx"
	FormatXLS         Format = "xls"
	FormatXLSX        Format = "xlsx"
	FormatUnsupported Format = "unsupported"
)

// Legacy reports whether f is a pre-XML compound binary Office format.
func (f Format) Legacy() bool {
	return f == FormatDOC || f == FormatPPT || f == FormatXLS
}

// Document is one uploaded file. It is never modified by the engine.
type Document struct {
	Bytes        []byte
	Name         string
	MIMEType     string
	LastModified time.Time
}

// Size returns the byte length of the document.
func (d Document) Size() int64 { return int64(len(d.Bytes)) }

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".txt":  FormatTXT,
	".doc":  FormatDOC,
	".docx": FormatDOCX,
	".ppt":  FormatPPT,
	".pptx": FormatPPTX,
	".xls":  FormatXLS,
	".xlsx": FormatXLSX,
}

var mimeFormats = map[string]Format{
	"application/pdf":    FormatPDF,
	"text/plain":         FormatTXT,
	"application/msword": FormatDOC,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/vnd.ms-powerpoint":                                             FormatPPT,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.ms-excel":                                                  FormatXLS,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
}

// supportedList is the user-facing enumeration used in unsupported notices.
var supportedList = []string{
	"PDF (.pdf)",
	"Word (.docx, .doc)",
	"PowerPoint (.pptx, .ppt)",
	"Excel (.xlsx, .xls)",
	"Plain text (.txt)",
}

// SupportedFormats lists the accepted formats in display form.
func SupportedFormats() []string {
	out := make([]string, len(supportedList))
	copy(out, supportedList)
	return out
}

// Classify maps a declared name and content type to a Format.
// The extension wins; the MIME type is only consulted when the extension
// is missing or unknown.
func Classify(name, mimeType string) Format {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(name)))
	if f, ok := extensionFormats[ext]; ok {
		return f
	}
	if f, ok := mimeFormats[baseMIME(mimeType)]; ok {
		return f
	}
	return FormatUnsupported
}

// DocumentType classifies a document. When the name carries no extension and
// the declared type does not resolve, the content itself is sniffed.
func DocumentType(doc Document) Format {
	f := Classify(doc.Name, doc.MIMEType)
	if f != FormatUnsupported || filepath.Ext(strings.TrimSpace(doc.Name)) != "" {
		return f
	}
	return sniffFormat(doc.Bytes)
}

// IsSupportedDocument reports whether Extract has a handler for doc.
func IsSupportedDocument(doc Document) bool {
	return DocumentType(doc) != FormatUnsupported
}

func sniffFormat(b []byte) Format {
	if len(b) == 0 {
		return FormatUnsupported
	}
	for m := mimetype.Detect(b); m != nil; m = m.Parent() {
		if f, ok := mimeFormats[baseMIME(m.String())]; ok {
			return f
		}
	}
	return FormatUnsupported
}

func baseMIME(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// IsLegacyMIME reports whether mt declares one of the compound binary formats.
func IsLegacyMIME(mt string) bool {
	f, ok := mimeFormats[baseMIME(mt)]
	return ok && f.Legacy()
}
