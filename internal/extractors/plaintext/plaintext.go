package plaintext

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// Extractor decodes plain text. A UTF-16 or UTF-8 byte order mark selects the
// encoding; everything else is read as UTF-8 with invalid bytes replaced.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string { return "text" }

func (e *Extractor) Formats() []extract.Format { return []extract.Format{extract.FormatTXT} }

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	text, err := decode(job.Bytes)
	if err != nil {
		return extract.Result{}, fmt.Errorf("decode text: %w", err)
	}
	text = normalizeNewlines(text)

	if strings.TrimSpace(text) == "" {
		return extract.Result{
			Text:   fmt.Sprintf("The text file %q contains only whitespace.", job.Name),
			Method: extract.MethodFailed,
		}, nil
	}
	return extract.Result{Text: text, Method: extract.MethodEmbedded}, nil
}

func decode(b []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
