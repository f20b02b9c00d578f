package pdf

import (
	"strings"
	"unicode/utf8"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

const (
	// TrustThreshold is the embedded character count a page must exceed for
	// its text layer to be used as-is.
	TrustThreshold = 50
	// MinDocumentChars is the cumulative trusted text below which the whole
	// document is treated as scanned.
	MinDocumentChars = 100
)

// Assess applies the scan heuristic to one page's embedded text.
func Assess(page int, text string, images int) extract.PageAssessment {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	return extract.PageAssessment{
		PageNumber:    page,
		EmbeddedChars: n,
		Trusted:       n > TrustThreshold,
		ImageCount:    images,
	}
}

// NeedsOCR decides whether the text pass is discarded in favour of OCR.
func NeedsOCR(pages []extract.PageAssessment, cumulativeChars int, force bool) bool {
	if force || cumulativeChars < MinDocumentChars {
		return true
	}
	for _, p := range pages {
		if !p.Trusted {
			return true
		}
	}
	return false
}
