package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the output budget. Extracted text is embedded in chat
// prompts downstream, which have their own size limits.
const DefaultMaxChars = 10000

var (
	invisibleChars  = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\u00ad", "", "\x00", "")
	horizontalSpace = regexp.MustCompile(`[^\S\n]+`)
	spaceAtBreak    = regexp.MustCompile(` ?\n ?`)
	blankLineRuns   = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses whitespace runs to one space, blank-line runs to a
// single blank line, and trims the ends.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = invisibleChars.Replace(s)
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAtBreak.ReplaceAllString(s, "\n")
	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// EnforceBudget cuts text to maxChars characters and appends a notice stating
// the original length (and page count when pages is non-nil). It returns the
// possibly shortened text, whether it was cut, and the original length.
func EnforceBudget(text string, maxChars int, pages *int) (string, bool, int) {
	total := utf8.RuneCountInString(text)
	if maxChars <= 0 || total <= maxChars {
		return text, false, total
	}

	cut := 0
	for i := range text {
		if cut == maxChars {
			text = text[:i]
			break
		}
		cut++
	}
	return text + TruncationNotice(total, maxChars, pages), true, total
}

// TruncateRunes shortens s to at most max runes, marking the cut with "...".
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// TruncationNotice is the suffix appended by EnforceBudget.
func TruncationNotice(total, shown int, pages *int) string {
	if pages != nil {
		return fmt.Sprintf("\n\n[Content truncated: showing the first %d of %d characters from a %d-page document.]", shown, total, *pages)
	}
	return fmt.Sprintf("\n\n[Content truncated: showing the first %d of %d characters.]", shown, total)
}

// Finalize normalizes res.Text and applies the budget. It is the last step
// for every Result the Engine returns.
func Finalize(res Result, maxChars int) Result {
	text := Normalize(res.Text)

	var pages *int
	if res.Format == FormatPDF {
		pages = res.SourceCount
	}
	res.Text, res.Truncated, res.OriginalLength = EnforceBudget(text, maxChars, pages)
	return res
}
