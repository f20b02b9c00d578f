package extract

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  a   b\t\tc  ", "a b c"},
		{"line one  \n\n\n\n  line two", "line one\n\nline two"},
		{"a\r\nb\rc", "a\nb\nc"},
		{"zero\u200bwidth\ufeff", "zerowidth"},
		{"\n\n\t \n", ""},
		{"keep\n\nsingle blank", "keep\n\nsingle blank"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEnforceBudgetUnderLimit(t *testing.T) {
	text, cut, total := EnforceBudget("short", 10, nil)
	if text != "short" || cut || total != 5 {
		t.Fatalf("unexpected %q %v %d", text, cut, total)
	}
}

func TestEnforceBudgetCutsOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("é", 30)
	text, cut, total := EnforceBudget(in, 20, nil)
	if !cut || total != 30 {
		t.Fatalf("expected cut with total 30, got %v %d", cut, total)
	}
	if !utf8.ValidString(text) {
		t.Fatalf("cut produced invalid UTF-8")
	}
	if !strings.HasPrefix(text, strings.Repeat("é", 20)+"\n\n[Content truncated") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestTruncationNoticeWithPages(t *testing.T) {
	pages := 42
	n := TruncationNotice(25000, 10000, &pages)
	if !strings.Contains(n, "25000") || !strings.Contains(n, "42-page") {
		t.Fatalf("unexpected notice %q", n)
	}
}

func TestFinalizePagesOnlyForPDF(t *testing.T) {
	long := strings.Repeat("x", 50)
	res := Finalize(Result{Text: long, Format: FormatPPTX, SourceCount: Count(3)}, 10)
	if strings.Contains(res.Text, "page document") {
		t.Fatalf("slide count must not be reported as pages: %q", res.Text)
	}
	res = Finalize(Result{Text: long, Format: FormatPDF, SourceCount: Count(3)}, 10)
	if !res.Truncated || !strings.Contains(res.Text, "3-page document") || res.OriginalLength != 50 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTruncateRunesKeepsUTF8(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"café crème", 4, "café..."},
		{"日本語のエラー", 2, "日本..."},
		{"anything", 0, "anything"},
	}
	for _, c := range cases {
		got := TruncateRunes(c.in, c.max)
		if got != c.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("TruncateRunes(%q, %d) produced invalid UTF-8", c.in, c.max)
		}
	}
}

func TestFailureNoticeCutsOnRuneBoundary(t *testing.T) {
	msg := strings.Repeat("é", 400)
	notice := FailureNotice(Document{Name: "résumé.pdf", Bytes: []byte("x")}, FormatPDF, errors.New(msg))
	if !utf8.ValidString(notice) {
		t.Fatalf("notice is not valid UTF-8")
	}
	if strings.Count(notice, "é") > 300+2 {
		t.Fatalf("error detail was not shortened")
	}
}
