package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/toricodesthings/document-extraction-service/internal/config"
	"github.com/toricodesthings/document-extraction-service/internal/extract"
	"github.com/toricodesthings/document-extraction-service/internal/pipeline"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.RateLimitBurst = 1000
	cfg.ExtractTimeout = 10 * time.Second
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) *server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return newServer(cfg, pipeline.NewWithComponents(pipeline.Components{}, cfg, logger), logger)
}

func post(t *testing.T, h http.Handler, target, name, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if name != "" {
		req.Header.Set("X-File-Name", name)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) extract.Result {
	t.Helper()
	var res extract.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return res
}

func TestExtractPlainText(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, testConfig()).routes()
	rec := post(t, h, "/extract", "notes.txt", "hello\r\nworld", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if res.Method != extract.MethodEmbedded || res.Format != extract.FormatTXT {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Text, "hello\nworld") {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestExtractEscapedFileName(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, testConfig()).routes()
	rec := post(t, h, "/extract", "Q3%20report.txt", "numbers", nil)
	res := decodeResult(t, rec)
	if res.Format != extract.FormatTXT {
		t.Fatalf("expected txt, got %q", res.Format)
	}
}

func TestExtractUnsupportedStillOK(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, testConfig()).routes()
	rec := post(t, h, "/extract", "photo.png", "\x89PNG", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Method != extract.MethodUnsupported {
		t.Fatalf("expected unsupported, got %q", res.Method)
	}
}

func TestExtractOversizedBodyReachesEngine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxUploadBytes = 8
	h := newTestServer(t, cfg).routes()

	rec := post(t, h, "/extract", "big.txt", strings.Repeat("a", 64), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Method != extract.MethodFailed || !strings.Contains(res.Text, "too large") {
		t.Fatalf("expected too-large notice, got %+v", res)
	}
}

func TestExtractRequiresPost(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, testConfig()).routes()
	req := httptest.NewRequest(http.MethodGet, "/extract", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", rec.Header().Get("Allow"))
	}
}

func TestInternalAuth(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InternalSharedSecret = strings.Repeat("s", 32)
	h := newTestServer(t, cfg).routes()

	if rec := post(t, h, "/extract", "a.txt", "x", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}
	if rec := post(t, h, "/extract", "a.txt", "x", map[string]string{"X-Internal-Auth": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}
	if rec := post(t, h, "/extract", "a.txt", "x", map[string]string{"X-Internal-Auth": cfg.InternalSharedSecret}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with secret, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RateLimitBurst = 2
	cfg.RateLimitEvery = time.Hour
	h := newTestServer(t, cfg).routes()

	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}
	for i := 0; i < 2; i++ {
		if rec := post(t, h, "/extract", "a.txt", "x", hdr); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := post(t, h, "/extract", "a.txt", "x", hdr)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	other := post(t, h, "/extract", "a.txt", "x", map[string]string{"X-Forwarded-For": "198.51.100.1"})
	if other.Code != http.StatusOK {
		t.Fatalf("other clients must not share a limiter, got %d", other.Code)
	}
}

type recordingEngine struct {
	mu       sync.Mutex
	forceOCR []bool
	names    []string
}

func (e *recordingEngine) Extract(_ context.Context, doc extract.Document, forceOCR bool) extract.Result {
	e.mu.Lock()
	e.forceOCR = append(e.forceOCR, forceOCR)
	e.names = append(e.names, doc.Name)
	e.mu.Unlock()
	return extract.Result{Text: "ok", Method: extract.MethodOCRMixed, Truncated: true}
}

func (e *recordingEngine) IsSupported(extract.Document) bool { return true }

func TestForceOCRQueryAndMetrics(t *testing.T) {
	t.Parallel()

	eng := &recordingEngine{}
	s := newServer(testConfig(), eng, zaptest.NewLogger(t))
	h := s.routes()

	post(t, h, "/extract?forceOcr=true", "scan.pdf", "%PDF", nil)
	post(t, h, "/extract?name=plain.pdf", "", "%PDF", nil)

	eng.mu.Lock()
	if len(eng.forceOCR) != 2 || !eng.forceOCR[0] || eng.forceOCR[1] {
		t.Fatalf("unexpected forceOCR flags: %v", eng.forceOCR)
	}
	if eng.names[1] != "plain.pdf" {
		t.Fatalf("expected name from query, got %q", eng.names[1])
	}
	eng.mu.Unlock()

	snap := s.metrics.snapshot()
	if snap.total != 2 || snap.active != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.byMethod[string(extract.MethodOCRMixed)] != 2 || snap.truncated != 2 {
		t.Fatalf("unexpected method counts: %+v", snap)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, testConfig()).routes()

	cases := []struct {
		name      string
		body      string
		format    extract.Format
		supported bool
	}{
		{name: "deck.pptx", body: "", format: extract.FormatPPTX, supported: true},
		{name: "old.xls", body: "", format: extract.FormatXLS, supported: true},
		{name: "song.mp3", body: "", format: extract.FormatUnsupported, supported: false},
	}
	for _, tc := range cases {
		rec := post(t, h, "/classify", tc.name, tc.body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.name, rec.Code)
		}
		var out struct {
			Format    extract.Format `json:"format"`
			Supported bool           `json:"supported"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if out.Format != tc.format || out.Supported != tc.supported {
			t.Fatalf("%s: got %+v", tc.name, out)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	s := newServer(testConfig(), &recordingEngine{}, zaptest.NewLogger(t))
	h := s.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestLastModifiedHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.Header.Set("X-Last-Modified", "2024-03-01T10:00:00Z")
	if got := lastModified(req); got.IsZero() || got.Year() != 2024 {
		t.Fatalf("expected parsed time, got %v", got)
	}

	req.Header.Set("X-Last-Modified", "yesterday")
	if got := lastModified(req); !got.IsZero() {
		t.Fatalf("expected zero time for junk, got %v", got)
	}
}
