package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/toricodesthings/document-extraction-service/internal/config"
	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// healthDegradeRatio is the share of request slots in use at which /health
// starts reporting degraded.
const healthDegradeRatio = 0.9

// documentEngine is the part of *extract.Engine the handlers use.
type documentEngine interface {
	Extract(ctx context.Context, doc extract.Document, forceOCR bool) extract.Result
	IsSupported(doc extract.Document) bool
}

type server struct {
	cfg    config.Config
	engine documentEngine
	logger *zap.Logger

	requestSem *semaphore.Weighted
	limiters   atomic.Pointer[sync.Map]
	metrics    *serverMetrics
}

func newServer(cfg config.Config, engine documentEngine, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 1
	}
	s := &server{
		cfg:        cfg,
		engine:     engine,
		logger:     logger,
		requestSem: semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		metrics:    newServerMetrics(),
	}
	s.resetLimiters()
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.withInternalAuth(s.handleMetrics))

	mux.HandleFunc("/extract",
		s.withInternalAuth(
			s.withRateLimit(
				withMethod(http.MethodPost,
					s.withConcurrencyLimit(s.handleExtract)))))

	mux.HandleFunc("/classify",
		s.withInternalAuth(
			s.withRateLimit(
				withMethod(http.MethodPost, s.handleClassify))))

	return s.withLogging(s.withRecovery(mux))
}

// ---------- Metrics ----------

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
	truncated     int64
	byMethod      map[extract.Method]int64
}

type metricsSnapshot struct {
	total     int64
	active    int64
	truncated int64
	byMethod  map[string]int64
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{byMethod: make(map[extract.Method]int64)}
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}

func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}

func (m *serverMetrics) record(res extract.Result) {
	m.mu.Lock()
	m.byMethod[res.Method]++
	if res.Truncated {
		m.truncated++
	}
	m.mu.Unlock()
}

func (m *serverMetrics) snapshot() metricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := metricsSnapshot{
		total:     m.totalRequests,
		active:    m.activeReqs,
		truncated: m.truncated,
		byMethod:  make(map[string]int64, len(m.byMethod)),
	}
	for k, v := range m.byMethod {
		out.byMethod[string(k)] = v
	}
	return out
}

// ---------- Handlers ----------

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.snapshot()
	status := "healthy"
	code := http.StatusOK

	if snap.active >= int64(float64(s.cfg.MaxConcurrentRequests)*healthDegradeRatio) && snap.active > 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  snap.active,
		"version": version,
	})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	snap := s.metrics.snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"activeRequests":   snap.active,
		"totalRequests":    snap.total,
		"truncatedResults": snap.truncated,
		"resultsByMethod":  snap.byMethod,
		"goroutines":       runtime.NumGoroutine(),
		"memAllocMB":       m.Alloc / (1 << 20),
		"memSysMB":         m.Sys / (1 << 20),
	})
}

// handleExtract takes the raw document as the request body. The file name
// comes from X-File-Name (or ?name=), the declared type from Content-Type.
// Every readable request gets a 200 with a Result; problems with the
// document itself are described in the Result text.
func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readDocument(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "Could not read request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExtractTimeout)
	defer cancel()

	res := s.engine.Extract(ctx, doc, queryBool(r, "forceOcr"))
	s.metrics.record(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readDocument(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "Could not read request body")
		return
	}

	format := extract.DocumentType(doc)
	writeJSON(w, http.StatusOK, map[string]any{
		"format":           format,
		"label":            format.Label(),
		"supported":        s.engine.IsSupported(doc),
		"supportedFormats": extract.SupportedFormats(),
	})
}

// readDocument reads at most one byte past the upload limit so oversized
// documents still reach the engine and get a descriptive result.
func (s *server) readDocument(r *http.Request) (extract.Document, error) {
	var body []byte
	if r.Body != nil {
		limit := s.cfg.MaxUploadBytes
		reader := io.Reader(r.Body)
		if limit > 0 {
			reader = io.LimitReader(r.Body, limit+1)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return extract.Document{}, err
		}
		body = b
	}

	return extract.Document{
		Bytes:        body,
		Name:         fileName(r),
		MIMEType:     strings.TrimSpace(r.Header.Get("Content-Type")),
		LastModified: lastModified(r),
	}, nil
}

// ---------- Middleware ----------

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

// withInternalAuth checks X-Internal-Auth against the shared secret. With no
// secret configured every request passes.
func (s *server) withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	shared := strings.TrimSpace(s.cfg.InternalSharedSecret)
	return func(w http.ResponseWriter, r *http.Request) {
		if shared != "" {
			got := r.Header.Get("X-Internal-Auth")
			if subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
				return
			}
		}
		next(w, r)
	}
}

func (s *server) withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer s.requestSem.Release(1)

		s.metrics.incActive()
		defer s.metrics.decActive()

		next(w, r)
	}
}

func (s *server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limiter := s.rateLimiter(clientIP(r))
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", zap.Any("panic", err), zap.String("path", sanitizeLogString(r.URL.Path)))
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", sanitizeLogString(r.URL.Path)),
			zap.Int("status", ww.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func (s *server) resetLimiters() {
	s.limiters.Store(&sync.Map{})
}

func (s *server) rateLimiter(ip string) *rate.Limiter {
	limiters := s.limiters.Load()
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}

	every := s.cfg.RateLimitEvery
	if every <= 0 {
		every = 600 * time.Millisecond
	}
	burst := s.cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	v, _ := limiters.LoadOrStore(ip, rate.NewLimiter(rate.Every(every), burst))
	return v.(*rate.Limiter)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fileName(r *http.Request) string {
	name := strings.TrimSpace(r.Header.Get("X-File-Name"))
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("name"))
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

// lastModified accepts RFC 3339 or HTTP-date in X-Last-Modified.
func lastModified(r *http.Request) time.Time {
	v := strings.TrimSpace(r.Header.Get("X-Last-Modified"))
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := http.ParseTime(v); err == nil {
		return t
	}
	return time.Time{}
}

func queryBool(r *http.Request, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && b
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
