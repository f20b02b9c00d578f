package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages     []ocrPage `json:"pages"`
	Model     string    `json:"model"`
	UsageInfo struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
}

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageFileLine = regexp.MustCompile(`(?i)^[\w-]*(?:img|image|figure|fig|photo|pic)[\w-]*\.(?:jpe?g|png|gif|webp|svg|bmp|tiff?)$`)
)

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const (
	defaultMistralURL   = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
	maxRetries          = 2
	retryDelay          = 2 * time.Second
	defaultTimeout      = 120 * time.Second
	maxResponseBytes    = 32 << 20
)

type MistralConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Mistral sends page images to the Mistral OCR API as base64 data URIs.
type Mistral struct {
	cfg        MistralConfig
	client     *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewMistral(cfg MistralConfig, logger *zap.Logger) *Mistral {
	if cfg.Model == "" {
		cfg.Model = defaultMistralModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultMistralURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mistral{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (m *Mistral) Name() string { return "mistral" }

func (m *Mistral) Recognize(ctx context.Context, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty image for page %d", img.Page)
	}
	mt := img.MIMEType
	if mt == "" {
		mt = "image/png"
	}

	body := map[string]any{
		"model": m.cfg.Model,
		"document": map[string]any{
			"type":      "image_url",
			"image_url": "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := m.execute(ctx, bodyBytes)
		if err == nil {
			m.logger.Debug("mistral OCR page done",
				zap.Int("page", img.Page),
				zap.String("model", resp.Model),
				zap.Int("pagesProcessed", resp.UsageInfo.PagesProcessed),
			)
			return joinPages(resp), nil
		}
		lastErr = err

		// Client errors will not improve on retry.
		if isClientError(err) || ctx.Err() != nil {
			break
		}
		m.logger.Debug("mistral OCR attempt failed",
			zap.Int("page", img.Page), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return "", fmt.Errorf("mistral OCR page %d: %w", img.Page, lastErr)
}

func (m *Mistral) execute(ctx context.Context, bodyBytes []byte) (ocrResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return ocrResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docextract/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return ocrResponse{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ocrResponse{}, parseErrorResponse(resp)
	}

	var result ocrResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return ocrResponse{}, fmt.Errorf("decode: %w", err)
	}
	if len(result.Pages) == 0 {
		return ocrResponse{}, fmt.Errorf("OCR returned no pages")
	}
	return result, nil
}

func joinPages(resp ocrResponse) string {
	parts := make([]string, 0, len(resp.Pages))
	for _, p := range resp.Pages {
		md := pageText(p.Markdown)
		if md == "" || md == "." {
			continue
		}
		parts = append(parts, md)
	}
	return strings.Join(parts, "\n\n")
}

// pageText drops the image references Mistral embeds in its markdown, along
// with bare image file names and the lines they leave empty.
func pageText(md string) string {
	lines := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		kept := strings.TrimRight(markdownImage.ReplaceAllString(line, ""), " \t")
		trimmed := strings.TrimSpace(kept)
		if trimmed == "" && strings.TrimSpace(line) != "" {
			continue
		}
		if imageFileLine.MatchString(trimmed) {
			continue
		}
		out = append(out, kept)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp mistralErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errResp.Error.Message,
			Type:       errResp.Error.Type,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(bodyBytes)),
		Type:       "unknown",
	}
}

// APIError is a non-2xx answer from the OCR API.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mistral OCR %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

func isClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
