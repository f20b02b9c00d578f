package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when no OCR backend is configured.
var ErrUnavailable = errors.New("OCR engine not configured")

// Image is one rasterized page handed to an engine.
type Image struct {
	Data     []byte
	MIMEType string
	Page     int
}

// Engine recognizes text in a bitmap.
type Engine interface {
	Recognize(ctx context.Context, img Image) (string, error)
	Name() string
}

// Config selects and tunes the OCR backend.
type Config struct {
	// Provider is "mistral", "tesseract" or "none".
	Provider string

	MistralAPIKey   string
	MistralModel    string
	MistralEndpoint string
	RequestTimeout  time.Duration

	TesseractBinary   string
	TesseractLanguage string

	// MaxConcurrent caps in-flight recognitions across all extractions.
	MaxConcurrent int64
}

// New builds the configured engine wrapped in a concurrency limiter.
// Provider "none" (or empty) yields ErrUnavailable.
func New(cfg Config, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var e Engine
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "mistral":
		if strings.TrimSpace(cfg.MistralAPIKey) == "" {
			return nil, fmt.Errorf("mistral OCR: API key not configured")
		}
		e = NewMistral(MistralConfig{
			APIKey:   cfg.MistralAPIKey,
			Model:    cfg.MistralModel,
			Endpoint: cfg.MistralEndpoint,
			Timeout:  cfg.RequestTimeout,
		}, logger)
	case "tesseract":
		t := NewTesseract(cfg.TesseractBinary, cfg.TesseractLanguage, logger)
		if !t.Available() {
			return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, t.binary)
		}
		e = t
	case "", "none":
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unknown OCR provider %q", cfg.Provider)
	}

	return WithLimit(e, cfg.MaxConcurrent), nil
}
