// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Debug bool `yaml:"debug"`

	// Server
	Port                 string `yaml:"port"`
	InternalSharedSecret string `yaml:"internal_shared_secret"`

	// Limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxChars       int   `yaml:"max_chars"`

	// Concurrency
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests"`
	MaxConnections        int   `yaml:"max_connections"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ExtractTimeout    time.Duration `yaml:"extract_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// rate limiting (per IP)
	RateLimitEvery  time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// PDF
	PDFMaxTextPages int           `yaml:"pdf_max_text_pages"`
	PDFMaxOCRPages  int           `yaml:"pdf_max_ocr_pages"`
	PDFRenderScale  float64       `yaml:"pdf_render_scale"`
	PDFOCRWorkers   int           `yaml:"pdf_ocr_workers"`
	PDFPageTimeout  time.Duration `yaml:"pdf_page_timeout"`
	PDFToPPMBinary  string        `yaml:"pdftoppm_binary"`
	PDFToPPMTimeout time.Duration `yaml:"pdftoppm_timeout"`
	PPTXMaxSlides   int           `yaml:"pptx_max_slides"`

	// OCR
	OCRProvider       string        `yaml:"ocr_provider"`
	MistralAPIKey     string        `yaml:"mistral_api_key"`
	MistralModel      string        `yaml:"mistral_model"`
	MistralEndpoint   string        `yaml:"mistral_endpoint"`
	OCRRequestTimeout time.Duration `yaml:"ocr_request_timeout"`
	MaxOCRConcurrent  int64         `yaml:"max_ocr_concurrent"`
	TesseractBinary   string        `yaml:"tesseract_binary"`
	TesseractLanguage string        `yaml:"tesseract_language"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Port: "8080",

		MaxUploadBytes: 50 << 20,
		MaxChars:       10000,

		MaxConcurrentRequests: 15,
		MaxConnections:        256,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      360 * time.Second,
		IdleTimeout:       60 * time.Second,
		ExtractTimeout:    300 * time.Second,
		MaxHeaderBytes:    1 << 20,

		RateLimitEvery:  600 * time.Millisecond,
		RateLimitBurst:  20,
		CleanupInterval: 5 * time.Minute,

		PDFMaxTextPages: 10,
		PDFMaxOCRPages:  5,
		PDFRenderScale:  2.0,
		PDFOCRWorkers:   2,
		PDFPageTimeout:  60 * time.Second,
		PDFToPPMBinary:  "pdftoppm",
		PDFToPPMTimeout: 30 * time.Second,
		PPTXMaxSlides:   20,

		OCRProvider:       "none",
		MistralModel:      "mistral-ocr-latest",
		MistralEndpoint:   "https://api.mistral.ai/v1/ocr",
		OCRRequestTimeout: 45 * time.Second,
		MaxOCRConcurrent:  3,
		TesseractBinary:   "tesseract",
		TesseractLanguage: "eng",
	}
}

// Load starts from Defaults, applies the YAML file named by CONFIG_FILE if
// set, then environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := envStr("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Debug = envBool("DEBUG", c.Debug)

	c.Port = envStr("PORT", c.Port)
	c.InternalSharedSecret = envStr("INTERNAL_SHARED_SECRET", c.InternalSharedSecret)

	c.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.MaxChars = envInt("MAX_CHARS", c.MaxChars)

	c.MaxConcurrentRequests = int64(envInt("MAX_CONCURRENT_REQUESTS", int(c.MaxConcurrentRequests)))
	c.MaxConnections = envInt("MAX_CONNECTIONS", c.MaxConnections)

	c.ReadHeaderTimeout = envDur("READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = envDur("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = envDur("WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = envDur("IDLE_TIMEOUT", c.IdleTimeout)
	c.ExtractTimeout = envDur("EXTRACT_TIMEOUT", c.ExtractTimeout)
	c.MaxHeaderBytes = envInt("MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.RateLimitEvery = envDur("RATE_LIMIT_EVERY", c.RateLimitEvery)
	c.RateLimitBurst = envInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.CleanupInterval = envDur("CLEANUP_INTERVAL", c.CleanupInterval)

	c.PDFMaxTextPages = envInt("PDF_MAX_TEXT_PAGES", c.PDFMaxTextPages)
	c.PDFMaxOCRPages = envInt("PDF_MAX_OCR_PAGES", c.PDFMaxOCRPages)
	c.PDFRenderScale = envFloat("PDF_RENDER_SCALE", c.PDFRenderScale)
	c.PDFOCRWorkers = envInt("PDF_OCR_WORKERS", c.PDFOCRWorkers)
	c.PDFPageTimeout = envDur("PDF_PAGE_TIMEOUT", c.PDFPageTimeout)
	c.PDFToPPMBinary = envStr("PDFTOPPM_BINARY", c.PDFToPPMBinary)
	c.PDFToPPMTimeout = envDur("PDFTOPPM_TIMEOUT", c.PDFToPPMTimeout)
	c.PPTXMaxSlides = envInt("PPTX_MAX_SLIDES", c.PPTXMaxSlides)

	c.OCRProvider = envStr("OCR_PROVIDER", c.OCRProvider)
	c.MistralAPIKey = envStr("MISTRAL_API_KEY", c.MistralAPIKey)
	c.MistralModel = envStr("MISTRAL_OCR_MODEL", c.MistralModel)
	c.MistralEndpoint = envStr("MISTRAL_OCR_ENDPOINT", c.MistralEndpoint)
	c.OCRRequestTimeout = envDur("OCR_REQUEST_TIMEOUT", c.OCRRequestTimeout)
	c.MaxOCRConcurrent = int64(envInt("MAX_OCR_CONCURRENT", int(c.MaxOCRConcurrent)))
	c.TesseractBinary = envStr("TESSERACT_BINARY", c.TesseractBinary)
	c.TesseractLanguage = envStr("TESSERACT_LANGUAGE", c.TesseractLanguage)
}

func (c Config) Validate() error {
	var errs []error
	if s := strings.TrimSpace(c.InternalSharedSecret); s != "" && len(s) < 32 {
		errs = append(errs, fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters"))
	}
	if c.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("max_chars must be positive"))
	}
	if c.PDFOCRWorkers > 3 {
		errs = append(errs, fmt.Errorf("pdf_ocr_workers must be at most 3, got %d", c.PDFOCRWorkers))
	}
	switch strings.ToLower(strings.TrimSpace(c.OCRProvider)) {
	case "", "none", "tesseract":
	case "mistral":
		if strings.TrimSpace(c.MistralAPIKey) == "" {
			errs = append(errs, fmt.Errorf("MISTRAL_API_KEY is required when OCR_PROVIDER=mistral"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OCR_PROVIDER %q", c.OCRProvider))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
