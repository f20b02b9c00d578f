package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PDF_MAX_OCR_PAGES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxChars != 10000 || cfg.PDFMaxTextPages != 10 || cfg.PDFMaxOCRPages != 5 || cfg.PPTXMaxSlides != 20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PDFRenderScale != 2.0 {
		t.Fatalf("expected render scale 2.0, got %v", cfg.PDFRenderScale)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "port: \"9090\"\nmax_chars: 5000\npdf_page_timeout: 15s\nocr_provider: tesseract\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_CHARS", "7000")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
	if cfg.MaxChars != 7000 {
		t.Fatalf("expected env to win, got %d", cfg.MaxChars)
	}
	if cfg.PDFPageTimeout != 15*time.Second {
		t.Fatalf("expected 15s page timeout, got %v", cfg.PDFPageTimeout)
	}
	if cfg.OCRProvider != "tesseract" {
		t.Fatalf("expected tesseract, got %q", cfg.OCRProvider)
	}
	// Untouched keys keep their defaults.
	if cfg.PDFMaxOCRPages != 5 {
		t.Fatalf("expected default OCR pages, got %d", cfg.PDFMaxOCRPages)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PDF_PAGE_TIMEOUT", "soon")
	t.Setenv("PDF_OCR_WORKERS", "-4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PDFPageTimeout != 60*time.Second || cfg.PDFOCRWorkers != 2 {
		t.Fatalf("invalid env should fall back, got %v / %d", cfg.PDFPageTimeout, cfg.PDFOCRWorkers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.OCRProvider = "mistral"
	cfg.InternalSharedSecret = "short"
	cfg.PDFOCRWorkers = 8

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"MISTRAL_API_KEY", "INTERNAL_SHARED_SECRET", "pdf_ocr_workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
