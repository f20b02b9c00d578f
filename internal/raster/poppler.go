// Package raster renders PDF pages to bitmaps for OCR.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// ErrUnavailable is returned when the rendering binary cannot be found.
var ErrUnavailable = errors.New("PDF rasterizer not available")

// Rasterizer prepares a PDF for page rendering.
type Rasterizer interface {
	Open(ctx context.Context, pdf []byte) (Renderer, error)
}

// Renderer renders pages of one opened PDF. Render may be called
// concurrently for different pages.
type Renderer interface {
	// Render returns the page (1-based) as PNG bytes at scale × 72 dpi.
	Render(ctx context.Context, page int, scale float64) ([]byte, error)
	Close() error
}

type Config struct {
	Binary  string
	Timeout time.Duration
	// MaxImageBytes rejects pathological renders.
	MaxImageBytes int64
}

func (c Config) withDefaults() Config {
	out := c
	if strings.TrimSpace(out.Binary) == "" {
		out.Binary = "pdftoppm"
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxImageBytes <= 0 {
		out.MaxImageBytes = 64 << 20
	}
	return out
}

// Poppler renders with poppler-utils' pdftoppm.
type Poppler struct {
	cfg    Config
	logger *zap.Logger
}

func NewPoppler(cfg Config, logger *zap.Logger) *Poppler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poppler{cfg: cfg.withDefaults(), logger: logger}
}

// Available reports whether pdftoppm is on PATH.
func (p *Poppler) Available() bool {
	_, err := exec.LookPath(p.cfg.Binary)
	return err == nil
}

// Open writes the PDF to a private temp dir so pdftoppm can seek in it.
func (p *Poppler) Open(ctx context.Context, pdf []byte) (Renderer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.Available() {
		return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, p.cfg.Binary)
	}

	dir, err := os.MkdirTemp("", "docextract-raster-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write: %w", err)
	}
	return &popplerDoc{p: p, dir: dir, path: path}, nil
}

type popplerDoc struct {
	p    *Poppler
	dir  string
	path string
}

func (d *popplerDoc) Close() error { return os.RemoveAll(d.dir) }

func (d *popplerDoc) Render(ctx context.Context, page int, scale float64) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page number: %d (must be >= 1)", page)
	}
	if scale <= 0 {
		scale = 1
	}
	dpi := int(math.Round(72 * scale))

	ctx, cancel := context.WithTimeout(ctx, d.p.cfg.Timeout)
	defer cancel()

	root := filepath.Join(d.dir, "page-"+strconv.Itoa(page))
	cmd := exec.CommandContext(ctx,
		d.p.cfg.Binary,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(dpi),
		"-png",
		"-singlefile",
		d.path,
		root,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, d.p.classifyErr(err, ctx, stderr.String(), page)
	}

	out := root + ".png"
	defer os.Remove(out)

	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d produced no image: %w", page, err)
	}
	if info.Size() > d.p.cfg.MaxImageBytes {
		return nil, fmt.Errorf("rendered page %d too large: %d bytes", page, info.Size())
	}
	return os.ReadFile(out)
}

func (p *Poppler) classifyErr(err error, ctx context.Context, stderr string, page int) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("pdftoppm timeout on page %d", page)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("pdftoppm canceled on page %d", page)
	}

	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("pdftoppm page %d failed: %w", page, err)
	}

	p.logger.Debug("pdftoppm error", zap.Int("page", page), zap.String("stderr", extract.TruncateRunes(stderr, 500)))

	if isHelpOrUsageOutput(stderr) {
		return fmt.Errorf("pdftoppm page %d failed (bad invocation)", page)
	}
	if containsAny(stderr, "Incorrect password", "Command Line Error: Incorrect password") {
		return fmt.Errorf("PDF is password protected")
	}
	if containsAny(stderr, "PDF file is damaged", "Syntax Error", "Couldn't find trailer dictionary", "May not be a PDF file") {
		return fmt.Errorf("PDF file is damaged or corrupted")
	}
	return fmt.Errorf("pdftoppm page %d failed: %s", page, extract.TruncateRunes(stderr, 200))
}

// isHelpOrUsageOutput returns true when stderr looks like a poppler
// usage dump rather than an actual processing error.
func isHelpOrUsageOutput(stderr string) bool {
	return strings.Contains(stderr, "version ") && strings.Contains(stderr, "Usage:")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

