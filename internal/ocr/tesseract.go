package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

const maxTesseractOutput = 4 << 20

// Tesseract runs the tesseract CLI, feeding the image on stdin.
type Tesseract struct {
	binary   string
	language string
	logger   *zap.Logger
}

func NewTesseract(binary, language string, logger *zap.Logger) *Tesseract {
	if strings.TrimSpace(binary) == "" {
		binary = "tesseract"
	}
	if strings.TrimSpace(language) == "" {
		language = "eng"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tesseract{binary: binary, language: language, logger: logger}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Available reports whether the binary can be found on PATH.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

func (t *Tesseract) Recognize(ctx context.Context, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty image for page %d", img.Page)
	}

	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.language)
	cmd.Stdin = bytes.NewReader(img.Data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", t.binary, err)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, maxTesseractOutput+1))
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", fmt.Errorf("tesseract page %d: %w", img.Page, ctx.Err())
	}
	if readErr != nil {
		return "", fmt.Errorf("read stdout: %w", readErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && msg != "" {
			t.logger.Debug("tesseract failed", zap.Int("page", img.Page), zap.String("stderr", msg))
			return "", fmt.Errorf("tesseract page %d failed: %s", img.Page, extract.TruncateRunes(msg, 200))
		}
		return "", fmt.Errorf("tesseract page %d failed: %w", img.Page, waitErr)
	}
	if len(out) > maxTesseractOutput {
		return "", fmt.Errorf("tesseract page %d: output exceeds limit", img.Page)
	}

	// tesseract ends each page with a form feed.
	return strings.TrimSpace(strings.ReplaceAll(string(out), "\f", "\n")), nil
}

