package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// TextLayer opens PDF bytes for page-wise access to embedded text.
type TextLayer interface {
	Open(data []byte) (Pages, error)
}

// Pages is an opened PDF. Page numbers are 1-based.
type Pages interface {
	NumPages() int
	PageText(page int) (string, error)
	// ImageCount returns the number of image XObjects on the page, or 0 when
	// the structure could not be inspected.
	ImageCount(page int) int
}

// NativeTextLayer reads text objects with ledongthuc/pdf. pdfcpu inspects the
// structure first, for encryption and per-page image references.
type NativeTextLayer struct {
	logger *zap.Logger
}

func NewTextLayer(logger *zap.Logger) *NativeTextLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeTextLayer{logger: logger}
}

func (l *NativeTextLayer) Open(data []byte) (p Pages, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("%w: pdf reader panicked: %v", extract.ErrDamaged, r)
		}
	}()

	structure, perr := inspectStructure(data)
	if perr != nil {
		if isPasswordErr(perr) {
			return nil, fmt.Errorf("%w: %v", extract.ErrPasswordProtected, perr)
		}
		// ledongthuc is more forgiving on some inputs; keep going without image data.
		l.logger.Debug("pdfcpu structure inspection failed", zap.Error(perr))
	}

	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, lpdf.ErrInvalidPassword) || isPasswordErr(err) {
			return nil, fmt.Errorf("%w: %v", extract.ErrPasswordProtected, err)
		}
		return nil, fmt.Errorf("%w: open PDF: %v", extract.ErrDamaged, err)
	}

	return &nativePages{r: r, structure: structure, logger: l.logger}, nil
}

type nativePages struct {
	r         *lpdf.Reader
	structure *model.Context
	logger    *zap.Logger
}

func (p *nativePages) NumPages() (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
			if p.structure != nil {
				n = p.structure.PageCount
			}
		}
	}()
	return p.r.NumPage()
}

func (p *nativePages) PageText(page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("page %d: text extraction panicked: %v", page, r)
		}
	}()

	pg := p.r.Page(page)
	if pg.V.IsNull() {
		return "", nil
	}
	text, err = pg.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", page, err)
	}
	return text, nil
}

func (p *nativePages) ImageCount(page int) (n int) {
	if p.structure == nil || p.structure.Optimize == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			n = 0
		}
	}()
	return len(pdfcpu.ImageObjNrs(p.structure, page))
}

// inspectStructure parses the PDF with pdfcpu in relaxed mode. It surfaces
// encryption errors that ledongthuc reports less clearly.
func inspectStructure(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("pdfcpu panicked: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
}

func isPasswordErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}
