// Package pipeline assembles the extraction Engine with every document
// extractor registered.
package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/config"
	"github.com/toricodesthings/document-extraction-service/internal/extract"
	"github.com/toricodesthings/document-extraction-service/internal/extractors/office"
	"github.com/toricodesthings/document-extraction-service/internal/extractors/pdf"
	"github.com/toricodesthings/document-extraction-service/internal/extractors/plaintext"
	"github.com/toricodesthings/document-extraction-service/internal/ocr"
	"github.com/toricodesthings/document-extraction-service/internal/raster"
)

// Components are the swappable backends of the PDF path. Rasterizer and OCR
// may be nil when no OCR is available.
type Components struct {
	TextLayer  pdf.TextLayer
	Rasterizer raster.Rasterizer
	OCR        ocr.Engine
}

// New builds the engine from configuration, probing for pdftoppm and the
// configured OCR backend.
func New(cfg config.Config, logger *zap.Logger) (*extract.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	comps := Components{TextLayer: pdf.NewTextLayer(logger.Named("pdf"))}

	engine, err := ocr.New(ocr.Config{
		Provider:          cfg.OCRProvider,
		MistralAPIKey:     cfg.MistralAPIKey,
		MistralModel:      cfg.MistralModel,
		MistralEndpoint:   cfg.MistralEndpoint,
		RequestTimeout:    cfg.OCRRequestTimeout,
		TesseractBinary:   cfg.TesseractBinary,
		TesseractLanguage: cfg.TesseractLanguage,
		MaxConcurrent:     cfg.MaxOCRConcurrent,
	}, logger.Named("ocr"))
	switch {
	case errors.Is(err, ocr.ErrUnavailable):
		logger.Warn("OCR disabled; scanned PDFs keep embedded text only", zap.Error(err))
	case err != nil:
		return nil, fmt.Errorf("ocr: %w", err)
	default:
		comps.OCR = engine
	}

	if comps.OCR != nil {
		p := raster.NewPoppler(raster.Config{
			Binary:  cfg.PDFToPPMBinary,
			Timeout: cfg.PDFToPPMTimeout,
		}, logger.Named("raster"))
		if p.Available() {
			comps.Rasterizer = p
		} else {
			logger.Warn("pdftoppm not found; OCR of PDF pages disabled", zap.String("binary", cfg.PDFToPPMBinary))
			comps.OCR = nil
		}
	}

	logger.Info("extraction pipeline ready",
		zap.Bool("ocr", comps.OCR != nil),
		zap.String("ocrProvider", cfg.OCRProvider),
		zap.Int("maxChars", cfg.MaxChars),
	)
	return NewWithComponents(comps, cfg, logger), nil
}

// NewWithComponents builds the engine around the given backends.
func NewWithComponents(comps Components, cfg config.Config, logger *zap.Logger) *extract.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if comps.TextLayer == nil {
		comps.TextLayer = pdf.NewTextLayer(logger.Named("pdf"))
	}

	docx := office.NewDOCX(logger.Named("docx"))
	pptx := office.NewPPTX(cfg.PPTXMaxSlides, logger.Named("pptx"))

	registry := extract.NewRegistry()
	registry.Register(plaintext.New())
	registry.Register(docx)
	registry.Register(pptx)
	registry.Register(office.NewLegacy(docx, pptx, logger.Named("legacy")))
	registry.Register(office.NewSpreadsheet(logger.Named("spreadsheet")))
	registry.Register(pdf.New(comps.TextLayer, comps.Rasterizer, comps.OCR, pdf.Config{
		MaxTextPages: cfg.PDFMaxTextPages,
		MaxOCRPages:  cfg.PDFMaxOCRPages,
		RenderScale:  cfg.PDFRenderScale,
		OCRWorkers:   cfg.PDFOCRWorkers,
		PageTimeout:  cfg.PDFPageTimeout,
	}, logger.Named("pdf")))

	return extract.NewEngine(registry, extract.Options{
		MaxChars: cfg.MaxChars,
		MaxBytes: cfg.MaxUploadBytes,
		Logger:   logger,
	})
}
