package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// MaxChars is the output character budget (default DefaultMaxChars).
	MaxChars int
	// MaxBytes rejects larger documents before any parsing (0 disables).
	MaxBytes int64
	Logger   *zap.Logger
}

// Engine is the extraction orchestrator. It classifies a document, runs the
// matching Extractor and always returns a Result: failures of any kind are
// described in Result.Text instead of being returned.
type Engine struct {
	registry *Registry
	maxChars int
	maxBytes int64
	logger   *zap.Logger
}

func NewEngine(registry *Registry, opts Options) *Engine {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		maxChars: opts.MaxChars,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}
}

// IsSupported reports whether doc classifies to a registered format.
func (e *Engine) IsSupported(doc Document) bool {
	f := DocumentType(doc)
	if f == FormatUnsupported {
		return false
	}
	_, err := e.registry.Resolve(f)
	return err == nil
}

// Extract runs the pipeline for doc. forceOCR sends PDFs down the OCR path
// even when every page has a usable text layer.
func (e *Engine) Extract(ctx context.Context, doc Document, forceOCR bool) (res Result) {
	start := time.Now()
	format := DocumentType(doc)
	log := e.logger.With(
		zap.String("file", doc.Name),
		zap.String("format", string(format)),
		zap.Int64("bytes", doc.Size()),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("extraction panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = Finalize(Result{
				Text:   FailureNotice(doc, format, fmt.Errorf("internal error: %v", r)),
				Method: MethodFailed,
				Format: format,
			}, e.maxChars)
		}
		log.Info("extraction finished",
			zap.String("method", string(res.Method)),
			zap.Bool("truncated", res.Truncated),
			zap.Int("chars", res.OriginalLength),
			zap.Duration("took", time.Since(start)),
		)
	}()

	if format == FormatUnsupported {
		return Finalize(Result{Text: UnsupportedNotice(doc.Name), Method: MethodUnsupported, Format: format}, e.maxChars)
	}

	extractor, err := e.registry.Resolve(format)
	if err != nil {
		log.Warn("no extractor for classified format", zap.Error(err))
		return Finalize(Result{Text: UnsupportedNotice(doc.Name), Method: MethodUnsupported, Format: format}, e.maxChars)
	}

	if err := e.precheck(doc); err != nil {
		return Finalize(Result{Text: FailureNotice(doc, format, err), Method: MethodFailed, Format: format}, e.maxChars)
	}

	out, err := extractor.Extract(ctx, Job{Document: doc, Format: format, ForceOCR: forceOCR})
	if err != nil {
		err = ClassifyError(err)
		log.Warn("extractor failed", zap.String("extractor", extractor.Name()), zap.Error(err))
		out = Result{Text: FailureNotice(doc, format, err), Method: MethodFailed}
	}
	if out.Method == "" {
		out.Method = MethodEmbedded
	}
	out.Format = format
	return Finalize(out, e.maxChars)
}

func (e *Engine) precheck(doc Document) error {
	if len(doc.Bytes) == 0 {
		return ErrEmptyDocument
	}
	if e.maxBytes > 0 && doc.Size() > e.maxBytes {
		return ErrTooLarge
	}
	return nil
}
