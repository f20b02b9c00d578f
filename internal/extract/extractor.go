package extract

import "context"

// Extractor is implemented by every format handler.
//
// An Extractor may return an error for conditions it cannot describe itself;
// the Engine turns those into user-facing notices. Advisories the handler
// can word better (legacy formats, empty documents) come back as a Result
// with a nil error.
type Extractor interface {
	Extract(ctx context.Context, job Job) (Result, error)
	Formats() []Format
	Name() string
}
