package extract

import (
	"fmt"
)

type Registry struct {
	byFormat   map[Format]Extractor
	extractors []Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		byFormat:   make(map[Format]Extractor),
		extractors: make([]Extractor, 0),
	}
}

// Register adds e for each of its formats. A later registration for the same
// format replaces the earlier one.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	for _, f := range e.Formats() {
		if f == "" || f == FormatUnsupported {
			continue
		}
		r.byFormat[f] = e
	}
}

func (r *Registry) Resolve(f Format) (Extractor, error) {
	if e, ok := r.byFormat[f]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("no extractor registered for format %q", f)
}

// Extractors returns the registered handlers in registration order.
func (r *Registry) Extractors() []Extractor {
	out := make([]Extractor, len(r.extractors))
	copy(out, r.extractors)
	return out
}
