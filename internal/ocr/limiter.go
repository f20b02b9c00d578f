package ocr

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// limited shares one semaphore between every caller of the wrapped engine,
// so concurrent extractions queue instead of piling onto the backend.
type limited struct {
	next Engine
	sem  *semaphore.Weighted
}

// WithLimit caps concurrent Recognize calls on e. max <= 0 returns e unchanged.
func WithLimit(e Engine, max int64) Engine {
	if e == nil || max <= 0 {
		return e
	}
	return &limited{next: e, sem: semaphore.NewWeighted(max)}
}

func (l *limited) Name() string { return l.next.Name() }

func (l *limited) Recognize(ctx context.Context, img Image) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.next.Recognize(ctx, img)
}
