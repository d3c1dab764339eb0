package reload

import (
	"context"
	"sync"
)

type batchKey struct{}

type batch struct {
	mu      sync.Mutex
	entries map[any]*batchEntry
}

type batchEntry struct {
	once sync.Once
	val  any
	err  error
}

// WithBatch marks ctx as one reload pass over several tables. Sources backed
// by the same document read it through Shared so every table in the pass is
// built from the same version. A ctx already carrying a batch is returned
// unchanged.
func WithBatch(ctx context.Context) context.Context {
	if _, ok := ctx.Value(batchKey{}).(*batch); ok {
		return ctx
	}
	return context.WithValue(ctx, batchKey{}, &batch{entries: make(map[any]*batchEntry)})
}

// Shared runs load at most once per key within the batch carried by ctx and
// hands every caller the same result, error included. Without a batch load
// runs on every call.
func Shared[T any](ctx context.Context, key any, load func(context.Context) (T, error)) (T, error) {
	b, ok := ctx.Value(batchKey{}).(*batch)
	if !ok {
		return load(ctx)
	}
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		e = &batchEntry{}
		b.entries[key] = e
	}
	b.mu.Unlock()

	e.once.Do(func() {
		e.val, e.err = load(ctx)
	})
	v, _ := e.val.(T)
	return v, e.err
}
