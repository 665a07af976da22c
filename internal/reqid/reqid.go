package reqid

import (
	"context"
	"math/rand/v2"
)

// key is the context key for the invocation ID.
type key struct{}

// NewContext returns a copy of parent with a new random invocation ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64()
	return context.WithValue(parent, key{}, id), id
}

// Ensure returns ctx unchanged when it already carries an ID, and a child
// carrying a fresh one otherwise.
func Ensure(ctx context.Context) (context.Context, int64) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	return NewContext(ctx)
}

// FromContext extracts the invocation ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(key{})
	id, ok := v.(int64)
	return id, ok
}
