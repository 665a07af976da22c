package invoke

import (
	"context"
	"io"

	"github.com/hanpama/grpcdyn/internal/value"
)

// Source produces outbound request values. Next returns io.EOF when there
// are no more requests and errs.ErrCancelled to abort the call.
type Source interface {
	Next(ctx context.Context) (value.Value, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (value.Value, error)

func (f SourceFunc) Next(ctx context.Context) (value.Value, error) { return f(ctx) }

// Values yields vs in order.
func Values(vs ...value.Value) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) (value.Value, error) {
		if err := ctx.Err(); err != nil {
			return value.Value{}, err
		}
		if i >= len(vs) {
			return value.Value{}, io.EOF
		}
		v := vs[i]
		i++
		return v, nil
	})
}

// Chan yields values received from ch until it is closed.
func Chan(ch <-chan value.Value) Source {
	return SourceFunc(func(ctx context.Context) (value.Value, error) {
		select {
		case v, ok := <-ch:
			if !ok {
				return value.Value{}, io.EOF
			}
			return v, nil
		case <-ctx.Done():
			return value.Value{}, ctx.Err()
		}
	})
}
