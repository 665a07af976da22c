package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{}

func TestDispatchByType(t *testing.T) {
	b := New()
	var got []int
	On(b, func(_ context.Context, p ping) { got = append(got, p.N) })
	On(b, func(_ context.Context, p ping) { got = append(got, p.N*10) })
	pongs := 0
	On(b, func(context.Context, pong) { pongs++ })

	Emit(b, context.Background(), ping{N: 1})
	Emit(b, context.Background(), pong{})
	require.Equal(t, []int{1, 10}, got)
	require.Equal(t, 1, pongs)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var a, c int
	unsubA := On(b, func(context.Context, ping) { a++ })
	On(b, func(context.Context, ping) { c++ })

	unsubA()
	unsubA()
	Emit(b, context.Background(), ping{})
	require.Equal(t, 0, a)
	require.Equal(t, 1, c)
}

func TestGlobalBus(t *testing.T) {
	Use(nil)
	Publish(context.Background(), ping{})
	require.NotNil(t, Subscribe(func(context.Context, ping) {}))

	b := New()
	Use(b)
	t.Cleanup(func() { Use(nil) })
	n := 0
	unsub := Subscribe(func(context.Context, ping) { n++ })
	Publish(context.Background(), ping{})
	unsub()
	Publish(context.Background(), ping{})
	require.Equal(t, 1, n)
}
