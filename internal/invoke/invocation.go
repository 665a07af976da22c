package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/eventbus"
	"github.com/hanpama/grpcdyn/internal/events"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/value"
	"golang.org/x/sync/errgroup"
)

// State is the position of an invocation in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateUnary
	StateServerStream
	StateClientStream
	StateBidiStream
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUnary:
		return "unary"
	case StateServerStream:
		return "server stream"
	case StateClientStream:
		return "client stream"
	case StateBidiStream:
		return "bidi stream"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether s is Closed or Failed.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// inboundBuffer bounds responses decoded ahead of the caller.
const inboundBuffer = 16

// Invocation is one in-flight call. Its methods are safe for concurrent use.
type Invocation struct {
	method *schema.Method
	engine *Engine
	src    Source

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	in      chan value.Value
	done    chan struct{}
	started time.Time

	state     atomic.Int32
	completed atomic.Bool
	sent      atomic.Int64
	received  atomic.Int64

	mu  sync.Mutex
	err error
}

func newInvocation(ctx context.Context, e *Engine, m *schema.Method, src Source) *Invocation {
	base, cancel := context.WithCancel(ctx)
	eg, gctx := errgroup.WithContext(base)
	return &Invocation{
		method:  m,
		engine:  e,
		src:     src,
		ctx:     gctx,
		cancel:  cancel,
		eg:      eg,
		in:      make(chan value.Value, inboundBuffer),
		done:    make(chan struct{}),
		started: time.Now(),
	}
}

func (inv *Invocation) Method() *schema.Method { return inv.method }

func (inv *Invocation) State() State { return State(inv.state.Load()) }

// Recv returns the next response. After the last one it returns io.EOF on
// success or the error that ended the call. Responses received before a
// failure are still returned first.
func (inv *Invocation) Recv() (value.Value, error) {
	v, ok := <-inv.in
	if ok {
		return v, nil
	}
	if err := inv.Err(); err != nil {
		return value.Value{}, err
	}
	return value.Value{}, io.EOF
}

// All drains the invocation, returning every response and the terminal error.
func (inv *Invocation) All() ([]value.Value, error) {
	var out []value.Value
	for {
		v, err := inv.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Wait blocks until both legs have ended and returns the terminal error.
// Responses not yet consumed hold the inbound leg, so Recv must run
// concurrently for streaming responses.
func (inv *Invocation) Wait() error {
	<-inv.done
	return inv.Err()
}

// Done is closed once the invocation has ended.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Err returns the terminal error recorded so far.
func (inv *Invocation) Err() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.err
}

// Cancel aborts the call. The invocation ends Failed with errs.ErrCancelled
// unless it already ended.
func (inv *Invocation) Cancel() {
	inv.fail(errs.ErrCancelled)
}

// fail records err if it is the first error and cancels the call.
func (inv *Invocation) fail(err error) {
	if err == nil {
		return
	}
	inv.mu.Lock()
	if inv.err == nil {
		select {
		case <-inv.done:
		default:
			inv.err = err
		}
	}
	inv.mu.Unlock()
	inv.cancel()
}

// end moves the invocation to its terminal state once no leg is running.
func (inv *Invocation) end() {
	inv.cancel()
	final := inv.Err()
	if final != nil {
		inv.state.Store(int32(StateFailed))
	} else {
		inv.state.Store(int32(StateClosed))
	}
	close(inv.in)
	inv.engine.active.Store(false)
	eventbus.Publish(inv.ctx, events.InvocationFinish{
		Service:  inv.method.Service,
		Method:   inv.method.Name,
		Shape:    inv.method.Shape().String(),
		Target:   inv.engine.target,
		Code:     errs.Code(final),
		Err:      final,
		Sent:     inv.sent.Load(),
		Received: inv.received.Load(),
		Duration: time.Since(inv.started),
	})
	close(inv.done)
}
