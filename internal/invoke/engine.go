// Package invoke drives one RPC per invocation according to the method's
// streaming shape. Requests and responses cross the package boundary as
// value.Value; the transport only sees encoded bytes.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hanpama/grpcdyn/internal/codec"
	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/eventbus"
	"github.com/hanpama/grpcdyn/internal/events"
	"github.com/hanpama/grpcdyn/internal/reqid"
	"github.com/hanpama/grpcdyn/internal/schema"
)

// ErrBusy is returned by Invoke while another invocation is active on the
// same engine.
var ErrBusy = errors.New("invoke: another invocation is in progress")

// Engine runs at most one invocation at a time over a Transport.
type Engine struct {
	t      Transport
	target string
	active atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTarget labels emitted events with the remote address.
func WithTarget(target string) Option {
	return func(e *Engine) { e.target = target }
}

func NewEngine(t Transport, opts ...Option) *Engine {
	e := &Engine{t: t}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Busy reports whether an invocation is active.
func (e *Engine) Busy() bool { return e.active.Load() }

// handler performs the checks that must pass before any bytes are sent, then
// starts the invocation legs on inv.eg.
type handler func(inv *Invocation) error

// handlers is indexed by [clientStreaming][serverStreaming].
var handlers = [2][2]struct {
	state State
	start handler
}{
	{{StateUnary, startUnary}, {StateServerStream, startServerStream}},
	{{StateClientStream, startClientStream}, {StateBidiStream, startBidiStream}},
}

func index(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Invoke starts m with requests drawn from src. Errors detectable before the
// call is issued, such as a request of a single-request shape that does not
// encode, are returned directly and leave the engine free. Otherwise the
// caller consumes the returned Invocation with Recv or All until it reports
// io.EOF or an error.
func (e *Engine) Invoke(ctx context.Context, m *schema.Method, src Source) (*Invocation, error) {
	if !e.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	ctx, _ = reqid.Ensure(ctx)
	inv := newInvocation(ctx, e, m, src)
	h := handlers[index(m.ClientStreaming)][index(m.ServerStreaming)]
	inv.state.Store(int32(h.state))
	eventbus.Publish(inv.ctx, events.InvocationStart{
		Service: m.Service, Method: m.Name, Shape: m.Shape().String(), Target: e.target,
	})
	if err := h.start(inv); err != nil {
		inv.fail(err)
		inv.end()
		return nil, err
	}
	go func() {
		inv.fail(inv.eg.Wait())
		inv.end()
	}()
	return inv, nil
}

// first reads and encodes the single request of a non-client-streaming shape.
func (inv *Invocation) first() ([]byte, error) {
	v, err := inv.src.Next(inv.ctx)
	if errors.Is(err, io.EOF) {
		return nil, errs.Mismatchf(inv.method.FullName, "no request value supplied")
	}
	if err != nil {
		return nil, err
	}
	return codec.Encode(v, inv.method.Input)
}

func startUnary(inv *Invocation) error {
	req, err := inv.first()
	if err != nil {
		return err
	}
	inv.eg.Go(func() error {
		resp, err := inv.engine.t.Unary(inv.ctx, inv.method.Path(), req)
		if err != nil {
			return errs.FromTransport(err)
		}
		inv.sentMsg(len(req))
		return inv.deliver(resp)
	})
	return nil
}

func startServerStream(inv *Invocation) error {
	req, err := inv.first()
	if err != nil {
		return err
	}
	inv.eg.Go(func() error {
		stream, err := inv.engine.t.ServerStream(inv.ctx, inv.method.Path(), req)
		if err != nil {
			return errs.FromTransport(err)
		}
		inv.sentMsg(len(req))
		return inv.pump(stream)
	})
	return nil
}

func startClientStream(inv *Invocation) error {
	stream, err := inv.engine.t.ClientStream(inv.ctx, inv.method.Path())
	if err != nil {
		return errs.FromTransport(err)
	}
	inv.eg.Go(func() error {
		if err := inv.sendAll(stream); err != nil {
			return err
		}
		resp, err := stream.CloseAndRecv()
		if err != nil {
			return errs.FromTransport(err)
		}
		return inv.deliver(resp)
	})
	return nil
}

func startBidiStream(inv *Invocation) error {
	stream, err := inv.engine.t.BidiStream(inv.ctx, inv.method.Path())
	if err != nil {
		return errs.FromTransport(err)
	}
	inv.eg.Go(func() error {
		if err := inv.sendAll(stream); err != nil {
			return err
		}
		if err := stream.CloseSend(); err != nil && !inv.completed.Load() {
			return errs.FromTransport(err)
		}
		return nil
	})
	inv.eg.Go(func() error { return inv.pump(stream) })
	return nil
}

// sendAll drains the source into s. It returns nil at end of requests, or
// when the peer stops accepting messages; the peer's status is then reported
// by the receiving side.
func (inv *Invocation) sendAll(s SendStream) error {
	for {
		v, err := inv.src.Next(inv.ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, errs.ErrCancelled):
			_ = s.CloseSend()
			return errs.ErrCancelled
		case err != nil:
			if inv.completed.Load() {
				return nil
			}
			_ = s.CloseSend()
			if inv.ctx.Err() != nil {
				return errs.FromTransport(err)
			}
			return fmt.Errorf("request source: %w", err)
		}
		b, err := codec.Encode(v, inv.method.Input)
		if err != nil {
			_ = s.CloseSend()
			return err
		}
		if err := s.Send(b); err != nil {
			if errors.Is(err, io.EOF) || inv.completed.Load() {
				return nil
			}
			return errs.FromTransport(err)
		}
		inv.sentMsg(len(b))
	}
}

// pump decodes inbound messages until the stream ends.
func (inv *Invocation) pump(s RecvStream) error {
	for {
		b, err := s.Recv()
		if errors.Is(err, io.EOF) {
			inv.completed.Store(true)
			// Unblock an outbound leg still waiting on its source.
			inv.cancel()
			return nil
		}
		if err != nil {
			return errs.FromTransport(err)
		}
		if err := inv.deliver(b); err != nil {
			return err
		}
	}
}

func (inv *Invocation) deliver(b []byte) error {
	v, err := codec.Decode(b, inv.method.Output)
	if err != nil {
		return err
	}
	inv.received.Add(1)
	eventbus.Publish(inv.ctx, events.MessageReceived{Service: inv.method.Service, Method: inv.method.Name, Size: len(b)})
	select {
	case inv.in <- v:
		return nil
	case <-inv.ctx.Done():
		return errs.FromTransport(inv.ctx.Err())
	}
}

func (inv *Invocation) sentMsg(n int) {
	inv.sent.Add(1)
	eventbus.Publish(inv.ctx, events.MessageSent{Service: inv.method.Service, Method: inv.method.Name, Size: n})
}
