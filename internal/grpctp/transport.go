package grpctp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/eventbus"
	"github.com/hanpama/grpcdyn/internal/events"
	"github.com/hanpama/grpcdyn/internal/invoke"
	"github.com/hanpama/grpcdyn/internal/reqid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Transport is a gRPC client connection to one target that carries raw
// message bytes. It implements invoke.Transport.
type Transport struct {
	opts   *Options
	target string
	cc     *grpc.ClientConn
	closed atomic.Bool
}

// Ensure we satisfy invoke.Transport
var _ invoke.Transport = (*Transport)(nil)

// Dial connects to target and waits until the channel is ready or
// DialTimeout elapses. Failures are reported as *errs.ConnectionError.
func Dial(ctx context.Context, target string, opts ...Option) (*Transport, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
	}
	dialOpts = append(dialOpts, o.DialOptions...)

	start := time.Now()
	cc, err := grpc.NewClient(target, dialOpts...)
	if err == nil {
		err = waitReady(ctx, cc, o.DialTimeout)
		if err != nil {
			_ = cc.Close()
		}
	}
	eventbus.Publish(ctx, events.GRPCDial{Target: target, Err: err, Duration: time.Since(start)})
	if err != nil {
		return nil, &errs.ConnectionError{Addr: target, Err: err}
	}
	return &Transport{opts: o, target: target, cc: cc}, nil
}

func waitReady(ctx context.Context, cc *grpc.ClientConn, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cc.Connect()
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return errors.New("endpoint unreachable")
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !cc.WaitForStateChange(ctx, s) {
			return fmt.Errorf("not ready after %s (state %s): %w", timeout, s, ctx.Err())
		}
	}
}

// Target returns the dialed address.
func (t *Transport) Target() string { return t.target }

// Conn exposes the underlying connection for other clients, such as
// reflection, sharing the channel.
func (t *Transport) Conn() grpc.ClientConnInterface { return t.cc }

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.cc.Close()
}

// callContext applies the per-call timeout and outgoing metadata. The cancel
// func must be called once the call has ended.
func (t *Transport) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	pairs := make([]string, 0, 2*len(t.opts.Metadata)+2)
	for k, v := range t.opts.Metadata {
		pairs = append(pairs, k, v)
	}
	if id, ok := reqid.FromContext(ctx); ok {
		pairs = append(pairs, "x-grpcdyn-invocation", strconv.FormatInt(id, 10))
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}
	return ctx, cancel
}

func (t *Transport) Unary(ctx context.Context, method string, req []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := t.callContext(ctx)
	defer cancel()
	var resp []byte
	if err := t.cc.Invoke(ctx, method, req, &resp, grpc.ForceCodec(rawCodec{})); err != nil {
		return nil, errs.FromTransport(err)
	}
	return resp, nil
}

func (t *Transport) ServerStream(ctx context.Context, method string, req []byte) (invoke.RecvStream, error) {
	s, err := t.open(ctx, method, false, true)
	if err != nil {
		return nil, err
	}
	if err := s.cs.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		s.cancel()
		return nil, errs.FromTransport(err)
	}
	if err := s.cs.CloseSend(); err != nil {
		s.cancel()
		return nil, errs.FromTransport(err)
	}
	return s, nil
}

func (t *Transport) ClientStream(ctx context.Context, method string) (invoke.ClientStream, error) {
	s, err := t.open(ctx, method, true, false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Transport) BidiStream(ctx context.Context, method string) (invoke.BidiStream, error) {
	s, err := t.open(ctx, method, true, true)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Transport) open(ctx context.Context, method string, client, server bool) (*stream, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := t.callContext(ctx)
	desc := &grpc.StreamDesc{StreamName: method, ClientStreams: client, ServerStreams: server}
	cs, err := t.cc.NewStream(ctx, desc, method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		cancel()
		return nil, errs.FromTransport(err)
	}
	return &stream{cs: cs, cancel: cancel}, nil
}

// stream adapts grpc.ClientStream to the invoke stream interfaces. The
// per-call context is released when the stream reaches a terminal state.
type stream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc

	sendMu sync.Mutex
}

func (s *stream) Send(b []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.cs.SendMsg(b); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return errs.FromTransport(err)
	}
	return nil
}

func (s *stream) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.cs.CloseSend()
}

func (s *stream) Recv() ([]byte, error) {
	var b []byte
	if err := s.cs.RecvMsg(&b); err != nil {
		s.cancel()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errs.FromTransport(err)
	}
	return b, nil
}

func (s *stream) CloseAndRecv() ([]byte, error) {
	defer s.cancel()
	if err := s.CloseSend(); err != nil {
		return nil, errs.FromTransport(err)
	}
	var b []byte
	if err := s.cs.RecvMsg(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &errs.TransportError{Code: codes.Internal, Message: "server closed the stream without a response"}
		}
		return nil, errs.FromTransport(err)
	}
	return b, nil
}
