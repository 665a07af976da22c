package invoke

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc/status"
)

// CallRecord captures one transport call for assertions.
type CallRecord struct {
	// Primitive is "unary", "server_stream", "client_stream" or "bidi_stream".
	Primitive string
	// Method is the wire path.
	Method string

	mu       sync.Mutex
	requests [][]byte
	closed   bool
}

// Requests returns a snapshot of the request messages sent so far.
func (c *CallRecord) Requests() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.requests...)
}

// HalfClosed reports whether the send direction was closed.
func (c *CallRecord) HalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *CallRecord) add(b []byte) {
	c.mu.Lock()
	c.requests = append(c.requests, append([]byte(nil), b...))
	c.mu.Unlock()
}

// Reply scripts the peer side of one call: the response messages, in order,
// followed by Err as the terminal status (nil meaning OK).
type Reply struct {
	Responses [][]byte
	Err       error
	// Eager ends a stream right after its responses instead of waiting for
	// the client to half-close.
	Eager bool
}

// MockTransport implements Transport and plays back one Reply per call in
// order, recording each call for inspection. A bidi stream delivers its scripted
// responses immediately, independent of the requests, and then waits for
// CloseSend before reporting the terminal status.
type MockTransport struct {
	mu      sync.Mutex
	replies []Reply
	idx     int
	calls   []*CallRecord
}

// NewMockTransport creates a MockTransport that answers successive calls with
// replies.
func NewMockTransport(replies ...Reply) *MockTransport {
	cp := make([]Reply, len(replies))
	copy(cp, replies)
	return &MockTransport{replies: cp}
}

// Calls returns a snapshot of recorded calls.
func (m *MockTransport) Calls() []*CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockTransport) next(primitive, method string) (*CallRecord, Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &CallRecord{Primitive: primitive, Method: method}
	m.calls = append(m.calls, rec)
	if m.idx >= len(m.replies) {
		return rec, Reply{}, fmt.Errorf("mock transport: no more replies")
	}
	r := m.replies[m.idx]
	m.idx++
	return rec, r, nil
}

func (m *MockTransport) Unary(ctx context.Context, method string, req []byte) ([]byte, error) {
	rec, r, err := m.next("unary", method)
	if err != nil {
		return nil, err
	}
	rec.add(req)
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Responses) != 1 {
		return nil, fmt.Errorf("mock transport: unary reply needs one response, has %d", len(r.Responses))
	}
	return r.Responses[0], nil
}

func (m *MockTransport) ServerStream(ctx context.Context, method string, req []byte) (RecvStream, error) {
	rec, r, err := m.next("server_stream", method)
	if err != nil {
		return nil, err
	}
	rec.add(req)
	return &mockStream{ctx: ctx, rec: rec, reply: r, closed: closedChan()}, nil
}

func (m *MockTransport) ClientStream(ctx context.Context, method string) (ClientStream, error) {
	rec, r, err := m.next("client_stream", method)
	if err != nil {
		return nil, err
	}
	return &mockStream{ctx: ctx, rec: rec, reply: r, closed: make(chan struct{})}, nil
}

func (m *MockTransport) BidiStream(ctx context.Context, method string) (BidiStream, error) {
	rec, r, err := m.next("bidi_stream", method)
	if err != nil {
		return nil, err
	}
	return &mockStream{ctx: ctx, rec: rec, reply: r, closed: make(chan struct{})}, nil
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type mockStream struct {
	ctx   context.Context
	rec   *CallRecord
	reply Reply

	pos       int
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *mockStream) Send(b []byte) error {
	if s.ctx.Err() != nil {
		return io.EOF
	}
	s.rec.add(b)
	return nil
}

func (s *mockStream) CloseSend() error {
	s.closeOnce.Do(func() {
		s.rec.mu.Lock()
		s.rec.closed = true
		s.rec.mu.Unlock()
		close(s.closed)
	})
	return nil
}

func (s *mockStream) Recv() ([]byte, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if s.pos < len(s.reply.Responses) {
		b := s.reply.Responses[s.pos]
		s.pos++
		return b, nil
	}
	if !s.reply.Eager {
		select {
		case <-s.closed:
		case <-s.ctx.Done():
			return nil, status.FromContextError(s.ctx.Err()).Err()
		}
	}
	if s.reply.Err != nil {
		return nil, s.reply.Err
	}
	return nil, io.EOF
}

func (s *mockStream) CloseAndRecv() ([]byte, error) {
	_ = s.CloseSend()
	if err := s.ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if s.reply.Err != nil {
		return nil, s.reply.Err
	}
	if len(s.reply.Responses) != 1 {
		return nil, fmt.Errorf("mock transport: client stream reply needs one response, has %d", len(s.reply.Responses))
	}
	return s.reply.Responses[0], nil
}
