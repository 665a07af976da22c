// Package session ties a transport, a schema registry and an invocation
// engine together for one remote endpoint, and tracks the client's current
// connection and variables.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hanpama/grpcdyn/internal/grpctp"
	"github.com/hanpama/grpcdyn/internal/introspection"
	"github.com/hanpama/grpcdyn/internal/invoke"
	"github.com/hanpama/grpcdyn/internal/registry"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/vars"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected, disconnect first")
)

// Connection is one open channel to one endpoint. It owns a schema cache
// and an engine that runs at most one invocation at a time.
type Connection struct {
	Address string

	closer   io.Closer
	registry *registry.Registry
	engine   *invoke.Engine
}

// Connect dials address and waits until the channel is ready. No schema is
// fetched until a service or method is resolved.
func Connect(ctx context.Context, address string, opts ...grpctp.Option) (*Connection, error) {
	tr, err := grpctp.Dial(ctx, address, opts...)
	if err != nil {
		return nil, err
	}
	return NewConnection(address, tr, introspection.NewClient(tr.Conn()), tr), nil
}

// NewConnection assembles a Connection from its parts. closer, if not nil,
// is closed by Close.
func NewConnection(address string, t invoke.Transport, ic introspection.Client, closer io.Closer) *Connection {
	return &Connection{
		Address:  address,
		closer:   closer,
		registry: registry.New(ic),
		engine:   invoke.NewEngine(t, invoke.WithTarget(address)),
	}
}

func (c *Connection) ListServices(ctx context.Context) ([]string, error) {
	return c.registry.ListServices(ctx)
}

func (c *Connection) ResolveService(ctx context.Context, service string) (*schema.Service, error) {
	return c.registry.ResolveService(ctx, service)
}

func (c *Connection) ResolveMethod(ctx context.Context, service, method string) (*schema.Method, error) {
	return c.registry.ResolveMethod(ctx, service, method)
}

// Invoke starts m with requests drawn from src. See invoke.Engine.Invoke.
func (c *Connection) Invoke(ctx context.Context, m *schema.Method, src invoke.Source) (*invoke.Invocation, error) {
	return c.engine.Invoke(ctx, m, src)
}

// Call resolves service.method and invokes it.
func (c *Connection) Call(ctx context.Context, service, method string, src invoke.Source) (*invoke.Invocation, error) {
	m, err := c.ResolveMethod(ctx, service, method)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, m, src)
}

// Busy reports whether an invocation is in progress.
func (c *Connection) Busy() bool { return c.engine.Busy() }

func (c *Connection) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Dialer opens a Connection to address.
type Dialer func(ctx context.Context, address string) (*Connection, error)

// Session holds at most one Connection and the variable store for one
// interactive client.
type Session struct {
	dial Dialer
	vars *vars.Store

	mu   sync.Mutex
	conn *Connection
}

// New creates a Session that connects with grpctp and opts.
func New(opts ...grpctp.Option) *Session {
	return NewWithDialer(func(ctx context.Context, address string) (*Connection, error) {
		return Connect(ctx, address, opts...)
	})
}

func NewWithDialer(dial Dialer) *Session {
	return &Session{dial: dial, vars: vars.New()}
}

func (s *Session) Vars() *vars.Store { return s.vars }

// Connect opens the session's connection. It fails with ErrAlreadyConnected
// while a previous connection is open.
func (s *Session) Connect(ctx context.Context, address string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil, ErrAlreadyConnected
	}
	c, err := s.dial(ctx, address)
	if err != nil {
		return nil, err
	}
	s.conn = c
	return c, nil
}

// Disconnect closes the current connection, ending any active invocation.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.Address, err)
	}
	return nil
}

// Conn returns the current connection or ErrNotConnected.
func (s *Session) Conn() (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}
