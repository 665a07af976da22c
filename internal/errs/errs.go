// Package errs holds the error taxonomy shared by the registry, codec and
// invocation engine. Callers classify errors with errors.As and errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCancelled reports caller-initiated early termination of an invocation.
// Outbound sources return it to abort a call.
var ErrCancelled = errors.New("invocation cancelled")

// ConnectionError reports that the remote endpoint could not be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown service, method, symbol, enum value or variable.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// SchemaMismatchError reports a value whose shape is incompatible with the
// descriptor it is encoded against. Path is the dotted field path, if known.
type SchemaMismatchError struct {
	Path string
	Msg  string
}

func (e *SchemaMismatchError) Error() string {
	if e.Path == "" {
		return "schema mismatch: " + e.Msg
	}
	return fmt.Sprintf("schema mismatch at %s: %s", e.Path, e.Msg)
}

// Mismatchf builds a SchemaMismatchError.
func Mismatchf(path, format string, args ...any) error {
	return &SchemaMismatchError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// DecodeError reports malformed or truncated wire or descriptor bytes.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError is a failure status reported by the peer or the transport.
type TransportError struct {
	Code    codes.Code
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code, e.Message)
}

// GRPCStatus lets status.FromError and status.Code see through the error.
func (e *TransportError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// FromTransport classifies an error returned by a transport primitive.
// io.EOF and errors already in the taxonomy pass through unchanged.
func FromTransport(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, ErrCancelled) {
		return err
	}
	var (
		te *TransportError
		ce *ConnectionError
		de *DecodeError
	)
	if errors.As(err, &te) || errors.As(err, &ce) || errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		st := status.FromContextError(err)
		return &TransportError{Code: st.Code(), Message: st.Message()}
	}
	if st, ok := status.FromError(err); ok {
		return &TransportError{Code: st.Code(), Message: st.Message()}
	}
	return &TransportError{Code: codes.Unknown, Message: err.Error()}
}

// Code returns the gRPC code for err: OK for nil, Canceled for ErrCancelled,
// the carried code for transport errors and Unknown otherwise.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, ErrCancelled) {
		return codes.Canceled
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return codes.NotFound
	}
	var sm *SchemaMismatchError
	if errors.As(err, &sm) {
		return codes.InvalidArgument
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return codes.Unavailable
	}
	return codes.Unknown
}
