package grpctp

import "errors"

var (
	// ErrClosed is returned by calls on a transport after Close.
	ErrClosed = errors.New("grpctp: transport closed")
)
