package grpctp

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures the gRPC transport behavior.
//
// Defaults:
// - DialTimeout: 5s, bounding the wait for the channel to become ready
// - RPCTimeout:  none; when set it is applied per call unless the caller's
//   context already has a deadline
// - DialOptions: insecure credentials
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	DialTimeout time.Duration
	RPCTimeout  time.Duration

	DialOptions []grpc.DialOption

	// Metadata is attached to every outgoing call.
	Metadata map[string]string
}

// Option mutates Options
//
// Use WithX helpers below.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		DialTimeout: 5 * time.Second,
	}
}

func WithDialTimeout(d time.Duration) Option { return func(o *Options) { o.DialTimeout = d } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = append(o.DialOptions, opts...) }
}

// WithMetadata adds outgoing headers. Later values for a key win.
func WithMetadata(md map[string]string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}
