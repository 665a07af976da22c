package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// InvocationStart is emitted when an invocation is accepted by the engine.
// Every InvocationStart is followed by exactly one InvocationFinish.
type InvocationStart struct {
	Service string
	Method  string
	Shape   string
	Target  string
}

// InvocationFinish is emitted when both legs of an invocation have ended.
type InvocationFinish struct {
	Service  string
	Method   string
	Shape    string
	Target   string
	Code     codes.Code
	Err      error
	Sent     int64
	Received int64
	Duration time.Duration
}

// MessageSent is emitted for each request message written to the transport.
type MessageSent struct {
	Service string
	Method  string
	Size    int
}

// MessageReceived is emitted for each response message read from the transport.
type MessageReceived struct {
	Service string
	Method  string
	Size    int
}
