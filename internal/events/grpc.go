package events

import "time"

// GRPCDial is emitted after a client connection attempt finishes.
type GRPCDial struct {
	Target   string
	Err      error
	Duration time.Duration
}
