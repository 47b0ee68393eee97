// Package transport carries raw OCPP-J frames between the harness and the
// central system under test.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout = errors.New("receive timed out")
	ErrClosed  = errors.New("connection closed")
)

// Transport is an ordered, bidirectional text channel.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next inbound frame, ErrTimeout after timeout,
	// or ctx is done.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
