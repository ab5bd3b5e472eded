// Package broker defines the message envelope exchanged with the broker and
// the Sink/Source capabilities the harness drives, with a Kafka implementation.
package broker

import (
	"context"
	"errors"
)

// ErrMissingKey is returned when an inbound message carries no activity key.
var ErrMissingKey = errors.New("message has no key")

// Message is one unit sent to or received from the broker.
// Payload is shared read-only between every delivery of a batch.
type Message struct {
	ID      string
	Key     string
	Payload []byte
	Headers map[string]string

	// Set on received messages only; used to commit the offset.
	Topic     string
	Partition int
	Offset    int64
}

// Sink delivers a message to the broker. Any returned error counts as a
// failed delivery; durable selects persistent delivery.
type Sink interface {
	Deliver(ctx context.Context, msg Message, durable bool) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg Message, durable bool) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, msg Message, durable bool) error {
	return f(ctx, msg, durable)
}
