// Package consumer handles inbound load messages: it honours the fault flag,
// forwards a synthetic batch, simulates processing time and records the key.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"loadharness/internal/broker"
	"loadharness/internal/dispatcher"
	"loadharness/internal/payload"
	"time"
)

// ErrSimulatedFault is returned for messages that ask to be failed.
var ErrSimulatedFault = errors.New("simulated message fault")

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg broker.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg broker.Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg broker.Message) error {
	return f(ctx, msg)
}

// Recorder records activity for a key.
type Recorder interface {
	Record(key string)
}

// Listener is the Handler for load messages.
type Listener struct {
	forward dispatcher.Dispatcher
	counter Recorder
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewListener creates a listener that forwards through forward and records
// processed keys in counter.
func NewListener(forward dispatcher.Dispatcher, counter Recorder) *Listener {
	return &Listener{
		forward: forward,
		counter: counter,
		logger:  slog.With("component", "listener"),
		sleep:   sleepCtx,
	}
}

// Handle processes msg. A requested fault wins over every other check, and
// the key is recorded only when every earlier step succeeded.
func (l *Listener) Handle(ctx context.Context, msg broker.Message) error {
	props, err := broker.ParseProperties(msg.Headers)
	if err != nil {
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}
	if props.MessageThrowsException {
		return ErrSimulatedFault
	}
	if msg.Key == "" {
		return broker.ErrMissingKey
	}
	if err := props.Validate(); err != nil {
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}

	if props.NumberOfForwardMessages > 0 {
		err := l.forward.Dispatch(ctx, dispatcher.Request{
			Message: broker.Message{
				Key:     msg.Key,
				Payload: payload.Fill(props.SizeOfForwardedMessage),
			},
			Target:  props.NumberOfForwardMessages,
			Durable: props.PersistentForwardMessage,
		})
		if err != nil {
			return fmt.Errorf("forward %d messages: %w", props.NumberOfForwardMessages, err)
		}
	}

	if props.DelayMessageProcess > 0 {
		if err := l.sleep(ctx, time.Duration(props.DelayMessageProcess)*time.Millisecond); err != nil {
			return fmt.Errorf("processing delay: %w", err)
		}
	}

	l.counter.Record(msg.Key)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Handler = (*Listener)(nil)
