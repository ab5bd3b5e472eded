// Package producer turns a load request into a dispatched batch of messages
// on the inbound topic.
package producer

import (
	"fmt"
	"loadharness/internal/apperrors"
	"loadharness/internal/broker"
	"loadharness/internal/payload"
)

// Request defaults.
const (
	DefaultNumberOfMessages        = 1000
	DefaultSizeOfMessage           = 1 // kB
	DefaultNumberOfForwardMessages = 1000
	DefaultSizeOfForwardMessage    = 1000 // kB
)

// Request describes one load run. Sizes are in kB; DelayMessageProcess is in
// milliseconds. The forward and delay fields are carried to the consumer as
// message headers.
type Request struct {
	Key string `json:"key"`

	NumberOfMessages       int  `json:"numberOfMessages"`
	SizeOfMessage          int  `json:"sizeOfMessage"`
	PersistentMessage      bool `json:"persistentMessage"`
	DelayMessageProcess    int  `json:"delayMessageProcess"`
	MessageThrowsException bool `json:"messageThrowsException"`

	NumberOfForwardMessages  int  `json:"numberOfForwardMessages"`
	SizeOfForwardMessage     int  `json:"sizeOfForwardMessage"`
	PersistentForwardMessage bool `json:"persistentForwardMessage"`
}

// DefaultRequest returns a request for key with every parameter at its default.
func DefaultRequest(key string) Request {
	return Request{
		Key:                     key,
		NumberOfMessages:        DefaultNumberOfMessages,
		SizeOfMessage:           DefaultSizeOfMessage,
		NumberOfForwardMessages: DefaultNumberOfForwardMessages,
		SizeOfForwardMessage:    DefaultSizeOfForwardMessage,
	}
}

// Validate checks the request and returns an apperrors validation error for
// the first offending field. Sizes are capped at payload.MaxSizeKB so every
// message fits in one Kafka produce batch.
func (r Request) Validate() error {
	if r.Key == "" {
		return apperrors.Validation("key", "key is required")
	}
	if len(r.Key) > broker.MaxKeyBytes {
		return apperrors.Validation("key", fmt.Sprintf("key exceeds maximum of %d bytes", broker.MaxKeyBytes))
	}
	if r.NumberOfMessages < 0 {
		return apperrors.Validation("number_of_messages", "number_of_messages must not be negative")
	}
	if err := validateSize("size_of_message", r.SizeOfMessage); err != nil {
		return err
	}
	if r.DelayMessageProcess < 0 {
		return apperrors.Validation("delay_message_process", "delay_message_process must not be negative")
	}
	if r.NumberOfForwardMessages < 0 {
		return apperrors.Validation("number_of_forward_messages", "number_of_forward_messages must not be negative")
	}
	return validateSize("size_of_forward_message", r.SizeOfForwardMessage)
}

func validateSize(field string, sizeKB int) error {
	if sizeKB < 0 {
		return apperrors.Validation(field, field+" must not be negative")
	}
	if sizeKB > payload.MaxSizeKB {
		return apperrors.Validation(field, fmt.Sprintf("%s exceeds maximum of %d kB", field, payload.MaxSizeKB))
	}
	return nil
}

// properties returns the consumer-side knobs of r.
func (r Request) properties() broker.Properties {
	return broker.Properties{
		DelayMessageProcess:      r.DelayMessageProcess,
		MessageThrowsException:   r.MessageThrowsException,
		SizeOfForwardedMessage:   r.SizeOfForwardMessage,
		NumberOfForwardMessages:  r.NumberOfForwardMessages,
		PersistentForwardMessage: r.PersistentForwardMessage,
	}
}
