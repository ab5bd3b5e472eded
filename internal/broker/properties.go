package broker

import (
	"fmt"
	"loadharness/internal/payload"
	"strconv"
)

// Header names carried on every load message.
const (
	HeaderMessageID                = "messageId"
	HeaderDelayMessageProcess      = "delayMessageProcess"
	HeaderMessageThrowsException   = "messageThrowsException"
	HeaderSizeOfForwardedMessage   = "sizeOfForwardedMessage"
	HeaderNumberOfForwardMessages  = "numberOfForwardMessages"
	HeaderPersistentForwardMessage = "persistentForwardMessage"
)

// Properties are the consumer-side knobs the producer attaches to each message.
type Properties struct {
	DelayMessageProcess      int  // milliseconds the consumer sleeps before recording
	MessageThrowsException   bool // consumer fails the message before any work
	SizeOfForwardedMessage   int  // kB
	NumberOfForwardMessages  int
	PersistentForwardMessage bool
}

// Headers encodes p as message headers.
func (p Properties) Headers() map[string]string {
	return map[string]string{
		HeaderDelayMessageProcess:      strconv.Itoa(p.DelayMessageProcess),
		HeaderMessageThrowsException:   strconv.FormatBool(p.MessageThrowsException),
		HeaderSizeOfForwardedMessage:   strconv.Itoa(p.SizeOfForwardedMessage),
		HeaderNumberOfForwardMessages:  strconv.Itoa(p.NumberOfForwardMessages),
		HeaderPersistentForwardMessage: strconv.FormatBool(p.PersistentForwardMessage),
	}
}

// ParseProperties decodes headers. Absent headers decode to zero values;
// present but malformed ones are an error.
func ParseProperties(headers map[string]string) (Properties, error) {
	var (
		p   Properties
		err error
	)
	if p.DelayMessageProcess, err = intHeader(headers, HeaderDelayMessageProcess); err != nil {
		return Properties{}, err
	}
	if p.MessageThrowsException, err = boolHeader(headers, HeaderMessageThrowsException); err != nil {
		return Properties{}, err
	}
	if p.SizeOfForwardedMessage, err = intHeader(headers, HeaderSizeOfForwardedMessage); err != nil {
		return Properties{}, err
	}
	if p.NumberOfForwardMessages, err = intHeader(headers, HeaderNumberOfForwardMessages); err != nil {
		return Properties{}, err
	}
	if p.PersistentForwardMessage, err = boolHeader(headers, HeaderPersistentForwardMessage); err != nil {
		return Properties{}, err
	}
	return p, nil
}

// Validate rejects values no consumer can act on: negative counts or delays,
// and forward sizes outside [0, payload.MaxSizeKB].
func (p Properties) Validate() error {
	switch {
	case p.DelayMessageProcess < 0:
		return fmt.Errorf("header %s: %d must not be negative", HeaderDelayMessageProcess, p.DelayMessageProcess)
	case p.NumberOfForwardMessages < 0:
		return fmt.Errorf("header %s: %d must not be negative", HeaderNumberOfForwardMessages, p.NumberOfForwardMessages)
	case p.SizeOfForwardedMessage < 0:
		return fmt.Errorf("header %s: %d must not be negative", HeaderSizeOfForwardedMessage, p.SizeOfForwardedMessage)
	case p.SizeOfForwardedMessage > payload.MaxSizeKB:
		return fmt.Errorf("header %s: %d exceeds maximum of %d kB", HeaderSizeOfForwardedMessage, p.SizeOfForwardedMessage, payload.MaxSizeKB)
	}
	return nil
}

func intHeader(headers map[string]string, name string) (int, error) {
	raw, ok := headers[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("header %s: %w", name, err)
	}
	return v, nil
}

func boolHeader(headers map[string]string, name string) (bool, error) {
	raw, ok := headers[name]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("header %s: %w", name, err)
	}
	return v, nil
}
