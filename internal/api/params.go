package api

import (
	"loadharness/internal/apperrors"
	"loadharness/internal/producer"
	"net/url"
	"strconv"
)

// Query parameters of POST /api/log/{key}.
const (
	paramDelayMessageProcess      = "delay_message_process"
	paramMessageThrowsException   = "message_throws_exception"
	paramNumberOfMessages         = "number_of_messages"
	paramSizeOfMessage            = "size_of_message"
	paramPersistentMessage        = "persistent_message"
	paramNumberOfForwardMessages  = "number_of_forward_messages"
	paramSizeOfForwardMessage     = "size_of_forward_message"
	paramPersistentForwardMessage = "persistent_forward_message"
)

// parseLoadRequest builds a producer request from query parameters. Absent
// parameters keep their defaults.
func parseLoadRequest(key string, q url.Values) (producer.Request, error) {
	req := producer.DefaultRequest(key)

	ints := []struct {
		name string
		dst  *int
	}{
		{paramDelayMessageProcess, &req.DelayMessageProcess},
		{paramNumberOfMessages, &req.NumberOfMessages},
		{paramSizeOfMessage, &req.SizeOfMessage},
		{paramNumberOfForwardMessages, &req.NumberOfForwardMessages},
		{paramSizeOfForwardMessage, &req.SizeOfForwardMessage},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return producer.Request{}, apperrors.Validation(p.name, p.name+" must be an integer")
		}
		*p.dst = v
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{paramMessageThrowsException, &req.MessageThrowsException},
		{paramPersistentMessage, &req.PersistentMessage},
		{paramPersistentForwardMessage, &req.PersistentForwardMessage},
	}
	for _, p := range bools {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return producer.Request{}, apperrors.Validation(p.name, p.name+" must be a boolean")
		}
		*p.dst = v
	}

	return req, nil
}
