package producer

import (
	"context"
	"errors"
	"log/slog"
	"loadharness/internal/apperrors"
	"loadharness/internal/broker"
	"loadharness/internal/dispatcher"
	"loadharness/internal/payload"
	"time"
)

// MetricsRecorder is an optional interface for recording producer metrics.
type MetricsRecorder interface {
	RecordLoadRequest(ctx context.Context, messages int, durable bool)
}

// Result summarises a completed load run.
type Result struct {
	Request  Request       `json:"request"`
	Duration time.Duration `json:"-"`
	TookMS   int64         `json:"tookMs"`
}

// Service runs load requests against a dispatcher.
type Service struct {
	dispatcher dispatcher.Dispatcher
	metrics    MetricsRecorder
	logger     *slog.Logger
}

// NewService creates a producer service. metrics may be nil.
func NewService(d dispatcher.Dispatcher, metrics MetricsRecorder) *Service {
	return &Service{
		dispatcher: d,
		metrics:    metrics,
		logger:     slog.With("component", "producer"),
	}
}

// Post sends req.NumberOfMessages copies of one fabricated message and blocks
// until they are dispatched. An interrupted dispatch is reported as
// unavailable.
func (s *Service) Post(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordLoadRequest(ctx, req.NumberOfMessages, req.PersistentMessage)
	}

	start := time.Now()
	err := s.dispatcher.Dispatch(ctx, dispatcher.Request{
		Message: broker.Message{
			Key:     req.Key,
			Payload: payload.Fill(req.SizeOfMessage),
			Headers: req.properties().Headers(),
		},
		Target:  req.NumberOfMessages,
		Durable: req.PersistentMessage,
	})
	if err != nil {
		if errors.Is(err, dispatcher.ErrInterrupted) {
			return nil, apperrors.Unavailable("dispatch", err)
		}
		return nil, apperrors.Internal("dispatch", err)
	}
	took := time.Since(start)

	s.logger.Info("Messages sent",
		"key", req.Key,
		"took_ms", took.Milliseconds(),
		"number_of_messages", req.NumberOfMessages,
		"size_of_message_kb", req.SizeOfMessage,
		"delay_message_process_ms", req.DelayMessageProcess,
		"message_throws_exception", req.MessageThrowsException,
		"persistent_message", req.PersistentMessage,
		"number_of_forward_messages", req.NumberOfForwardMessages,
		"size_of_forward_message_kb", req.SizeOfForwardMessage,
		"persistent_forward_message", req.PersistentForwardMessage,
	)

	return &Result{Request: req, Duration: took, TookMS: took.Milliseconds()}, nil
}
