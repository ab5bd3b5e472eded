package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"loadharness/pkg/circuitbreaker"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MaxMessageBytes is the largest produce batch a writer sends. Workers write
// one message per batch, so it caps a single message including key and headers.
const MaxMessageBytes = 1 << 20

// MaxKeyBytes bounds message keys so a payload of payload.MaxSizeKB still fits
// in MaxMessageBytes.
const MaxKeyBytes = 1024

// Writer names, also the breaker names used for readiness.
const (
	writerDurable    = "durable"
	writerNonDurable = "non-durable"
)

// KafkaSink delivers messages to one topic. Durable deliveries wait for all
// in-sync replicas; non-durable ones for the leader only.
type KafkaSink struct {
	durable    messageWriter
	nonDurable messageWriter
	breakers   *circuitbreaker.Registry // consecutive write failures per writer
	brokers    []string
	topic      string
	logger     *slog.Logger
}

// NewKafkaSink creates a sink writing to topic.
func NewKafkaSink(cfg Config, topic string) *KafkaSink {
	cfg = cfg.withDefaults()
	return &KafkaSink{
		durable:    newWriter(cfg, topic, kafka.RequireAll),
		nonDurable: newWriter(cfg, topic, kafka.RequireOne),
		breakers:   circuitbreaker.NewRegistry(cfg.Breaker),
		brokers:    cfg.Brokers,
		topic:      topic,
		logger:     slog.With("component", "kafka-sink", "topic", topic),
	}
}

func newWriter(cfg Config, topic string, acks kafka.RequiredAcks) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		WriteTimeout: cfg.WriteTimeout,
		// Workers write one message at a time; the 1s default would throttle them.
		BatchTimeout:           5 * time.Millisecond,
		BatchBytes:             MaxMessageBytes,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}
}

// Deliver writes msg. A fresh message ID is stamped on every delivery.
func (s *KafkaSink) Deliver(ctx context.Context, msg Message, durable bool) error {
	w, name := s.nonDurable, writerNonDurable
	if durable {
		w, name = s.durable, writerDurable
	}
	err := w.WriteMessages(ctx, toKafka(msg, uuid.NewString()))
	s.breakers.Get(name).Observe(err)
	if err != nil {
		return fmt.Errorf("write to %s: %w", s.topic, err)
	}
	return nil
}

// Ready reports whether at least one configured broker accepts connections
// and no writer is in a streak of failed deliveries.
func (s *KafkaSink) Ready(ctx context.Context) error {
	names, statuses := s.breakers.Tripped()
	var failing []string
	for _, name := range names {
		st := statuses[name]
		if st.State != circuitbreaker.Open {
			continue
		}
		failing = append(failing, fmt.Sprintf("%s writes failing (%d in a row): %v", name, st.Failures, st.LastError))
	}
	if len(failing) > 0 {
		return fmt.Errorf("topic %s: %s", s.topic, strings.Join(failing, "; "))
	}
	return dialAny(ctx, s.brokers)
}

// Close flushes and closes both writers.
func (s *KafkaSink) Close() error {
	err := errors.Join(s.durable.Close(), s.nonDurable.Close())
	if err != nil {
		s.logger.Warn("Kafka sink close failed", "error", err)
		return err
	}
	s.logger.Info("Kafka sink closed")
	return nil
}

// KafkaSource reads messages from a topic as part of a consumer group.
type KafkaSource struct {
	reader  messageReader
	brokers []string
}

// NewKafkaSource creates a group reader on topic.
func NewKafkaSource(cfg Config, topic string) *KafkaSource {
	cfg = cfg.withDefaults()
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10 << 20,
			MaxWait:  500 * time.Millisecond,
		}),
		brokers: cfg.Brokers,
	}
}

// Fetch blocks until the next message is available or ctx is done.
func (s *KafkaSource) Fetch(ctx context.Context) (Message, error) {
	km, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return fromKafka(km), nil
}

// Commit marks msg as processed for the consumer group.
func (s *KafkaSource) Commit(ctx context.Context, msg Message) error {
	return s.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Ready reports whether at least one configured broker accepts connections.
func (s *KafkaSource) Ready(ctx context.Context) error {
	return dialAny(ctx, s.brokers)
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func dialAny(ctx context.Context, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	if len(errs) == 0 {
		return errors.New("no brokers configured")
	}
	return fmt.Errorf("no broker reachable: %w", errors.Join(errs...))
}

func toKafka(msg Message, id string) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(id)})
	for k, v := range msg.Headers {
		if k == HeaderMessageID {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func fromKafka(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		ID:        headers[HeaderMessageID],
		Key:       string(km.Key),
		Payload:   km.Value,
		Headers:   headers,
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
	}
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = SinkFunc(nil)
)
