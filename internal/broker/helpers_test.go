package broker

import (
	"io"
	"log/slog"
	"loadharness/pkg/circuitbreaker"
	"time"
)

const testBreakerThreshold = 2

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSink builds a sink over fake writers with no brokers configured.
func newTestSink(durable, nonDurable messageWriter, topic string) *KafkaSink {
	return &KafkaSink{
		durable:    durable,
		nonDurable: nonDurable,
		breakers:   circuitbreaker.NewRegistry(circuitbreaker.Config{Threshold: testBreakerThreshold, Cooldown: time.Hour}),
		topic:      topic,
		logger:     testLogger(),
	}
}
