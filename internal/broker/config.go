package broker

import (
	"loadharness/internal/config"
	"loadharness/pkg/circuitbreaker"
	"time"
)

// Config holds Kafka connection settings.
type Config struct {
	Brokers      []string
	Topic        string // inbound load messages
	ForwardTopic string // messages forwarded by the consumer
	GroupID      string
	WriteTimeout time.Duration

	// Breaker marks a sink not ready after consecutive failed writes.
	Breaker circuitbreaker.Config
}

// LoadConfigFromEnv loads broker configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Brokers:      config.GetListEnv("KAFKA_BROKERS", nil),
		Topic:        config.GetEnv("KAFKA_TOPIC", ""),
		ForwardTopic: config.GetEnv("KAFKA_FORWARD_TOPIC", ""),
		GroupID:      config.GetEnv("KAFKA_GROUP_ID", ""),
		WriteTimeout: config.GetDurationEnv("KAFKA_WRITE_TIMEOUT", 0),
		Breaker: circuitbreaker.Config{
			Threshold: config.GetIntEnv("KAFKA_FAILURE_THRESHOLD", 0),
			Cooldown:  config.GetDurationEnv("KAFKA_FAILURE_COOLDOWN", 0),
		},
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = "logsQueue"
	}
	if c.ForwardTopic == "" {
		c.ForwardTopic = "logsQueueB"
	}
	if c.GroupID == "" {
		c.GroupID = "loadharness-consumer"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}
