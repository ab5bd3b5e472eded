package dispatcher

import (
	"loadharness/internal/config"
	"time"
)

// Slot reservation bounds used by the two callers of the engine.
const (
	ProducerSlotTimeout = 5 * time.Second
	ForwardSlotTimeout  = time.Minute
)

const (
	defaultPoolSize     = 4
	defaultSlotTimeout  = time.Minute
	defaultDrainTimeout = time.Minute
)

// Config holds configuration for the dispatch engine.
type Config struct {
	PoolSize     int           // concurrent deliveries and worker goroutines (default: 4)
	SlotTimeout  time.Duration // bounded wait for a free slot before logging and retrying (default: 1m)
	DrainTimeout time.Duration // wait for in-flight deliveries once the target is admitted (default: 1m)
}

// LoadConfigFromEnv loads engine configuration from environment variables.
// slotTimeout is the caller-specific default for DISPATCH_SLOT_TIMEOUT.
func LoadConfigFromEnv(slotTimeout time.Duration) Config {
	cfg := Config{
		PoolSize:     config.GetIntEnv("DISPATCH_POOL_SIZE", defaultPoolSize),
		SlotTimeout:  config.GetDurationEnv("DISPATCH_SLOT_TIMEOUT", slotTimeout),
		DrainTimeout: config.GetDurationEnv("DISPATCH_DRAIN_TIMEOUT", defaultDrainTimeout),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.SlotTimeout <= 0 {
		c.SlotTimeout = defaultSlotTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}
