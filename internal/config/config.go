// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds the HTTP surface configuration shared by the producer and consumer binaries.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
// defaultPort differs per binary so both can run on one host.
func LoadServiceConfig(defaultPort, defaultMetricsPort string) *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", defaultPort),
		MetricsPort:       GetEnv("METRICS_PORT", defaultMetricsPort),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}
