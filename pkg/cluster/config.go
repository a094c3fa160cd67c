package cluster

import "time"

// MonitorConfig configures the cluster health service.
type MonitorConfig struct {
	// LocalInstanceID identifies this instance in replication link IDs
	// and hostnames.
	LocalInstanceID string

	// CheckInterval is how often the background loop runs a health check.
	CheckInterval time.Duration

	// CheckTimeout bounds one health check cycle, including the status
	// feed poll and the isolated-record count. Short on purpose: a
	// timed-out peer should register as unreachable, not hang the check.
	CheckTimeout time.Duration
}

// DefaultMonitorConfig returns a safe default configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval: 15 * time.Second,
		CheckTimeout:  5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *MonitorConfig) Validate() error {
	if c.LocalInstanceID == "" {
		return ErrMissingInstanceID
	}
	if c.CheckInterval < time.Second {
		return ErrIntervalTooSmall
	}
	if c.CheckTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}
