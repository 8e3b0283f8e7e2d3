// Package worker consumes queued readings and turns them into stored points
// and anomaly notifications.
package worker

import (
	"time"
)

// Config holds configuration for the processing worker.
type Config struct {
	// StoragePrecision is the geohash length used to tag stored points.
	// Default: 7
	StoragePrecision int

	// Concurrency is the number of messages processed in parallel. It is
	// applied by the queue adapter; the pool only reports it.
	// Default: 10
	Concurrency int

	// StoreTimeout bounds each store write for one message.
	// Default: 5 seconds
	StoreTimeout time.Duration

	// NotifyTimeout bounds the hand-off of each anomaly to the notifier.
	// Default: 2 seconds
	NotifyTimeout time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		StoragePrecision: 7,
		Concurrency:      10,
		StoreTimeout:     5 * time.Second,
		NotifyTimeout:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StoragePrecision <= 0 {
		c.StoragePrecision = d.StoragePrecision
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}
