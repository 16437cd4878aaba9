package scheduler

import (
	"log/slog"
	"time"
)

// Config holds scheduler configuration.
type Config struct {
	// Queues are the queues to maintain.
	Queues []string

	// MaxStalledCount is how often a job may stall before it fails.
	// Default: 1
	MaxStalledCount int

	// StalledInterval is the time between stall checks.
	// Default: 30s
	StalledInterval time.Duration

	// MinDelay floors the sleep between passes.
	// Default: 10ms
	MinDelay time.Duration

	// MaxDelay caps the sleep between passes. The cap is jittered by up to
	// 10% so that schedulers started together drift apart.
	// Default: 5s
	MaxDelay time.Duration

	// PromoteLimit is the number of delayed jobs promoted per queue and pass.
	// Default: 1000
	PromoteLimit int

	// EventRetention is how long stores with an event outbox keep events.
	// Default: 24h
	EventRetention time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxStalledCount: 1,
		StalledInterval: 30 * time.Second,
		MinDelay:        10 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		PromoteLimit:    1000,
		EventRetention:  24 * time.Hour,
		Logger:          slog.Default(),
	}
}

// Option configures a Scheduler.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// Queues adds queues to maintain.
func Queues(names ...string) Option {
	return optionFunc(func(c *Config) {
		c.Queues = append(c.Queues, names...)
	})
}

// MaxStalledCount sets how often a job may stall before it fails.
func MaxStalledCount(n int) Option {
	return optionFunc(func(c *Config) {
		if n >= 0 {
			c.MaxStalledCount = n
		}
	})
}

// StalledInterval sets the time between stall checks.
func StalledInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.StalledInterval = d
		}
	})
}

// Delays sets the floor and cap of the sleep between passes.
func Delays(minDelay, maxDelay time.Duration) Option {
	return optionFunc(func(c *Config) {
		if minDelay > 0 {
			c.MinDelay = minDelay
		}
		if maxDelay >= c.MinDelay {
			c.MaxDelay = maxDelay
		}
	})
}

// PromoteLimit sets the number of delayed jobs promoted per queue and pass.
func PromoteLimit(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.PromoteLimit = n
		}
	})
}

// EventRetention sets how long persisted events are kept.
func EventRetention(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.EventRetention = d
		}
	})
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}
