package flow

import (
	"log/slog"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Option configures a Producer.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	codec    core.Codec
	logger   *slog.Logger
	defaults map[string]core.JobOptions
}

func defaultConfig() *config {
	return &config{
		codec:    core.JSONCodec{},
		logger:   slog.Default(),
		defaults: make(map[string]core.JobOptions),
	}
}

// WithCodec sets the codec for job data.
func WithCodec(c core.Codec) Option {
	return optionFunc(func(cfg *config) {
		cfg.codec = c
	})
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cfg *config) {
		cfg.logger = l
	})
}

// WithQueueDefaults sets the default job options of one queue, merged under
// each node's own options.
func WithQueueDefaults(queue string, opts core.JobOptions) Option {
	return optionFunc(func(cfg *config) {
		cfg.defaults[queue] = opts
	})
}
