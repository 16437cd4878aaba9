package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// Options holds the per-job options of an Add call.
type Options struct {
	core.JobOptions
}

// NewOptions creates empty Options. Queue defaults are merged in by Add.
func NewOptions() *Options {
	return &Options{}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// JobID sets a custom job id. Adding a job whose id exists is a no-op that
// returns the stored job.
func JobID(id string) Option {
	return optionFunc(func(o *Options) {
		o.JobID = id
	})
}

// Priority sets the job priority. 1 is the highest, 0 means none.
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
		o.Mark(core.FieldPriority)
	})
}

// Attempts sets the total number of attempts.
// Values are clamped to [0, security.MaxAttempts]; 0 means a single attempt.
func Attempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.Attempts = security.ClampAttempts(n)
		o.Mark(core.FieldAttempts)
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
		o.Mark(core.FieldDelay)
	})
}

// At schedules the job to run at a specific time. A time in the past runs
// the job immediately.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.Delay = max(time.Until(t), 0)
		o.Mark(core.FieldDelay)
	})
}

// Backoff sets the delay policy between attempts.
func Backoff(typ core.BackoffType, delay time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Backoff = &core.Backoff{Type: typ, Delay: delay}
	})
}

// RemoveOnComplete controls whether the job is deleted as soon as it
// completes. false keeps it even when the queue default removes it.
func RemoveOnComplete(remove bool) Option {
	return optionFunc(func(o *Options) {
		o.RemoveOnComplete = remove
		o.Mark(core.FieldRemoveOnComplete)
	})
}

// RemoveOnFail controls whether the job is deleted as soon as it fails for
// good.
func RemoveOnFail(remove bool) Option {
	return optionFunc(func(o *Options) {
		o.RemoveOnFail = remove
		o.Mark(core.FieldRemoveOnFail)
	})
}

// Repeat makes the job repeatable. The first iteration is delayed until the
// schedule's next run time.
func Repeat(r core.Repeat) Option {
	return optionFunc(func(o *Options) {
		o.Repeat = &r
	})
}

// JobOptions applies a whole option set at once, with the same precedence
// rules as queue defaults. Mark fields on opts to apply their zero values.
func JobOptions(opts core.JobOptions) Option {
	return optionFunc(func(o *Options) {
		o.JobOptions = core.MergeOptions(o.JobOptions, opts)
	})
}

// Config holds queue-wide settings.
type Config struct {
	Codec             core.Codec
	Logger            *slog.Logger
	DefaultJobOptions core.JobOptions
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithCodec sets the payload codec. JSON is the default.
func WithCodec(c core.Codec) ConfigOption {
	return func(cfg *Config) {
		cfg.Codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithDefaultJobOptions sets options applied to every job before its own.
func WithDefaultJobOptions(opts core.JobOptions) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultJobOptions = opts
	}
}
