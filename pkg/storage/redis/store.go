package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Compile-time interface checks.
var (
	_ core.Storage     = (*Store)(nil)
	_ core.EventSource = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key under prefix instead of DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock replaces the wall clock used for timestamps and due times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements core.Storage backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	prefix string
	now    func() time.Time
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Prefix returns the key namespace of the store.
func (s *Store) Prefix() string { return s.prefix }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return wrapErr("ping", s.client.Ping(ctx).Err())
}

// run executes a script against a queue. The first three script arguments
// are always the prefix, the queue and the current time.
func (s *Store) run(ctx context.Context, script *goredis.Script, queue string, args ...any) (any, error) {
	argv := make([]any, 0, len(args)+3)
	argv = append(argv, s.prefix, queue, s.now().UnixMilli())
	argv = append(argv, args...)
	return script.Run(ctx, s.client, []string{s.queueKey(queue)}, argv...).Result()
}

// wrapErr adds the operation to err and marks connectivity failures.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, goredis.ErrClosed) {
		err = core.Unavailable(err)
	}
	return fmt.Errorf("jobs/redis: %s: %w", op, err)
}

// codeErr maps a negative script reply to its sentinel error.
func codeErr(v any) error {
	code, ok := v.(int64)
	if !ok || code >= 0 {
		return nil
	}
	switch code {
	case codeJobNotFound:
		return core.ErrJobNotFound
	case codeLockMismatch:
		return core.ErrLockMismatch
	case codeNotActive:
		return core.ErrJobNotActive
	case codeJobActive:
		return core.ErrJobActive
	case codeDuplicate:
		return core.ErrDuplicateJob
	default:
		return fmt.Errorf("jobs/redis: unexpected script reply %d", code)
	}
}
