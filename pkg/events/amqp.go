package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Publisher is the subset of *amqp.Channel the relay needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig holds RabbitMQ relay settings.
type AMQPConfig struct {
	URL               string
	Exchange          string
	ExchangeType      string
	Durable           bool
	PublishRetries    int
	PublishRetryDelay time.Duration
	Heartbeat         time.Duration
}

func (c *AMQPConfig) setDefaults() {
	if c.ExchangeType == "" {
		c.ExchangeType = amqp.ExchangeTopic
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 3
	}
	if c.PublishRetryDelay <= 0 {
		c.PublishRetryDelay = 100 * time.Millisecond
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 10 * time.Second
	}
}

// AMQPRelay publishes queue events to an exchange with routing key
// "<queue>.<event>", so consumers can bind "emails.*" or "*.failed".
type AMQPRelay struct {
	cfg    AMQPConfig
	pub    Publisher
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// DialAMQPRelay connects to RabbitMQ and declares the exchange.
func DialAMQPRelay(cfg AMQPConfig, logger *slog.Logger) (*AMQPRelay, error) {
	cfg.setDefaults()
	if cfg.Exchange == "" {
		return nil, errors.New("jobs/amqp: exchange name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Heartbeat: cfg.Heartbeat, Locale: "en_US"})
	if err != nil {
		return nil, fmt.Errorf("jobs/amqp: dial: %w", errors.Join(core.ErrStoreUnavailable, err))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobs/amqp: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange,     // name
		cfg.ExchangeType, // type
		cfg.Durable,      // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("jobs/amqp: declare exchange: %w", err)
	}
	r := NewAMQPRelay(cfg, ch, logger)
	r.conn = conn
	r.ch = ch
	logger.Info("amqp relay connected", "exchange", cfg.Exchange)
	return r, nil
}

// NewAMQPRelay builds a relay over an already configured publisher.
func NewAMQPRelay(cfg AMQPConfig, pub Publisher, logger *slog.Logger) *AMQPRelay {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPRelay{cfg: cfg, pub: pub, logger: logger, sleep: sleepCtx}
}

// RoutingKey returns the routing key an event is published under.
func RoutingKey(ev core.Event) string {
	var queue string
	switch e := ev.(type) {
	case *core.JobEvent:
		queue = e.Queue
	case *core.QueueEvent:
		queue = e.Queue
	}
	return queue + "." + string(ev.Kind())
}

// Publish sends one event, retrying with exponential backoff.
func (r *AMQPRelay) Publish(ctx context.Context, ev core.Event) error {
	body, err := core.EncodeEvent(ev)
	if err != nil {
		return err
	}
	key := RoutingKey(ev)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         string(ev.Kind()),
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.PublishRetries; attempt++ {
		lastErr = r.pub.PublishWithContext(ctx, r.cfg.Exchange, key, false, false, msg)
		if lastErr == nil {
			r.logger.Debug("event relayed", "routing_key", key, "body_size", len(body))
			return nil
		}
		if attempt == r.cfg.PublishRetries {
			break
		}
		backoff := r.cfg.PublishRetryDelay * time.Duration(1<<attempt)
		r.logger.Warn("event publish failed, retrying",
			"routing_key", key,
			"attempt", attempt+1,
			"retry_after", backoff,
			"error", lastErr,
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("jobs/amqp: publish %s after %d attempts: %w", key, r.cfg.PublishRetries+1, lastErr)
}

// Run relays the events of every queue until ctx is done. A publish that
// still fails after retries is logged and the event dropped.
func (r *AMQPRelay) Run(ctx context.Context, src core.EventSource, queues ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		ch, err := src.Subscribe(gctx, queue)
		if err != nil {
			return fmt.Errorf("jobs/amqp: subscribe to %s: %w", queue, err)
		}
		g.Go(func() error {
			for {
				var ev core.Event
				var ok bool
				select {
				case <-gctx.Done():
					return nil
				case ev, ok = <-ch:
					if !ok {
						return nil
					}
				}
				if err := r.Publish(gctx, ev); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					r.logger.Error("dropping event", "routing_key", RoutingKey(ev), "error", err)
				}
			}
		})
	}
	return g.Wait()
}

// Close closes the channel and connection opened by DialAMQPRelay.
func (r *AMQPRelay) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.logger.Error("failed to close amqp channel", "error", err)
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
