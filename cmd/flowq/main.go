// Command flowq runs the maintenance side of a flow queue deployment: the
// scheduler that promotes delayed jobs and reclaims stalled ones, the admin
// HTTP API, the optional AMQP event relay and the stats collectors.
// Workers run in the applications that register handlers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-flow-queue/internal/api/handler"
	"github.com/jdziat/simple-flow-queue/internal/api/router"
	"github.com/jdziat/simple-flow-queue/internal/config"
	"github.com/jdziat/simple-flow-queue/internal/logger"
	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/events"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/scheduler"
	"github.com/jdziat/simple-flow-queue/pkg/stats"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	defaultConfigPath := os.Getenv("FLOWQ_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/flowq.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, logCloser, err := logger.New(logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(appLogger)

	appLogger.Info("starting flowq",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Store.Driver),
		slog.Any("queues", cfg.Queues),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer backend.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(backend.Storage,
			scheduler.Queues(cfg.Queues...),
			scheduler.MaxStalledCount(cfg.Scheduler.MaxStalledCount),
			scheduler.StalledInterval(cfg.Scheduler.StalledInterval),
			scheduler.Delays(cfg.Scheduler.MinDelay, cfg.Scheduler.MaxDelay),
			scheduler.EventRetention(cfg.Scheduler.EventRetention),
			scheduler.WithLogger(appLogger.With("component", "scheduler")),
		)
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if cfg.Events.AMQP.Enabled {
		relay, err := startRelay(gctx, g, cfg, backend.Storage, appLogger)
		if err != nil {
			return err
		}
		defer relay.Close()
	}

	var statsStore stats.Storage
	if cfg.Stats.Enabled {
		s, err := startStats(gctx, g, cfg, backend, appLogger)
		if err != nil {
			return err
		}
		statsStore = s
	}

	if cfg.Server.Enabled {
		startServer(gctx, g, cfg, backend.Storage, statsStore, appLogger)
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLogger.Info("flowq stopped")
	return nil
}

func startRelay(ctx context.Context, g *errgroup.Group, cfg *config.Config, s core.Storage, log *slog.Logger) (*events.AMQPRelay, error) {
	src, ok := s.(core.EventSource)
	if !ok {
		return nil, core.ErrNoEventSource
	}
	a := cfg.Events.AMQP
	relay, err := events.DialAMQPRelay(events.AMQPConfig{
		URL:               a.URL,
		Exchange:          a.Exchange,
		ExchangeType:      a.ExchangeType,
		Durable:           a.Durable,
		PublishRetries:    a.PublishRetries,
		PublishRetryDelay: a.RetryInterval,
		Heartbeat:         a.Heartbeat,
	}, log.With("component", "amqp-relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize amqp relay: %w", err)
	}
	g.Go(func() error {
		return relay.Run(ctx, src, cfg.Queues...)
	})
	return relay, nil
}

func startStats(ctx context.Context, g *errgroup.Group, cfg *config.Config, b *backend, log *slog.Logger) (stats.Storage, error) {
	if b.DB == nil {
		return nil, errors.New("stats history needs a sql store")
	}
	statsStore := stats.NewGormStorage(b.DB)
	if err := statsStore.MigrateStats(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate stats: %w", err)
	}
	for _, name := range cfg.Queues {
		q, err := queue.New(b.Storage, name, queue.WithLogger(log))
		if err != nil {
			return nil, err
		}
		if err := q.Listen(ctx); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", name, err)
		}
		collector := stats.NewCollector(q, statsStore,
			stats.WithInterval(cfg.Stats.Interval),
			stats.WithRetention(cfg.Stats.Retention),
		)
		g.Go(func() error {
			collector.Start(ctx)
			return nil
		})
	}
	return statsStore, nil
}

func startServer(ctx context.Context, g *errgroup.Group, cfg *config.Config, s core.Storage, st stats.Storage, log *slog.Logger) {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(&handler.Dependencies{
		Logger:  log.With("component", "api"),
		Storage: s,
		Stats:   st,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		log.Info("starting http server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
