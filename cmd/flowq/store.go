package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jdziat/simple-flow-queue/internal/config"
	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/storage"
	"github.com/jdziat/simple-flow-queue/pkg/storage/redis"
)

const connectAttempts = 5

// backend is an opened store together with what must be closed.
type backend struct {
	Storage core.Storage
	// DB is set for the SQL drivers.
	DB    *gorm.DB
	close func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// openStore connects to the configured store, retrying the first ping with
// a growing pause, and migrates SQL schemas when enabled.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	var b *backend
	switch cfg.Store.Driver {
	case config.DriverRedis:
		r := cfg.Store.Redis
		client := goredis.NewClient(&goredis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
		})
		b = &backend{
			Storage: redis.New(client, redis.WithPrefix(r.Prefix), redis.WithLogger(log)),
			close:   client.Close,
		}
	case config.DriverPostgres, config.DriverSQLite:
		var err error
		if b, err = openSQL(cfg, log); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}

	if err := waitReady(ctx, b.Storage.(pinger), log); err != nil {
		_ = b.Close()
		return nil, err
	}
	if b.DB != nil && cfg.Store.Database.AutoMigrate {
		if err := b.Storage.(*storage.GormStorage).Migrate(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}
	log.Info("store connected", slog.String("driver", cfg.Store.Driver))
	return b, nil
}

func openSQL(cfg *config.Config, log *slog.Logger) (*backend, error) {
	d := cfg.Store.Database
	var dialector gorm.Dialector
	pool := []storage.PoolOption{
		storage.MaxOpenConns(d.MaxOpenConns),
		storage.MaxIdleConns(d.MaxIdleConns),
		storage.ConnMaxLifetime(d.ConnMaxLifetime),
		storage.ConnMaxIdleTime(d.ConnMaxIdleTime),
	}
	if cfg.Store.Driver == config.DriverPostgres {
		dialector = postgres.Open(d.DSN)
	} else {
		dialector = sqlite.Open(d.DSN)
		pool = []storage.PoolOption{storage.WithPoolConfig(storage.SingleConnPoolConfig())}
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := storage.NewGormStorageWithPool(db, pool,
		storage.WithLogger(log),
		storage.WithPollInterval(d.PollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure pool: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &backend{Storage: store, DB: db, close: sqlDB.Close}, nil
}

func waitReady(ctx context.Context, p pinger, log *slog.Logger) error {
	var err error
	pause := 500 * time.Millisecond
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = p.Ping(ctx); err == nil {
			return nil
		}
		log.Warn("store not reachable",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", connectAttempts),
			slog.Any("error", err),
		)
		if attempt < connectAttempts {
			if werr := sleepUntil(ctx, pause); werr != nil {
				return werr
			}
			pause *= 2
		}
	}
	return fmt.Errorf("store unreachable after %d attempts: %w", connectAttempts, err)
}
