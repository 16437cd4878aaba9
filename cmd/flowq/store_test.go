package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/internal/config"
	"github.com/jdziat/simple-flow-queue/pkg/storage"
	"github.com/jdziat/simple-flow-queue/pkg/storage/redis"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Store.Redis.Prefix = "flowq"

	b, err := openStore(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer b.Close()

	store, ok := b.Storage.(*redis.Store)
	require.True(t, ok)
	assert.Equal(t, "flowq", store.Prefix())
	assert.Nil(t, b.DB)
}

func TestOpenStore_SQLiteMigrates(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.Database.DSN = filepath.Join(t.TempDir(), "flowq.db")

	b, err := openStore(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, b.DB)
	_, ok := b.Storage.(*storage.GormStorage)
	require.True(t, ok)
	assert.True(t, b.DB.Migrator().HasTable("jobs"))
	assert.True(t, b.DB.Migrator().HasTable("job_events"))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mysql"
	_, err := openStore(context.Background(), cfg, discard)
	assert.Error(t, err)
}

func TestWaitReady_GivesUpOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Redis.Addr = mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := openStore(ctx, cfg, discard)
	assert.Error(t, err)
}
