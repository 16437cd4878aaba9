package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 1*time.Minute, cfg.ConnMaxIdleTime)
}

func TestSingleConnPoolConfig(t *testing.T) {
	cfg := SingleConnPoolConfig()

	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 1, cfg.MaxIdleConns)
}

func TestPoolOptions(t *testing.T) {
	cfg := PoolConfig{}

	MaxOpenConns(50).applyPool(&cfg)
	MaxIdleConns(20).applyPool(&cfg)
	ConnMaxLifetime(10 * time.Minute).applyPool(&cfg)
	ConnMaxIdleTime(2 * time.Minute).applyPool(&cfg)

	assert.Equal(t, PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    20,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}, cfg)
}

func TestWithPoolConfig_LaterOptionsWin(t *testing.T) {
	cfg := DefaultPoolConfig()

	WithPoolConfig(SingleConnPoolConfig()).applyPool(&cfg)
	MaxIdleConns(0).applyPool(&cfg)

	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 0, cfg.MaxIdleConns)
	assert.Zero(t, cfg.ConnMaxLifetime)
}

func TestConfigurePool(t *testing.T) {
	db := openMemoryDB(t)

	err := ConfigurePool(db,
		MaxOpenConns(30),
		MaxIdleConns(15),
		ConnMaxLifetime(7*time.Minute),
		ConnMaxIdleTime(90*time.Second),
	)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Only the open connection cap is visible through Stats.
	assert.Equal(t, 30, sqlDB.Stats().MaxOpenConnections)
}

func TestConfigurePool_DefaultValues(t *testing.T) {
	db := openMemoryDB(t)

	require.NoError(t, ConfigurePool(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 25, sqlDB.Stats().MaxOpenConnections)
}

func TestNewGormStorageWithPool(t *testing.T) {
	db := openMemoryDB(t)

	store, err := NewGormStorageWithPool(db,
		[]PoolOption{MaxOpenConns(40), MaxIdleConns(20)},
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, 10*time.Millisecond, store.pollInterval)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 40, sqlDB.Stats().MaxOpenConnections)
}
