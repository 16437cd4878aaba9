// Package config loads the flowq service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store drivers.
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the complete service configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Queues    []string        `yaml:"queues"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Stats     StatsConfig     `yaml:"stats"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the job store
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds SQL connection and pool settings
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// SchedulerConfig holds delayed promotion and stall detection settings
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxStalledCount int           `yaml:"max_stalled_count"`
	StalledInterval time.Duration `yaml:"stalled_interval"`
	MinDelay        time.Duration `yaml:"min_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	EventRetention  time.Duration `yaml:"event_retention"`
}

// EventsConfig holds event relay settings
type EventsConfig struct {
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig holds RabbitMQ relay settings
type AMQPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Exchange       string        `yaml:"exchange"`
	ExchangeType   string        `yaml:"exchange_type"`
	Durable        bool          `yaml:"durable"`
	PublishRetries int           `yaml:"publish_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

// StatsConfig holds throughput history settings
type StatsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Default returns the configuration used for fields the file leaves out.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "flowq", Environment: "development"},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverRedis,
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "bull"},
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: time.Minute,
				PollInterval:    100 * time.Millisecond,
				AutoMigrate:     true,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			MaxStalledCount: 1,
			StalledInterval: 30 * time.Second,
			MinDelay:        10 * time.Millisecond,
			MaxDelay:        5 * time.Second,
			EventRetention:  24 * time.Hour,
		},
		Events: EventsConfig{AMQP: AMQPConfig{
			Exchange:       "flowq.events",
			ExchangeType:   "topic",
			Durable:        true,
			PublishRetries: 3,
			RetryInterval:  100 * time.Millisecond,
			Heartbeat:      10 * time.Second,
		}},
		Stats:   StatsConfig{Interval: time.Minute, Retention: 7 * 24 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
	}
}

// Load reads the configuration file on top of Default and applies
// environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FLOWQ_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"FLOWQ_ENV":            &c.App.Environment,
		"FLOWQ_STORE_DRIVER":   &c.Store.Driver,
		"FLOWQ_REDIS_ADDR":     &c.Store.Redis.Addr,
		"FLOWQ_REDIS_PASSWORD": &c.Store.Redis.Password,
		"FLOWQ_REDIS_PREFIX":   &c.Store.Redis.Prefix,
		"FLOWQ_DATABASE_DSN":   &c.Store.Database.DSN,
		"FLOWQ_AMQP_URL":       &c.Events.AMQP.URL,
		"FLOWQ_LOG_LEVEL":      &c.Logging.Level,
		"FLOWQ_LOG_FORMAT":     &c.Logging.Format,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FLOWQ_HTTP_PORT": &c.Server.Port,
		"FLOWQ_REDIS_DB":  &c.Store.Redis.DB,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("FLOWQ_AMQP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWQ_AMQP_ENABLED: %w", err)
		}
		c.Events.AMQP.Enabled = b
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Queues) == 0 {
		return errors.New("at least one queue is required")
	}

	if c.Server.Enabled && (c.Server.Port < MinPort || c.Server.Port > MaxPort) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("redis addr is required")
		}
	case DriverPostgres, DriverSQLite:
		if c.Store.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.MaxStalledCount < 0 {
			return errors.New("scheduler max_stalled_count must not be negative")
		}
		if c.Scheduler.StalledInterval <= 0 {
			return errors.New("scheduler stalled_interval must be greater than 0")
		}
	}

	if c.Events.AMQP.Enabled {
		if c.Events.AMQP.URL == "" {
			return errors.New("amqp url is required when the relay is enabled")
		}
		if c.Events.AMQP.Exchange == "" {
			return errors.New("amqp exchange name is required")
		}
	}

	if c.Stats.Enabled && c.Store.Driver == DriverRedis {
		return errors.New("stats history needs a sql store driver")
	}

	return nil
}
