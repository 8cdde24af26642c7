// Package config loads asyncjobd process settings from the environment.
// Every variable carries the ASYNCJOB_ prefix.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/reaper"
	"github.com/xraph/asyncjob/store"
)

// Prefix is prepended to every environment variable name.
const Prefix = "ASYNCJOB_"

// Broker drivers.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config is the asyncjobd process configuration.
type Config struct {
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"memory"`
	StoreDSN      string `env:"STORE_DSN"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"asyncjob"`
	Migrate       bool   `env:"MIGRATE" envDefault:"true"`

	BrokerDriver     string        `env:"BROKER_DRIVER" envDefault:"memory"`
	BrokerURL        string        `env:"BROKER_URL"`
	BrokerVisibility time.Duration `env:"BROKER_VISIBILITY_TIMEOUT" envDefault:"1h"`
	Codec            string        `env:"CODEC" envDefault:"json"`

	Concurrency     int           `env:"CONCURRENCY" envDefault:"10"`
	Queues          []string      `env:"QUEUES" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MessageTimeout  time.Duration `env:"MESSAGE_TIMEOUT" envDefault:"0s"`

	ReapInterval  time.Duration `env:"REAP_INTERVAL" envDefault:"5s"`
	ReapSchedule  string        `env:"REAP_SCHEDULE"`
	ReapBatchSize int           `env:"REAP_BATCH_SIZE" envDefault:"100"`
	PendingGrace  time.Duration `env:"PENDING_GRACE" envDefault:"1m"`
	DisableReaper bool          `env:"DISABLE_REAPER"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"json"`
	AuditLog  bool       `env:"AUDIT_LOG"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if _, err := store.ParseDriver(c.StoreDriver); err != nil {
		return fmt.Errorf("config: store driver: %w", err)
	}
	switch strings.ToLower(c.BrokerDriver) {
	case BrokerMemory:
	case BrokerRedis:
		if c.BrokerURL == "" {
			return fmt.Errorf("config: %sBROKER_URL is required for the redis broker", Prefix)
		}
	default:
		return fmt.Errorf("config: unknown broker driver %q", c.BrokerDriver)
	}
	if _, err := broker.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("config: codec: %w", err)
	}
	if c.ReapSchedule != "" {
		if _, err := reaper.ParseSchedule(c.ReapSchedule); err != nil {
			return fmt.Errorf("config: reap schedule: %w", err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.BrokerVisibility <= 0 {
		return fmt.Errorf("config: broker visibility timeout must be positive, got %s", c.BrokerVisibility)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

// Runtime returns the engine tuning.
func (c Config) Runtime() asyncjob.Config {
	return asyncjob.Config{
		Concurrency:     c.Concurrency,
		Queues:          c.Queues,
		ShutdownTimeout: c.ShutdownTimeout,
		ReapInterval:    c.ReapInterval,
		ReapBatchSize:   c.ReapBatchSize,
		PendingGrace:    c.PendingGrace,
		MessageTimeout:  c.MessageTimeout,
	}
}

// Store returns the store.Open configuration.
func (c Config) Store(logger *slog.Logger) store.Config {
	driver, _ := store.ParseDriver(c.StoreDriver)
	return store.Config{
		Driver:   driver,
		DSN:      c.StoreDSN,
		Database: c.MongoDatabase,
		Logger:   logger,
	}
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
