package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/store/memory"
	"github.com/xraph/asyncjob/store/mongo"
	"github.com/xraph/asyncjob/store/postgres"
	redisstore "github.com/xraph/asyncjob/store/redis"
	"github.com/xraph/asyncjob/store/sqlite"
)

// Store is the composite persistence interface every backend implements.
type Store interface {
	job.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources the store owns.
	Close() error
}

// Compile-time checks for every backend.
var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*redisstore.Store)(nil)
	_ Store = (*mongo.Store)(nil)
)

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverRedis    Driver = "redis"
	DriverMongo    Driver = "mongo"
)

// ParseDriver converts a configuration string into a Driver.
func ParseDriver(s string) (Driver, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverRedis, DriverMongo:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", asyncjob.ErrUnknownDriver, s)
	}
}

// Config selects and configures a backend.
type Config struct {
	// Driver is the backend to open.
	Driver Driver

	// DSN is the driver-specific connection string: a postgres:// URL, a
	// SQLite file path, a redis:// URL or a mongodb:// URI. Ignored by the
	// memory driver.
	DSN string

	// Database is the MongoDB database name. Defaults to "asyncjob".
	Database string

	// Logger is passed to the backend. Defaults to slog.Default().
	Logger *slog.Logger
}

// Open constructs the backend named by cfg.Driver. The returned Store owns
// every connection it opened and releases them on Close. Open does not
// migrate; call Migrate once at startup.
func Open(ctx context.Context, cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), nil

	case DriverPostgres:
		return postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))

	case DriverSQLite:
		return sqlite.New(ctx, cfg.DSN, sqlite.WithLogger(logger))

	case DriverRedis:
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("asyncjob/store: parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return &ownedStore{
			Store:   redisstore.New(client, redisstore.WithLogger(logger)),
			release: client.Close,
		}, nil

	case DriverMongo:
		dbName := cfg.Database
		if dbName == "" {
			dbName = "asyncjob"
		}
		return mongo.Open(ctx, cfg.DSN, dbName, mongo.WithLogger(logger))

	default:
		return nil, fmt.Errorf("%w: %q", asyncjob.ErrUnknownDriver, cfg.Driver)
	}
}

// ownedStore closes a connection the wrapped backend borrowed.
type ownedStore struct {
	Store
	release func() error
}

func (o *ownedStore) Close() error {
	return errors.Join(o.Store.Close(), o.release())
}
