package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/asyncjob/job"
)

// colJobs is the collection holding job records.
const colJobs = "asyncjob_jobs"

var _ job.Store = (*Store)(nil)

// Store is a MongoDB implementation of job.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set only when the Store owns the connection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to uri and uses database dbName. The returned Store owns
// the client and disconnects it on Close.
func Open(ctx context.Context, uri, dbName string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("asyncjob/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("asyncjob/mongo: ping: %w", err)
	}

	s := New(client.Database(dbName), opts...)
	s.client = client
	return s, nil
}

// New wraps an existing database handle. The caller owns the client
// lifecycle; Close will not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the job collection indexes. Creating an existing index
// is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.jobs().Indexes().CreateMany(ctx, jobIndexes())
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: migrate %s indexes: %w", colJobs, err)
	}
	s.logger.Info("ensured indexes", slog.String("collection", colJobs))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the client when the Store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func jobIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Status listing, oldest first.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
		// Latest job per entity.
		{Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "entity_type", Value: 1},
			{Key: "entity_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		// Timeout sweeps.
		{
			Keys: bson.D{{Key: "started_at", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{
				"status": string(job.StatusProcessing),
			}),
		},
	}
}
