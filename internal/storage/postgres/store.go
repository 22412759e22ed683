// Package postgres provides the Postgres-backed ingest.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/storage/docsql"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS import_batches (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_ms  BIGINT NOT NULL,
	modified_ms BIGINT NOT NULL,
	doc         JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS import_batches_state_idx ON import_batches (state, created_ms)`,
	`CREATE TABLE IF NOT EXISTS artworks (
	id     TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	doc    JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS artworks_source_idx ON artworks (source)`,
	`CREATE TABLE IF NOT EXISTS images (
	id         TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	batch      TEXT NOT NULL,
	created_ms BIGINT NOT NULL,
	doc        JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS images_hash_idx ON images (hash)`,
	`CREATE INDEX IF NOT EXISTS images_batch_idx ON images (batch)`,
	`CREATE TABLE IF NOT EXISTS sources (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
)`,
}

// Store implements ingest.Store on Postgres.
type Store struct {
	pool pool
	sql  docsql.Builder
}

var _ ingest.Store = (*Store)(nil)

// New creates a pooled Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, sql: docsql.New(sq.Dollar)}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, sql: docsql.New(sq.Dollar)}, nil
}

// Migrate creates the tables and indexes when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, build func() (docsql.Statement, error), what string) (pgconn.CommandTag, error) {
	stmt, err := build()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return tag, fmt.Errorf("%s: %w", what, err)
	}
	return tag, nil
}

func getDoc[T any](ctx context.Context, s *Store, stmt docsql.Statement, err error, what string) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	var doc []byte
	if err := s.pool.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%s: %w", what, ingest.ErrNotFound)
		}
		return zero, fmt.Errorf("%s: %w", what, err)
	}
	return docsql.Decode[T](doc)
}

func listDocs[T any](ctx context.Context, s *Store, stmt docsql.Statement, err error, what string) ([]T, error) {
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		v, err := docsql.Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

// CreateBatch inserts a new batch.
func (s *Store) CreateBatch(ctx context.Context, batch ingest.ImportBatch) error {
	_, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.InsertBatch(batch) }, "insert batch")
	return err
}

// SaveBatch replaces an existing batch.
func (s *Store) SaveBatch(ctx context.Context, batch ingest.ImportBatch) error {
	tag, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.UpdateBatch(batch) }, "update batch")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batch.ID, ingest.ErrNotFound)
	}
	return nil
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (ingest.ImportBatch, error) {
	stmt, err := s.sql.GetBatch(id)
	return getDoc[ingest.ImportBatch](ctx, s, stmt, err, "get batch "+id)
}

// ListBatches returns matching batches, oldest first.
func (s *Store) ListBatches(ctx context.Context, filter ingest.BatchFilter) ([]ingest.ImportBatch, error) {
	stmt, err := s.sql.ListBatches(filter)
	return listDocs[ingest.ImportBatch](ctx, s, stmt, err, "list batches")
}

// GetArtwork loads an artwork by id.
func (s *Store) GetArtwork(ctx context.Context, id string) (ingest.Artwork, error) {
	stmt, err := s.sql.GetArtwork(id)
	return getDoc[ingest.Artwork](ctx, s, stmt, err, "get artwork "+id)
}

// SaveArtwork upserts an artwork.
func (s *Store) SaveArtwork(ctx context.Context, artwork ingest.Artwork) error {
	_, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.UpsertArtwork(artwork) }, "save artwork")
	return err
}

// DeleteArtwork removes an artwork.
func (s *Store) DeleteArtwork(ctx context.Context, id string) error {
	_, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.DeleteArtwork(id) }, "delete artwork")
	return err
}

// ListArtworkIDs returns the artwork ids of a source.
func (s *Store) ListArtworkIDs(ctx context.Context, source string) ([]string, error) {
	stmt, err := s.sql.ListArtworkIDs(source)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("list artwork ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artwork id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artwork ids: %w", err)
	}
	return ids, nil
}

// GetImage loads an image by id.
func (s *Store) GetImage(ctx context.Context, id string) (ingest.Image, error) {
	stmt, err := s.sql.GetImage(id)
	return getDoc[ingest.Image](ctx, s, stmt, err, "get image "+id)
}

// SaveImage upserts an image.
func (s *Store) SaveImage(ctx context.Context, image ingest.Image) error {
	_, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.UpsertImage(image) }, "save image")
	return err
}

// FindImageByHash returns the oldest image with the given hash.
func (s *Store) FindImageByHash(ctx context.Context, hash string) (ingest.Image, error) {
	stmt, err := s.sql.FindImageByHash(hash)
	return getDoc[ingest.Image](ctx, s, stmt, err, "find image "+hash)
}

// ListImagesByBatch returns the images last written by a batch.
func (s *Store) ListImagesByBatch(ctx context.Context, batchID string) ([]ingest.Image, error) {
	stmt, err := s.sql.ListImagesByBatch(batchID)
	return listDocs[ingest.Image](ctx, s, stmt, err, "list batch images")
}

// SaveSource upserts a catalog entry.
func (s *Store) SaveSource(ctx context.Context, source ingest.Source) error {
	_, err := s.exec(ctx, func() (docsql.Statement, error) { return s.sql.UpsertSource(source) }, "save source")
	return err
}

// ListSources returns the catalog.
func (s *Store) ListSources(ctx context.Context) ([]ingest.Source, error) {
	stmt, err := s.sql.ListSources()
	return listDocs[ingest.Source](ctx, s, stmt, err, "list sources")
}
