// Package sqlite provides a single-node ingest.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/storage/docsql"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store implements ingest.Store on SQLite.
type Store struct {
	db  *sql.DB
	sql docsql.Builder
}

var _ ingest.Store = (*Store)(nil)

// Open opens or creates the database at path and creates the schema if it
// does not exist.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serialises writers and shares one :memory: database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, sql: docsql.New(sq.Question)}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS import_batches (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			state       TEXT NOT NULL,
			created_ms  INTEGER NOT NULL,
			modified_ms INTEGER NOT NULL,
			doc         BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS import_batches_state_idx ON import_batches(state, created_ms)`,
		`CREATE TABLE IF NOT EXISTS artworks (
			id     TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			doc    BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS artworks_source_idx ON artworks(source)`,
		`CREATE TABLE IF NOT EXISTS images (
			id         TEXT PRIMARY KEY,
			hash       TEXT NOT NULL,
			batch      TEXT NOT NULL,
			created_ms INTEGER NOT NULL,
			doc        BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS images_hash_idx ON images(hash)`,
		`CREATE INDEX IF NOT EXISTS images_batch_idx ON images(batch)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id  TEXT PRIMARY KEY,
			doc BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, stmt docsql.Statement, err error, what string) (sql.Result, error) {
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return res, nil
}

func getDoc[T any](ctx context.Context, s *Store, stmt docsql.Statement, err error, what string) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	var doc []byte
	if err := s.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
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
	return out, rows.Err()
}

// CreateBatch inserts a new batch.
func (s *Store) CreateBatch(ctx context.Context, batch ingest.ImportBatch) error {
	stmt, err := s.sql.InsertBatch(batch)
	_, err = s.exec(ctx, stmt, err, "insert batch")
	return err
}

// SaveBatch replaces an existing batch.
func (s *Store) SaveBatch(ctx context.Context, batch ingest.ImportBatch) error {
	stmt, err := s.sql.UpdateBatch(batch)
	res, err := s.exec(ctx, stmt, err, "update batch")
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if n == 0 {
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
	stmt, err := s.sql.UpsertArtwork(artwork)
	_, err = s.exec(ctx, stmt, err, "save artwork")
	return err
}

// DeleteArtwork removes an artwork.
func (s *Store) DeleteArtwork(ctx context.Context, id string) error {
	stmt, err := s.sql.DeleteArtwork(id)
	_, err = s.exec(ctx, stmt, err, "delete artwork")
	return err
}

// ListArtworkIDs returns the artwork ids of a source.
func (s *Store) ListArtworkIDs(ctx context.Context, source string) ([]string, error) {
	stmt, err := s.sql.ListArtworkIDs(source)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
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
	return ids, rows.Err()
}

// GetImage loads an image by id.
func (s *Store) GetImage(ctx context.Context, id string) (ingest.Image, error) {
	stmt, err := s.sql.GetImage(id)
	return getDoc[ingest.Image](ctx, s, stmt, err, "get image "+id)
}

// SaveImage upserts an image.
func (s *Store) SaveImage(ctx context.Context, image ingest.Image) error {
	stmt, err := s.sql.UpsertImage(image)
	_, err = s.exec(ctx, stmt, err, "save image")
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
	stmt, err := s.sql.UpsertSource(source)
	_, err = s.exec(ctx, stmt, err, "save source")
	return err
}

// ListSources returns the catalog.
func (s *Store) ListSources(ctx context.Context) ([]ingest.Source, error) {
	stmt, err := s.sql.ListSources()
	return listDocs[ingest.Source](ctx, s, stmt, err, "list sources")
}
