package ingest

import (
	"context"
	"io"
	"time"
)

// BatchFilter narrows ListBatches. Empty fields match everything.
type BatchFilter struct {
	States []State
	Source string
}

// BatchRepository persists import batches. ListBatches returns the oldest
// batch first.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch ImportBatch) error
	SaveBatch(ctx context.Context, batch ImportBatch) error
	GetBatch(ctx context.Context, id string) (ImportBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]ImportBatch, error)
}

// ArtworkRepository persists canonical artwork records.
type ArtworkRepository interface {
	GetArtwork(ctx context.Context, id string) (Artwork, error)
	SaveArtwork(ctx context.Context, artwork Artwork) error
	DeleteArtwork(ctx context.Context, id string) error
	ListArtworkIDs(ctx context.Context, source string) ([]string, error)
}

// ImageRepository persists image records.
type ImageRepository interface {
	GetImage(ctx context.Context, id string) (Image, error)
	SaveImage(ctx context.Context, image Image) error
	FindImageByHash(ctx context.Context, hash string) (Image, error)
	ListImagesByBatch(ctx context.Context, batchID string) ([]Image, error)
}

// SourceRepository persists the source catalog.
type SourceRepository interface {
	SaveSource(ctx context.Context, source Source) error
	ListSources(ctx context.Context) ([]Source, error)
}

// Store bundles every repository behind one backend.
type Store interface {
	BatchRepository
	ArtworkRepository
	ImageRepository
	SourceRepository
	Close() error
}

// BlobStore writes durable objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// SourceLookup resolves source ids against the catalog snapshot.
type SourceLookup interface {
	Lookup(id string) (Source, bool)
}
