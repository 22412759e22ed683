// Package similarity adapts an external visual-similarity engine to the
// ingestion pipeline. The engine indexes images by content hash; the Indexer
// resolves the hashes it returns back to persisted image ids.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/metrics"
)

// Match is one neighbour reported by an engine.
type Match struct {
	Key   string
	Score float64
}

// Engine is the out-of-process similarity service. Add reports images that
// are too small to index with an ingest.KindImageSizeTooSmall error. Adding a
// key twice replaces the first entry.
type Engine interface {
	Add(ctx context.Context, key string, image io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
	Similar(ctx context.Context, key string) ([]Match, error)
	SimilarToFile(ctx context.Context, image io.Reader) ([]Match, error)
}

// ImageFinder resolves a content hash to the persisted image carrying it.
type ImageFinder interface {
	FindImageByHash(ctx context.Context, hash string) (ingest.Image, error)
}

// Indexer wraps an Engine with filesystem access and id resolution.
type Indexer struct {
	engine Engine
	fs     afero.Fs
	images ImageFinder
	logger *zap.Logger
}

// NewIndexer constructs an Indexer. A nil fs uses the OS filesystem.
func NewIndexer(engine Engine, fs afero.Fs, images ImageFinder, logger *zap.Logger) *Indexer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{engine: engine, fs: fs, images: images, logger: logger}
}

// IsIndexed reports whether the engine already holds hash.
func (ix *Indexer) IsIndexed(ctx context.Context, hash string) (bool, error) {
	ok, err := ix.engine.Exists(ctx, hash)
	metrics.ObserveSimilarityCall("exists", err)
	if err != nil {
		return false, fmt.Errorf("check indexed %s: %w", hash, err)
	}
	return ok, nil
}

// Add submits the file at filePath under hash.
func (ix *Indexer) Add(ctx context.Context, filePath, hash string) error {
	f, err := ix.fs.Open(filePath)
	if err != nil {
		return ingest.Wrap(ingest.KindSimilarityFailure, fmt.Errorf("open %s: %w", filePath, err))
	}
	defer f.Close()

	err = ix.engine.Add(ctx, hash, f)
	metrics.ObserveSimilarityCall("add", err)
	if err != nil {
		if ingest.IsKind(err, ingest.KindImageSizeTooSmall) {
			return err
		}
		return ingest.Wrap(ingest.KindSimilarityFailure, err)
	}
	return nil
}

// Index adds the file unless hash is already indexed. Images rejected as too
// small are reported as not indexed without an error.
func (ix *Indexer) Index(ctx context.Context, filePath, hash string) (bool, error) {
	indexed, err := ix.IsIndexed(ctx, hash)
	if err != nil {
		return false, ingest.Wrap(ingest.KindSimilarityFailure, err)
	}
	if indexed {
		return true, nil
	}
	if err := ix.Add(ctx, filePath, hash); err != nil {
		if ingest.IsKind(err, ingest.KindImageSizeTooSmall) {
			ix.logger.Debug("image too small to index", zap.String("hash", hash))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// QueryByHash returns the neighbours of an indexed hash, best first, with the
// image itself excluded.
func (ix *Indexer) QueryByHash(ctx context.Context, hash string) ([]ingest.SimilarityEdge, error) {
	matches, err := ix.engine.Similar(ctx, hash)
	metrics.ObserveSimilarityCall("similar", err)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindSimilarityFailure, err)
	}
	return ix.resolve(ctx, hash, matches)
}

// QueryByFile returns the neighbours of an image that is not itself indexed.
func (ix *Indexer) QueryByFile(ctx context.Context, filePath string) ([]ingest.SimilarityEdge, error) {
	f, err := ix.fs.Open(filePath)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindSimilarityFailure, fmt.Errorf("open %s: %w", filePath, err))
	}
	defer f.Close()

	matches, err := ix.engine.SimilarToFile(ctx, f)
	metrics.ObserveSimilarityCall("search", err)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindSimilarityFailure, err)
	}
	return ix.resolve(ctx, "", matches)
}

// resolve maps engine keys to image ids in engine order. Keys with no
// persisted image are skipped.
func (ix *Indexer) resolve(ctx context.Context, self string, matches []Match) ([]ingest.SimilarityEdge, error) {
	edges := make([]ingest.SimilarityEdge, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.Key == self {
			continue
		}
		img, err := ix.images.FindImageByHash(ctx, m.Key)
		if errors.Is(err, ingest.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", m.Key, err)
		}
		if _, dup := seen[img.ID]; dup {
			continue
		}
		seen[img.ID] = struct{}{}
		edges = append(edges, ingest.SimilarityEdge{ID: img.ID, Score: m.Score})
	}
	return edges, nil
}
