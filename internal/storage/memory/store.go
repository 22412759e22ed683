package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Store is an in-memory ingest.Store. Records are deep-copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	batches  map[string]ingest.ImportBatch
	artworks map[string]ingest.Artwork
	images   map[string]ingest.Image
	sources  map[string]ingest.Source
	seq      map[string]int
	next     int
}

var _ ingest.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		batches:  make(map[string]ingest.ImportBatch),
		artworks: make(map[string]ingest.Artwork),
		images:   make(map[string]ingest.Image),
		sources:  make(map[string]ingest.Source),
		seq:      make(map[string]int),
	}
}

func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("clone %T: %v", v, err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone %T: %v", v, err))
	}
	return out
}

// CreateBatch stores a new batch.
func (s *Store) CreateBatch(_ context.Context, batch ingest.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return errors.New("batch already exists")
	}
	s.batches[batch.ID] = clone(batch)
	s.seq[batch.ID] = s.next
	s.next++
	return nil
}

// SaveBatch replaces an existing batch.
func (s *Store) SaveBatch(_ context.Context, batch ingest.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; !ok {
		return fmt.Errorf("batch %s: %w", batch.ID, ingest.ErrNotFound)
	}
	s.batches[batch.ID] = clone(batch)
	return nil
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(_ context.Context, id string) (ingest.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return ingest.ImportBatch{}, fmt.Errorf("batch %s: %w", id, ingest.ErrNotFound)
	}
	return clone(b), nil
}

// ListBatches returns matching batches, oldest first.
func (s *Store) ListBatches(_ context.Context, filter ingest.BatchFilter) ([]ingest.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.ImportBatch, 0, len(s.batches))
	for _, b := range s.batches {
		if filter.Source != "" && b.Source != filter.Source {
			continue
		}
		if len(filter.States) > 0 && !slices.Contains(filter.States, b.State) {
			continue
		}
		out = append(out, clone(b))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

// GetArtwork loads an artwork by id.
func (s *Store) GetArtwork(_ context.Context, id string) (ingest.Artwork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artworks[id]
	if !ok {
		return ingest.Artwork{}, fmt.Errorf("artwork %s: %w", id, ingest.ErrNotFound)
	}
	return clone(a), nil
}

// SaveArtwork upserts an artwork.
func (s *Store) SaveArtwork(_ context.Context, artwork ingest.Artwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artworks[artwork.ID] = clone(artwork)
	return nil
}

// DeleteArtwork removes an artwork. Deleting a missing record is not an error.
func (s *Store) DeleteArtwork(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artworks, id)
	return nil
}

// ListArtworkIDs returns the artwork ids of a source in lexical order.
func (s *Store) ListArtworkIDs(_ context.Context, source string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for id, a := range s.artworks {
		if a.Source == source {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetImage loads an image by id.
func (s *Store) GetImage(_ context.Context, id string) (ingest.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return ingest.Image{}, fmt.Errorf("image %s: %w", id, ingest.ErrNotFound)
	}
	return clone(img), nil
}

// SaveImage upserts an image.
func (s *Store) SaveImage(_ context.Context, image ingest.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[image.ID] = clone(image)
	return nil
}

// FindImageByHash returns the oldest image with the given hash.
func (s *Store) FindImageByHash(_ context.Context, hash string) (ingest.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found ingest.Image
		ok    bool
	)
	for _, img := range s.images {
		if img.Hash != hash {
			continue
		}
		if !ok || img.Created.Before(found.Created) || (img.Created.Equal(found.Created) && img.ID < found.ID) {
			found, ok = img, true
		}
	}
	if !ok {
		return ingest.Image{}, fmt.Errorf("image hash %s: %w", hash, ingest.ErrNotFound)
	}
	return clone(found), nil
}

// ListImagesByBatch returns the images last written by a batch, by id.
func (s *Store) ListImagesByBatch(_ context.Context, batchID string) ([]ingest.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Image, 0)
	for _, img := range s.images {
		if img.Batch == batchID {
			out = append(out, clone(img))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSource upserts a catalog entry.
func (s *Store) SaveSource(_ context.Context, source ingest.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.ID] = source
	return nil
}

// ListSources returns the catalog ordered by id.
func (s *Store) ListSources(_ context.Context) ([]ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements ingest.Store.
func (s *Store) Close() error {
	return nil
}
