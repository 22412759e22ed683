// Package source holds the catalog of known archive sources.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Catalog is a snapshot of the source repository. It changes only when
// Refresh is called.
type Catalog struct {
	repo ingest.SourceRepository

	mu   sync.RWMutex
	byID map[string]ingest.Source
}

var _ ingest.SourceLookup = (*Catalog)(nil)

// NewCatalog returns an empty catalog over repo.
func NewCatalog(repo ingest.SourceRepository) *Catalog {
	return &Catalog{repo: repo, byID: map[string]ingest.Source{}}
}

// Seed upserts the given sources into the repository. It does not refresh
// the snapshot.
func (c *Catalog) Seed(ctx context.Context, sources []ingest.Source) error {
	for _, s := range sources {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" || strings.Contains(s.ID, "/") {
			return fmt.Errorf("invalid source id %q", s.ID)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if err := c.repo.SaveSource(ctx, s); err != nil {
			return fmt.Errorf("seed source %s: %w", s.ID, err)
		}
	}
	return nil
}

// Refresh reloads the snapshot from the repository.
func (c *Catalog) Refresh(ctx context.Context) error {
	sources, err := c.repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("refresh sources: %w", err)
	}
	next := make(map[string]ingest.Source, len(sources))
	for _, s := range sources {
		next[s.ID] = s
	}
	c.mu.Lock()
	c.byID = next
	c.mu.Unlock()
	return nil
}

// Lookup resolves id against the snapshot.
func (c *Catalog) Lookup(id string) (ingest.Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// All returns the snapshot ordered by id.
func (c *Catalog) All() []ingest.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ingest.Source, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the known source ids in order.
func (c *Catalog) IDs() []string {
	all := c.All()
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	return ids
}
