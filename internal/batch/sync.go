package batch

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// touchedImages is the refresh set of a similarity sync: the images a batch
// changed, the results that reference each, and the neighbours recorded for
// them before the sync ran.
type touchedImages struct {
	ids     []string
	results map[string][]int
	prior   map[string]bool
}

func newTouchedImages() *touchedImages {
	return &touchedImages{
		results: make(map[string][]int),
		prior:   make(map[string]bool),
	}
}

// add records that result i touched image id.
func (t *touchedImages) add(id string, i int) {
	if _, ok := t.results[id]; !ok {
		t.ids = append(t.ids, id)
	}
	t.results[id] = append(t.results[id], i)
}

func (t *touchedImages) addPrior(edges []ingest.SimilarityEdge) {
	for _, e := range edges {
		t.prior[e.ID] = true
	}
}

// syncSimilar refreshes every touched image, then every neighbour found
// before or after the refresh, since those may have gained or lost a match.
// Failures are logged and never fail the batch.
func (m *Machine) syncSimilar(ctx context.Context, r *run, t *touchedImages) error {
	b := r.batch
	neighbours := make(map[string]bool, len(t.prior))
	for id := range t.prior {
		neighbours[id] = true
	}
	for _, id := range t.ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		edges, err := m.refreshSimilar(ctx, id)
		if err != nil {
			r.logger.Warn("similarity sync failed", zap.String("item_id", id), zap.Error(err))
			for _, i := range t.results[id] {
				b.Results[i].Warnings = append(b.Results[i].Warnings, ingest.IssueOf(err, ingest.KindSimilarityFailure))
			}
			continue
		}
		for _, e := range edges {
			neighbours[e.ID] = true
		}
	}

	ids := make([]string, 0, len(neighbours))
	for id := range neighbours {
		if _, own := t.results[id]; !own {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.refreshSimilar(ctx, id); err != nil {
			r.logger.Warn("neighbour similarity sync failed", zap.String("item_id", id), zap.Error(err))
		}
	}
	r.logger.Info("similarity synced", zap.Int("images", len(t.ids)), zap.Int("neighbours", len(ids)))
	return nil
}

// refreshSimilar re-queries one image and persists its edges. Images the
// engine does not hold keep no edges.
func (m *Machine) refreshSimilar(ctx context.Context, id string) ([]ingest.SimilarityEdge, error) {
	img, err := m.repo.GetImage(ctx, id)
	if errors.Is(err, ingest.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ingest.Wrap(ingest.KindErrorReadingData, err)
	}
	edges, err := m.index.QueryByHash(ctx, img.Hash)
	if errors.Is(err, ingest.ErrNotFound) {
		edges = nil
	} else if err != nil {
		return nil, err
	}
	img.Similar = edges
	img.Modified = m.clock.Now()
	err = m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return m.repo.SaveImage(ctx, img)
	})
	if err != nil {
		return nil, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	return edges, nil
}
