package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "artimport.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

func TestBatchRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	t0 := time.UnixMilli(1700000000000).UTC()

	require.NoError(t, s.CreateBatch(ctx, ingest.ImportBatch{ID: "rijks/2", Source: "rijks", Kind: ingest.KindImages, State: ingest.StateStarted, Created: t0.Add(time.Second)}))
	require.NoError(t, s.CreateBatch(ctx, ingest.ImportBatch{ID: "rijks/1", Source: "rijks", Kind: ingest.KindMetadata, State: ingest.StateStarted, Created: t0}))
	require.NoError(t, s.CreateBatch(ctx, ingest.ImportBatch{ID: "moma/1", Source: "moma", Kind: ingest.KindMetadata, State: ingest.StateCompleted, Created: t0}))
	require.Error(t, s.CreateBatch(ctx, ingest.ImportBatch{ID: "rijks/1", Source: "rijks", State: ingest.StateStarted}))

	open, err := s.ListBatches(ctx, ingest.BatchFilter{States: ingest.NonTerminalStates()})
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, "rijks/1", open[0].ID)

	b := open[0]
	b.State = ingest.StateProcessCompleted
	b.Results = []ingest.ImportResult{{ID: "7", State: ingest.ItemProcessed, Result: ingest.OutcomeCreated, Warnings: []ingest.Issue{}}}
	require.NoError(t, s.SaveBatch(ctx, b))

	got, err := s.GetBatch(ctx, "rijks/1")
	require.NoError(t, err)
	require.Equal(t, ingest.StateProcessCompleted, got.State)
	require.Len(t, got.Results, 1)

	waiting, err := s.ListBatches(ctx, ingest.BatchFilter{States: []ingest.State{ingest.StateProcessCompleted}, Source: "rijks"})
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	_, err = s.GetBatch(ctx, "rijks/404")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.ErrorIs(t, s.SaveBatch(ctx, ingest.ImportBatch{ID: "rijks/404"}), ingest.ErrNotFound)
}

func TestArtworkImageAndSourceRepositories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveArtwork(ctx, ingest.Artwork{ID: "rijks/2", Source: "rijks", Title: "a"}))
	require.NoError(t, s.SaveArtwork(ctx, ingest.Artwork{ID: "rijks/1", Source: "rijks", Title: "b"}))
	require.NoError(t, s.SaveArtwork(ctx, ingest.Artwork{ID: "rijks/1", Source: "rijks", Title: "c"}))
	art, err := s.GetArtwork(ctx, "rijks/1")
	require.NoError(t, err)
	require.Equal(t, "c", art.Title)

	ids, err := s.ListArtworkIDs(ctx, "rijks")
	require.NoError(t, err)
	require.Equal(t, []string{"rijks/1", "rijks/2"}, ids)

	require.NoError(t, s.DeleteArtwork(ctx, "rijks/2"))
	_, err = s.GetArtwork(ctx, "rijks/2")
	require.ErrorIs(t, err, ingest.ErrNotFound)

	t0 := time.UnixMilli(1700000000000).UTC()
	require.NoError(t, s.SaveImage(ctx, ingest.Image{ID: "rijks/b.jpg", Hash: "h", Batch: "rijks/9", Created: t0}))
	require.NoError(t, s.SaveImage(ctx, ingest.Image{ID: "rijks/a.jpg", Hash: "h", Batch: "rijks/9", Created: t0.Add(time.Minute)}))
	img, err := s.FindImageByHash(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, "rijks/b.jpg", img.ID)

	byBatch, err := s.ListImagesByBatch(ctx, "rijks/9")
	require.NoError(t, err)
	require.Len(t, byBatch, 2)
	require.Equal(t, "rijks/a.jpg", byBatch[0].ID)

	require.NoError(t, s.SaveSource(ctx, ingest.Source{ID: "rijks", Name: "Rijksmuseum", Lang: "nl"}))
	require.NoError(t, s.SaveSource(ctx, ingest.Source{ID: "rijks", Name: "Rijksmuseum Amsterdam", Lang: "nl"}))
	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "Rijksmuseum Amsterdam", sources[0].Name)
}

func TestInMemoryDatabase(t *testing.T) {
	t.Parallel()

	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SaveSource(context.Background(), ingest.Source{ID: "moma", Name: "MoMA"}))
	sources, err := s.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
}
