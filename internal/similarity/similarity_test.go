package similarity_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity"
	simmemory "github.com/JakeFAU/artsearch-ingest/internal/similarity/memory"
	"github.com/JakeFAU/artsearch-ingest/internal/storage/memory"
)

func writeGradient(t *testing.T, fs afero.Fs, path string, size int, reverse bool) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(x * 255 / (size - 1))
			if reverse {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func newFixture(t *testing.T) (*similarity.Indexer, afero.Fs, *memory.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := memory.NewStore()
	ctx := context.Background()
	for _, img := range []ingest.Image{
		{ID: "rijks/a.jpg", Hash: "ha"},
		{ID: "rijks/b.jpg", Hash: "hb"},
		{ID: "moma/c.jpg", Hash: "hc"},
	} {
		require.NoError(t, store.SaveImage(ctx, img))
	}
	writeGradient(t, fs, "images/ha.png", 200, false)
	writeGradient(t, fs, "images/hb.png", 240, false)
	writeGradient(t, fs, "images/hc.png", 200, true)
	writeGradient(t, fs, "images/hz.png", 200, false)
	writeGradient(t, fs, "images/small.png", 90, false)
	return similarity.NewIndexer(simmemory.New(simmemory.Config{}), fs, store, nil), fs, store
}

func TestIndexIsIdempotentAndSwallowsSmallImages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ix, _, _ := newFixture(t)

	indexed, err := ix.Index(ctx, "images/ha.png", "ha")
	require.NoError(t, err)
	require.True(t, indexed)

	indexed, err = ix.Index(ctx, "images/ha.png", "ha")
	require.NoError(t, err)
	require.True(t, indexed)

	indexed, err = ix.Index(ctx, "images/small.png", "hs")
	require.NoError(t, err)
	require.False(t, indexed)

	err = ix.Add(ctx, "images/small.png", "hs")
	require.True(t, ingest.IsKind(err, ingest.KindImageSizeTooSmall))

	ok, err := ix.IsIndexed(ctx, "hs")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueryResolvesIDsAndExcludesSelf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ix, _, _ := newFixture(t)
	for _, h := range []string{"ha", "hb", "hc", "hz"} {
		_, err := ix.Index(ctx, "images/"+h+".png", h)
		require.NoError(t, err)
	}

	edges, err := ix.QueryByHash(ctx, "ha")
	require.NoError(t, err)
	// hz has no persisted image and is skipped.
	require.Equal(t, []ingest.SimilarityEdge{{ID: "rijks/b.jpg", Score: 1}}, edges)

	edges, err = ix.QueryByFile(ctx, "images/hc.png")
	require.NoError(t, err)
	require.Equal(t, []ingest.SimilarityEdge{{ID: "moma/c.jpg", Score: 1}}, edges)
}

func TestAddMissingFile(t *testing.T) {
	t.Parallel()

	ix, _, _ := newFixture(t)
	err := ix.Add(context.Background(), "images/nope.png", "nope")
	require.True(t, ingest.IsKind(err, ingest.KindSimilarityFailure))
}

type failingEngine struct{ err error }

func (f failingEngine) Add(context.Context, string, io.Reader) error { return f.err }
func (f failingEngine) Exists(context.Context, string) (bool, error) { return false, nil }
func (f failingEngine) Similar(context.Context, string) ([]similarity.Match, error) {
	return nil, f.err
}
func (f failingEngine) SimilarToFile(context.Context, io.Reader) ([]similarity.Match, error) {
	return nil, f.err
}

func TestEngineFailuresPropagate(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeGradient(t, fs, "x.png", 200, false)
	ix := similarity.NewIndexer(failingEngine{err: errors.New("connection refused")}, fs, memory.NewStore(), nil)

	_, err := ix.Index(context.Background(), "x.png", "hx")
	require.True(t, ingest.IsKind(err, ingest.KindSimilarityFailure))

	_, err = ix.QueryByHash(context.Background(), "hx")
	require.ErrorContains(t, err, "connection refused")
}
