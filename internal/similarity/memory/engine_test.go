package memory

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func gradient(t *testing.T, w, h int, reverse bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			if reverse {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAddRejectsSmallImages(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	err := e.Add(context.Background(), "small", bytes.NewReader(gradient(t, 90, 90, false)))
	require.True(t, ingest.IsKind(err, ingest.KindImageSizeTooSmall), "got %v", err)

	ok, err := e.Exists(context.Background(), "small")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddRejectsGarbage(t *testing.T) {
	t.Parallel()

	err := New(Config{}).Add(context.Background(), "junk", bytes.NewReader([]byte("not an image")))
	require.True(t, ingest.IsKind(err, ingest.KindMalformedImage))
}

func TestSimilarRanksAndExcludesSelf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(Config{})
	require.NoError(t, e.Add(ctx, "a", bytes.NewReader(gradient(t, 200, 200, false))))
	require.NoError(t, e.Add(ctx, "b", bytes.NewReader(gradient(t, 320, 240, false))))
	require.NoError(t, e.Add(ctx, "c", bytes.NewReader(gradient(t, 200, 200, true))))
	// Adding twice replaces the entry.
	require.NoError(t, e.Add(ctx, "a", bytes.NewReader(gradient(t, 200, 200, false))))

	matches, err := e.Similar(ctx, "a")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "b", matches[0].Key)
	require.InDelta(t, 1.0, matches[0].Score, 1e-9)

	_, err = e.Similar(ctx, "missing")
	require.ErrorIs(t, err, ingest.ErrNotFound)

	fromFile, err := e.SimilarToFile(ctx, bytes.NewReader(gradient(t, 160, 160, true)))
	require.NoError(t, err)
	require.Len(t, fromFile, 1)
	require.Equal(t, "c", fromFile[0].Key)
}

func TestLimitCapsNeighbours(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(Config{Limit: 1})
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, e.Add(ctx, key, bytes.NewReader(gradient(t, 200, 200, false))))
	}
	matches, err := e.Similar(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, []string{matches[0].Key})
	require.Len(t, matches, 1)
}

func TestScore(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, Score(0xFF, 0xFF), 1e-9)
	require.InDelta(t, 0.0, Score(0, ^uint64(0)), 1e-9)
	require.InDelta(t, 1-2.0/64, Score(0b11, 0), 1e-9)
}
