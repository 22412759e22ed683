package batch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/artsearch-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

type stubDownloader struct {
	dl  collyfetcher.Download
	err error
	url string
}

func (s *stubDownloader) Download(_ context.Context, url string) (collyfetcher.Download, error) {
	s.url = url
	return s.dl, s.err
}

func TestCreatorStoresUpload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	b, err := f.creator.CreateMetadataBatch(ctx, "rijks", `C:\exports\records.json`, strings.NewReader(`[]`))
	require.NoError(t, err)

	ts := f.clock.Now().UnixMilli()
	require.Equal(t, ingest.JoinID("rijks", b.Timestamp()), b.ID)
	require.Equal(t, "rijks", b.Source)
	require.Equal(t, ingest.KindMetadata, b.Kind)
	require.Equal(t, ingest.StateStarted, b.State)
	require.Equal(t, "records.json", b.FileName)
	require.Equal(t, "/work/batches/rijks/"+b.Timestamp()+"/records.json", b.FilePath)
	require.EqualValues(t, ts, mustAtoi(t, b.Timestamp()))

	data, err := afero.ReadFile(f.fs, b.FilePath)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))

	stored, err := f.store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.StateStarted, stored.State)

	again, err := f.creator.CreateMetadataBatch(ctx, "rijks", "records.json", strings.NewReader(`[]`))
	require.NoError(t, err)
	require.NotEqual(t, b.ID, again.ID, "ids stay unique within one millisecond")
}

func TestCreatorRejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.creator.CreateImageBatch(ctx, "louvre", "a.zip", strings.NewReader("x"))
	require.Equal(t, ingest.KindUnknownSource, ingest.KindOf(err))

	_, err = f.creator.CreateImageBatch(ctx, "rijks", "a.tar", strings.NewReader("x"))
	require.Equal(t, ingest.KindUnsupportedContent, ingest.KindOf(err))

	_, err = f.creator.CreateMetadataBatch(ctx, "rijks", "a.zip", strings.NewReader("x"))
	require.Equal(t, ingest.KindUnsupportedContent, ingest.KindOf(err))

	_, err = f.creator.Create(ctx, "video", "rijks", "a.mp4", strings.NewReader("x"))
	require.Equal(t, ingest.KindUnsupportedContent, ingest.KindOf(err))

	_, err = f.creator.CreateFromURL(ctx, "rijks", ingest.KindImages, "https://example.org/a.zip")
	require.Equal(t, ingest.KindDownloadError, ingest.KindOf(err))

	batches, err := f.store.ListBatches(ctx, ingest.BatchFilter{})
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestCreatorFromURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	dl := &stubDownloader{dl: collyfetcher.Download{URL: "https://example.org/export", FileName: "export.zip", Body: []byte("PK")}}
	c := NewCreator(f.fs, f.store, staticSources{"rijks": true}, dl, f.clock, "/work", nil)

	b, err := c.CreateFromURL(ctx, "rijks", ingest.KindImages, "https://example.org/export")
	require.NoError(t, err)
	require.Equal(t, "https://example.org/export", dl.url)
	require.Equal(t, "export.zip", b.FileName)
	data, err := afero.ReadFile(f.fs, b.FilePath)
	require.NoError(t, err)
	require.Equal(t, []byte("PK"), data)

	dl.err = ingest.Wrap(ingest.KindDownloadError, errors.New("502"))
	_, err = c.CreateFromURL(ctx, "rijks", ingest.KindImages, "https://example.org/export")
	require.Equal(t, ingest.KindDownloadError, ingest.KindOf(err))

	_, err = c.CreateFromURL(ctx, "moma", ingest.KindImages, "https://example.org/export")
	require.Equal(t, ingest.KindUnknownSource, ingest.KindOf(err))
}

type staticSources map[string]bool

func (s staticSources) Lookup(id string) (ingest.Source, bool) {
	return ingest.Source{ID: id}, s[id]
}

func mustAtoi(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
