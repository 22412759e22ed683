package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/clock/system"
	"github.com/JakeFAU/artsearch-ingest/internal/hash/sha256"
	"github.com/JakeFAU/artsearch-ingest/internal/imagestore"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/normalize"
	"github.com/JakeFAU/artsearch-ingest/internal/progress"
	pubmemory "github.com/JakeFAU/artsearch-ingest/internal/publisher/memory"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity"
	simmemory "github.com/JakeFAU/artsearch-ingest/internal/similarity/memory"
	"github.com/JakeFAU/artsearch-ingest/internal/source"
	"github.com/JakeFAU/artsearch-ingest/internal/storage/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	fs      afero.Fs
	repo    Repository
	store   *memory.Store
	clock   *system.Manual
	pub     *pubmemory.Publisher
	events  *recorder
	images  *imagestore.Store
	engine  *simmemory.Engine
	machine *Machine
	creator *Creator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo builds the pipeline over wrap(store) when wrap is set.
func newFixtureWithRepo(t *testing.T, wrap func(*memory.Store) Repository) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		fs:     afero.NewMemMapFs(),
		store:  memory.NewStore(),
		clock:  system.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		pub:    pubmemory.New(),
		events: &recorder{},
		engine: simmemory.New(simmemory.Config{}),
	}
	f.repo = f.store
	if wrap != nil {
		f.repo = wrap(f.store)
	}
	catalog := source.NewCatalog(f.store)
	require.NoError(t, catalog.Seed(ctx, []ingest.Source{{ID: "rijks", Name: "Rijksmuseum"}}))
	require.NoError(t, catalog.Refresh(ctx))

	f.images = imagestore.New(f.fs, memory.NewBlobStore(), f.store, sha256.New(), f.clock,
		imagestore.Config{WorkDir: "/work", Retry: retry.New(0)}, nil)
	index := similarity.NewIndexer(f.engine, f.fs, f.store, nil)
	machine, err := NewMachine(f.repo, normalize.New(catalog), f.images, index, f.fs, f.pub, f.events, f.clock,
		Config{Topic: "batches", CheckpointEvery: 2, Retry: retry.New(0)}, nil)
	require.NoError(t, err)
	f.machine = machine
	f.creator = NewCreator(f.fs, f.store, catalog, nil, f.clock, "/work", nil)
	return f
}

// advanceUntil advances b until it stops moving and returns the final batch.
func (f *fixture) advanceUntil(t *testing.T, b ingest.ImportBatch) ingest.ImportBatch {
	t.Helper()
	for i := 0; i < 10 && f.machine.Advanceable(b); i++ {
		var err error
		b, err = f.machine.Advance(context.Background(), b)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	return b
}

func (f *fixture) publishedStates() []string {
	var out []string
	for _, m := range f.pub.Messages() {
		out = append(out, m.Payload.(interface{ Attributes() map[string]string }).Attributes()["state"])
	}
	return out
}

func testJPEG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x/2) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

type zipEntry struct {
	name string
	data []byte
}

func testZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func record(id string, extra map[string]any) map[string]any {
	rec := map[string]any{
		"id":     id,
		"source": "rijks",
		"lang":   "nl",
		"url":    "https://example.org/" + id,
		"images": []any{id + ".jpg"},
		"title":  "Work " + id,
	}
	for k, v := range extra {
		rec[k] = v
	}
	return rec
}

func recordsJSON(t *testing.T, records ...map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	return data
}

// seedImages stores bare image records so artwork image references resolve.
func (f *fixture) seedImages(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		src, name, ok := ingest.SplitID(id)
		require.True(t, ok)
		require.NoError(t, f.store.SaveImage(context.Background(), ingest.Image{ID: id, Source: src, FileName: name, Hash: "h-" + name}))
	}
}

func resultByID(t *testing.T, b ingest.ImportBatch, id string) ingest.ImportResult {
	t.Helper()
	for _, r := range b.Results {
		if r.ID == id {
			return r
		}
	}
	require.Failf(t, "result not found", "%s", id)
	return ingest.ImportResult{}
}

func warningKinds(r ingest.ImportResult) []ingest.ErrorKind {
	out := make([]ingest.ErrorKind, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Kind)
	}
	return out
}

// indexImage ingests a real image and submits its canonical file to the
// engine, leaving the stored record without edges.
func (f *fixture) indexImage(t *testing.T, name string, seed uint8) ingest.Image {
	t.Helper()
	ctx := context.Background()
	out, err := f.images.Ingest(ctx, imagestore.Request{Source: "rijks", FileName: name, Batch: "rijks/0", Data: bytes.NewReader(testJPEG(t, 200, 200, seed))})
	require.NoError(t, err)
	data, err := afero.ReadFile(f.fs, out.Path)
	require.NoError(t, err)
	require.NoError(t, f.engine.Add(ctx, out.Image.Hash, bytes.NewReader(data)))
	return out.Image
}

func edgeIDs(img ingest.Image) []string {
	out := make([]string, 0, len(img.Similar))
	for _, e := range img.Similar {
		out = append(out, e.ID)
	}
	return out
}
