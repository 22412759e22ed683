package docsql

import (
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func TestListBatchesFilters(t *testing.T) {
	t.Parallel()

	b := New(sq.Dollar)
	stmt, err := b.ListBatches(ingest.BatchFilter{
		States: []ingest.State{ingest.StateStarted, ingest.StateProcessCompleted},
		Source: "rijks",
	})
	require.NoError(t, err)
	require.Equal(t,
		"SELECT doc FROM import_batches WHERE state IN ($1,$2) AND source = $3 ORDER BY created_ms, id",
		stmt.SQL)
	require.Equal(t, []any{"started", "process.completed", "rijks"}, stmt.Args)

	stmt, err = b.ListBatches(ingest.BatchFilter{})
	require.NoError(t, err)
	require.Equal(t, "SELECT doc FROM import_batches ORDER BY created_ms, id", stmt.SQL)
	require.Empty(t, stmt.Args)
}

func TestUpsertUsesDialectPlaceholders(t *testing.T) {
	t.Parallel()

	art := ingest.Artwork{ID: "rijks/1", Source: "rijks", Title: "Night Watch"}

	pg, err := New(sq.Dollar).UpsertArtwork(art)
	require.NoError(t, err)
	require.Equal(t,
		"INSERT INTO artworks (id,source,doc) VALUES ($1,$2,$3) ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, doc = EXCLUDED.doc",
		pg.SQL)

	lite, err := New(sq.Question).UpsertArtwork(art)
	require.NoError(t, err)
	require.Contains(t, lite.SQL, "VALUES (?,?,?)")

	decoded, err := Decode[ingest.Artwork](lite.Args[2].([]byte))
	require.NoError(t, err)
	require.Equal(t, "Night Watch", decoded.Title)
}

func TestBatchStatementsCarryIndexedColumns(t *testing.T) {
	t.Parallel()

	created := time.UnixMilli(1700000000000).UTC()
	batch := ingest.ImportBatch{
		ID:       "rijks/1700000000000",
		Source:   "rijks",
		Kind:     ingest.KindImages,
		State:    ingest.StateStarted,
		Created:  created,
		Modified: created,
	}

	ins, err := New(sq.Dollar).InsertBatch(batch)
	require.NoError(t, err)
	require.Equal(t, []any{"rijks/1700000000000", "rijks", "images", "started", int64(1700000000000), int64(1700000000000)}, ins.Args[:6])

	batch.State = ingest.StateProcessStarted
	upd, err := New(sq.Dollar).UpdateBatch(batch)
	require.NoError(t, err)
	require.Equal(t, "UPDATE import_batches SET state = $1, modified_ms = $2, doc = $3 WHERE id = $4", upd.SQL)
	require.Equal(t, "process.started", upd.Args[0])
}

func TestFindImageByHashLimitsToOldest(t *testing.T) {
	t.Parallel()

	stmt, err := New(sq.Question).FindImageByHash("abc")
	require.NoError(t, err)
	require.Equal(t, "SELECT doc FROM images WHERE hash = ? ORDER BY created_ms, id LIMIT 1", stmt.SQL)
}
