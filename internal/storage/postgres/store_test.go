package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatchInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.UnixMilli(1700000000000).UTC()
	batch := ingest.ImportBatch{
		ID:       "rijks/1700000000000",
		Source:   "rijks",
		Kind:     ingest.KindMetadata,
		State:    ingest.StateStarted,
		Created:  created,
		Modified: created,
	}

	mock.ExpectExec(`INSERT INTO import_batches \(id,source,kind,state,created_ms,modified_ms,doc\)`).
		WithArgs(batch.ID, "rijks", "metadata", "started", int64(1700000000000), int64(1700000000000), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateBatch(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE import_batches SET state = \$1, modified_ms = \$2, doc = \$3 WHERE id = \$4`).
		WithArgs("import.started", pgxmock.AnyArg(), pgxmock.AnyArg(), "rijks/1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SaveBatch(context.Background(), ingest.ImportBatch{ID: "rijks/1", State: ingest.StateImportStarted})
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchDecodesDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	doc := []byte(`{"id":"rijks/1","source":"rijks","kind":"images","state":"process.completed","results":[{"id":"a.jpg","state":"processed"}]}`)
	mock.ExpectQuery(`SELECT doc FROM import_batches WHERE id = \$1`).
		WithArgs("rijks/1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	batch, err := store.GetBatch(context.Background(), "rijks/1")
	require.NoError(t, err)
	require.Equal(t, ingest.StateProcessCompleted, batch.State)
	require.Len(t, batch.Results, 1)
	require.Equal(t, ingest.ItemProcessed, batch.Results[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArtworkNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM artworks WHERE id = \$1`).
		WithArgs("rijks/404").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetArtwork(context.Background(), "rijks/404")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBatchesFiltersByState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM import_batches WHERE state IN \(\$1,\$2\) ORDER BY created_ms, id`).
		WithArgs("started", "process.started").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"rijks/1","state":"started"}`)).
			AddRow([]byte(`{"id":"rijks/2","state":"process.started"}`)))

	batches, err := store.ListBatches(context.Background(), ingest.BatchFilter{
		States: []ingest.State{ingest.StateStarted, ingest.StateProcessStarted},
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, "rijks/2", batches[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveArtworkUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO artworks .* ON CONFLICT \(id\) DO UPDATE SET source = EXCLUDED.source, doc = EXCLUDED.doc`).
		WithArgs("rijks/1", "rijks", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveArtwork(context.Background(), ingest.Artwork{ID: "rijks/1", Source: "rijks"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListArtworkIDs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM artworks WHERE source = \$1 ORDER BY id`).
		WithArgs("rijks").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rijks/1").AddRow("rijks/2"))

	ids, err := store.ListArtworkIDs(context.Background(), "rijks")
	require.NoError(t, err)
	require.Equal(t, []string{"rijks/1", "rijks/2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindImageByHash(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM images WHERE hash = \$1 ORDER BY created_ms, id LIMIT 1`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow([]byte(`{"id":"rijks/a.jpg","hash":"abc"}`)))

	img, err := store.FindImageByHash(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "rijks/a.jpg", img.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
