// Package docsql builds the SQL shared by the relational document stores.
// Every record is stored whole as a JSON document next to the handful of
// columns the repositories filter and order on.
package docsql

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Table names.
const (
	BatchesTable  = "import_batches"
	ArtworksTable = "artworks"
	ImagesTable   = "images"
	SourcesTable  = "sources"
)

// Statement is a rendered query and its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Builder renders statements for one placeholder dialect.
type Builder struct {
	sb sq.StatementBuilderType
}

// New returns a Builder using the given placeholder format
// (sq.Dollar for Postgres, sq.Question for SQLite).
func New(ph sq.PlaceholderFormat) Builder {
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func render(s sqlizer) (Statement, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build sql: %w", err)
	}
	return Statement{SQL: query, Args: args}, nil
}

// Encode marshals a record into its stored document form.
func Encode(v any) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode unmarshals a stored document.
func Decode[T any](doc []byte) (T, error) {
	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func upsert(cols ...string) string {
	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		set += c + " = EXCLUDED." + c
	}
	return "ON CONFLICT (id) DO UPDATE SET " + set
}

// InsertBatch renders the insert of a new batch.
func (b Builder) InsertBatch(batch ingest.ImportBatch) (Statement, error) {
	doc, err := Encode(batch)
	if err != nil {
		return Statement{}, err
	}
	return render(b.sb.Insert(BatchesTable).
		Columns("id", "source", "kind", "state", "created_ms", "modified_ms", "doc").
		Values(batch.ID, batch.Source, string(batch.Kind), string(batch.State),
			batch.Created.UnixMilli(), batch.Modified.UnixMilli(), doc))
}

// UpdateBatch renders the replacement of an existing batch.
func (b Builder) UpdateBatch(batch ingest.ImportBatch) (Statement, error) {
	doc, err := Encode(batch)
	if err != nil {
		return Statement{}, err
	}
	return render(b.sb.Update(BatchesTable).
		Set("state", string(batch.State)).
		Set("modified_ms", batch.Modified.UnixMilli()).
		Set("doc", doc).
		Where(sq.Eq{"id": batch.ID}))
}

// GetBatch renders a lookup by id.
func (b Builder) GetBatch(id string) (Statement, error) {
	return render(b.sb.Select("doc").From(BatchesTable).Where(sq.Eq{"id": id}))
}

// ListBatches renders a filtered listing, oldest first.
func (b Builder) ListBatches(filter ingest.BatchFilter) (Statement, error) {
	q := b.sb.Select("doc").From(BatchesTable).OrderBy("created_ms", "id")
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, s := range filter.States {
			states = append(states, string(s))
		}
		q = q.Where(sq.Eq{"state": states})
	}
	if filter.Source != "" {
		q = q.Where(sq.Eq{"source": filter.Source})
	}
	return render(q)
}

// UpsertArtwork renders an insert-or-replace of an artwork.
func (b Builder) UpsertArtwork(artwork ingest.Artwork) (Statement, error) {
	doc, err := Encode(artwork)
	if err != nil {
		return Statement{}, err
	}
	return render(b.sb.Insert(ArtworksTable).
		Columns("id", "source", "doc").
		Values(artwork.ID, artwork.Source, doc).
		Suffix(upsert("source", "doc")))
}

// GetArtwork renders a lookup by id.
func (b Builder) GetArtwork(id string) (Statement, error) {
	return render(b.sb.Select("doc").From(ArtworksTable).Where(sq.Eq{"id": id}))
}

// DeleteArtwork renders a delete by id.
func (b Builder) DeleteArtwork(id string) (Statement, error) {
	return render(b.sb.Delete(ArtworksTable).Where(sq.Eq{"id": id}))
}

// ListArtworkIDs renders the id listing of one source.
func (b Builder) ListArtworkIDs(source string) (Statement, error) {
	return render(b.sb.Select("id").From(ArtworksTable).Where(sq.Eq{"source": source}).OrderBy("id"))
}

// UpsertImage renders an insert-or-replace of an image.
func (b Builder) UpsertImage(image ingest.Image) (Statement, error) {
	doc, err := Encode(image)
	if err != nil {
		return Statement{}, err
	}
	return render(b.sb.Insert(ImagesTable).
		Columns("id", "hash", "batch", "created_ms", "doc").
		Values(image.ID, image.Hash, image.Batch, image.Created.UnixMilli(), doc).
		Suffix(upsert("hash", "batch", "doc")))
}

// GetImage renders a lookup by id.
func (b Builder) GetImage(id string) (Statement, error) {
	return render(b.sb.Select("doc").From(ImagesTable).Where(sq.Eq{"id": id}))
}

// FindImageByHash renders a lookup of the oldest image with a hash.
func (b Builder) FindImageByHash(hash string) (Statement, error) {
	return render(b.sb.Select("doc").From(ImagesTable).
		Where(sq.Eq{"hash": hash}).
		OrderBy("created_ms", "id").
		Limit(1))
}

// ListImagesByBatch renders the listing of images last written by a batch.
func (b Builder) ListImagesByBatch(batchID string) (Statement, error) {
	return render(b.sb.Select("doc").From(ImagesTable).Where(sq.Eq{"batch": batchID}).OrderBy("id"))
}

// UpsertSource renders an insert-or-replace of a catalog entry.
func (b Builder) UpsertSource(source ingest.Source) (Statement, error) {
	doc, err := Encode(source)
	if err != nil {
		return Statement{}, err
	}
	return render(b.sb.Insert(SourcesTable).
		Columns("id", "doc").
		Values(source.ID, doc).
		Suffix(upsert("doc")))
}

// ListSources renders the catalog listing.
func (b Builder) ListSources() (Statement, error) {
	return render(b.sb.Select("doc").From(SourcesTable).OrderBy("id"))
}
