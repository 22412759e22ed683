package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/normalize"
)

// processMetadata normalizes every record of the batch file and diffs the
// incoming ids against the artworks already stored for the source. The
// result list is rebuilt from scratch on every run.
func (m *Machine) processMetadata(ctx context.Context, r *run) error {
	b := r.batch
	f, err := m.fs.Open(b.FilePath)
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingData, err)
	}
	records, err := DecodeRecords(b.FilePath, f)
	f.Close()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ingest.Errorf(ingest.KindErrorReadingData, "%s contains no records", b.FileName)
	}

	results := make([]ingest.ImportResult, 0, len(records))
	incoming := make(map[string]bool, len(records))
	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := normalize.RecordKey(raw, fmt.Sprintf("#%d", i+1))
		res := m.processRecord(ctx, b.Source, key, raw, incoming)
		if strings.Contains(key, "/") {
			incoming[key] = true
		}
		results = append(results, res)
		r.item(res)
	}

	existing, err := m.repo.ListArtworkIDs(ctx, b.Source)
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingData, fmt.Errorf("list artworks: %w", err))
	}
	deleted := 0
	for _, id := range existing {
		if incoming[id] {
			continue
		}
		res := ingest.ImportResult{
			ID:       id,
			State:    ingest.ItemProcessed,
			Warnings: []ingest.Issue{},
			Model:    id,
			Result:   ingest.OutcomeDeleted,
		}
		// The removed artwork names the images the similarity sync revisits.
		if prev, err := m.repo.GetArtwork(ctx, id); err == nil {
			res.Data = &prev
		}
		results = append(results, res)
		r.item(res)
		deleted++
	}
	b.Results = results
	r.logger.Info("metadata processed",
		zap.Int("records", len(records)),
		zap.Int("deleted", deleted),
	)
	return nil
}

// processRecord builds the ImportResult of one raw record. Item failures are
// recorded on the result and never returned.
func (m *Machine) processRecord(
	ctx context.Context,
	source, key string,
	raw Record,
	incoming map[string]bool,
) ingest.ImportResult {
	res := ingest.ImportResult{ID: key, State: ingest.ItemProcessed, Warnings: []ingest.Issue{}}
	norm, err := m.normalizer.Normalize(raw)
	res.Warnings = append(res.Warnings, norm.Warnings...)
	if err != nil {
		failItem(&res, err, ingest.KindValidationFailed)
		return res
	}
	art := norm.Artwork
	res.ID = art.ID
	if art.Source != source {
		failItem(&res, ingest.Errorf(ingest.KindValidationFailed, "source %q does not match batch source %q", art.Source, source), "")
		return res
	}
	if incoming[art.ID] {
		failItem(&res, ingest.Errorf(ingest.KindValidationFailed, "duplicate record %s", art.ID), "")
		return res
	}

	if err := m.resolveImages(ctx, &art, &res); err != nil {
		failItem(&res, err, ingest.KindErrorReadingData)
		return res
	}

	now := m.clock.Now()
	art.Created, art.Modified = now, now
	prev, err := m.repo.GetArtwork(ctx, art.ID)
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		res.Result = ingest.OutcomeCreated
	case err != nil:
		failItem(&res, err, ingest.KindErrorReadingData)
		return res
	default:
		art.Created = prev.Created
		if sameContent(prev, art) {
			art.Modified = prev.Modified
			res.Result = ingest.OutcomeUnchanged
		} else {
			res.Result = ingest.OutcomeChanged
		}
	}
	res.Data = &art
	res.Model = art.ID
	return res
}

// resolveImages drops image references with no stored image, warning once
// per missing image. An artwork left without images is an error.
func (m *Machine) resolveImages(ctx context.Context, art *ingest.Artwork, res *ingest.ImportResult) error {
	kept := make([]string, 0, len(art.Images))
	for _, id := range art.Images {
		_, err := m.repo.GetImage(ctx, id)
		switch {
		case errors.Is(err, ingest.ErrNotFound):
			res.Warnings = append(res.Warnings, ingest.Issue{Kind: ingest.KindImageNotFound, Detail: id})
		case err != nil:
			return fmt.Errorf("load image %s: %w", id, err)
		default:
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		return ingest.Errorf(ingest.KindNoImagesFound, "%s", art.ID)
	}
	art.Images = kept
	return nil
}

// sameContent compares two artworks ignoring their timestamps.
func sameContent(a, b ingest.Artwork) bool {
	a.Created, a.Modified = b.Created, b.Modified
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// importMetadata applies processed results: created and changed records are
// saved, deleted ones removed. Items already imported or failed are skipped
// so a resumed import does not repeat work.
func (m *Machine) importMetadata(ctx context.Context, r *run) error {
	b := r.batch
	done := 0
	for i := range b.Results {
		res := &b.Results[i]
		if res.State != ingest.ItemProcessed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		switch res.Result {
		case ingest.OutcomeCreated, ingest.OutcomeChanged:
			if res.Data == nil {
				failItem(res, ingest.Errorf(ingest.KindErrorSaving, "%s has no data", res.ID), "")
				break
			}
			art := *res.Data
			err := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
				return m.repo.SaveArtwork(ctx, art)
			})
			if err != nil {
				failItem(res, ingest.Wrap(ingest.KindErrorSaving, err), "")
				break
			}
			res.State = ingest.ItemImported
		case ingest.OutcomeDeleted:
			err := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
				return m.repo.DeleteArtwork(ctx, res.Model)
			})
			if err != nil {
				failItem(res, ingest.Wrap(ingest.KindErrorDeleting, err), "")
				break
			}
			res.State = ingest.ItemImported
		default:
			res.State = ingest.ItemImported
		}
		r.item(*res)
		done++
		if done%m.cfg.CheckpointEvery == 0 {
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
		}
	}
	counts := b.Counts()
	r.logger.Info("metadata imported",
		zap.Int("imported", counts.Imported),
		zap.Int("failed", counts.Failed),
	)
	return nil
}

// syncMetadata refreshes the images of every artwork the import created,
// changed or deleted, together with their neighbours. Unchanged and failed
// records are skipped.
func (m *Machine) syncMetadata(ctx context.Context, r *run) error {
	b := r.batch
	touched := newTouchedImages()
	for i, res := range b.Results {
		if res.State != ingest.ItemImported || res.Data == nil {
			continue
		}
		switch res.Result {
		case ingest.OutcomeCreated, ingest.OutcomeChanged, ingest.OutcomeDeleted:
			for _, id := range res.Data.Images {
				touched.add(id, i)
			}
		}
	}
	return m.syncSimilar(ctx, r, touched)
}
