package batch

import (
	"archive/zip"
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/imagestore"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// IsImageArchive reports whether fileName names a zip archive.
func IsImageArchive(fileName string) bool {
	return strings.EqualFold(path.Ext(fileName), ".zip")
}

// archiveEntries keeps the JPEG entries of an archive in archive order.
// Directories, dotfiles and repeated basenames are dropped.
func archiveEntries(files []*zip.File) []*zip.File {
	seen := make(map[string]bool, len(files))
	out := make([]*zip.File, 0, len(files))
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".jpg", ".jpeg":
		default:
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, f)
	}
	return out
}

// processImages ingests every archive entry through the image store, one at a
// time, recording one result per entry.
func (m *Machine) processImages(ctx context.Context, r *run) error {
	b := r.batch
	f, err := m.fs.Open(b.FilePath)
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingZip, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingZip, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingZip, err)
	}
	entries := archiveEntries(zr.File)
	if len(entries) == 0 {
		return ingest.Errorf(ingest.KindZipFileEmpty, "%s", b.FileName)
	}

	results := make([]ingest.ImportResult, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := m.processEntry(ctx, b, entry)
		results = append(results, res)
		r.item(res)
	}
	b.Results = results
	counts := b.Counts()
	r.logger.Info("archive processed",
		zap.Int("entries", counts.Total),
		zap.Int("failed", counts.Failed),
	)
	return nil
}

func (m *Machine) processEntry(ctx context.Context, b *ingest.ImportBatch, entry *zip.File) ingest.ImportResult {
	name := path.Base(entry.Name)
	res := ingest.ImportResult{ID: name, FileName: name, State: ingest.ItemProcessed, Warnings: []ingest.Issue{}}
	rc, err := entry.Open()
	if err != nil {
		failItem(&res, ingest.Wrap(ingest.KindErrorReadingZip, err), "")
		return res
	}
	defer rc.Close()
	out, err := m.images.Ingest(ctx, imagestore.Request{
		Source:   b.Source,
		FileName: name,
		Batch:    b.ID,
		Data:     rc,
	})
	if err != nil {
		failItem(&res, err, ingest.KindErrorReadingData)
		return res
	}
	res.Model = out.Model
	res.Warnings = append(res.Warnings, out.Warnings...)
	return res
}

// importImages submits the stored images to the similarity engine. Images
// flagged TOO_SMALL are imported without being indexed.
func (m *Machine) importImages(ctx context.Context, r *run) error {
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
		if err := m.indexResult(ctx, res); err != nil {
			failItem(res, err, ingest.KindSimilarityFailure)
		} else {
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
	return nil
}

func (m *Machine) indexResult(ctx context.Context, res *ingest.ImportResult) error {
	if res.HasWarning(ingest.KindTooSmall) {
		return nil
	}
	img, err := m.repo.GetImage(ctx, res.Model)
	if err != nil {
		return ingest.Wrap(ingest.KindErrorReadingData, err)
	}
	_, err = m.index.Index(ctx, m.images.CanonicalPath(img.Hash), img.Hash)
	return err
}

// syncImages refreshes the batch's images, the images they now resemble and
// the images they resembled before the batch replaced their content.
func (m *Machine) syncImages(ctx context.Context, r *run) error {
	b := r.batch
	touched := newTouchedImages()
	for i, res := range b.Results {
		if res.State == ingest.ItemImported && res.Model != "" {
			touched.add(res.Model, i)
		}
	}
	stored, err := m.repo.ListImagesByBatch(ctx, b.ID)
	if err != nil {
		r.logger.Warn("list batch images failed", zap.Error(err))
	}
	for _, img := range stored {
		touched.addPrior(img.Similar)
	}
	return m.syncSimilar(ctx, r, touched)
}
