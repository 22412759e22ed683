// Package imagestore gives images a content-addressed identity. Uploads are
// transcoded to a canonical JPEG, hashed, deduplicated against persisted
// image records, and written to the work directory and durable storage with
// their thumbnail and scaled derivatives.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/metrics"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
)

const contentType = "image/jpeg"

// Directory names below the work dir and in durable storage.
const (
	ImagesDir  = "images"
	ThumbsDir  = "thumbs"
	ScaledDir  = "scaled"
	UploadsDir = "uploads"
)

// Config sizes the canonical file and its derivatives.
type Config struct {
	WorkDir    string
	ThumbSize  int
	ScaledSize int
	// MinSize is the shortest usable side in pixels.
	MinSize int
	Quality int
	Retry   retry.Policy
}

func (c Config) withDefaults() Config {
	if c.ThumbSize <= 0 {
		c.ThumbSize = 220
	}
	if c.ScaledSize <= 0 {
		c.ScaledSize = 300
	}
	if c.MinSize <= 0 {
		c.MinSize = 150
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 90
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = retry.DefaultAttempts
	}
	return c
}

// Request is one image submitted in bulk.
type Request struct {
	Source   string
	FileName string
	Batch    string
	Data     io.Reader
}

// Result describes the stored image. Model is the id of the persisted record,
// {source}/{fileName}, even when the bytes duplicate another image.
type Result struct {
	Image    ingest.Image
	Model    string
	Path     string
	Warnings []ingest.Issue
}

// Upload is a transcoded single image that is not persisted.
type Upload struct {
	Hash   string `json:"hash"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Path   string `json:"-"`
}

// Store ingests images.
type Store struct {
	fs     afero.Fs
	blobs  ingest.BlobStore
	images ingest.ImageRepository
	hasher ingest.Hasher
	clock  ingest.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Store. A nil fs uses the OS filesystem.
func New(
	fs afero.Fs,
	blobs ingest.BlobStore,
	images ingest.ImageRepository,
	hasher ingest.Hasher,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:     fs,
		blobs:  blobs,
		images: images,
		hasher: hasher,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// CanonicalPath is the work-dir path of the canonical file for hash.
func (s *Store) CanonicalPath(hash string) string {
	return path.Join(s.cfg.WorkDir, ImagesDir, hash+".jpg")
}

type canonical struct {
	img    image.Image
	data   []byte
	hash   string
	width  int
	height int
}

// transcode decodes raw bytes and re-encodes them as the canonical JPEG.
func (s *Store) transcode(r io.Reader) (canonical, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return canonical{}, ingest.Wrap(ingest.KindErrorReadingData, err)
	}
	if len(raw) == 0 {
		return canonical{}, ingest.Errorf(ingest.KindEmptyImage, "no data")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return canonical{}, ingest.Wrap(ingest.KindMalformedImage, err)
	}
	b := img.Bounds()
	if b.Dx() <= 1 || b.Dy() <= 1 {
		return canonical{}, ingest.Errorf(ingest.KindEmptyImage, "%dx%d", b.Dx(), b.Dy())
	}
	data, err := encodeJPEG(img, s.cfg.Quality)
	if err != nil {
		return canonical{}, ingest.Wrap(ingest.KindMalformedImage, err)
	}
	// Derivatives render from the canonical pixels.
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return canonical{}, ingest.Wrap(ingest.KindMalformedImage, err)
	}
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return canonical{}, fmt.Errorf("hash image: %w", err)
	}
	return canonical{img: decoded, data: data, hash: hash, width: b.Dx(), height: b.Dy()}, nil
}

func (s *Store) tooSmall(c canonical) bool {
	return min(c.width, c.height) < s.cfg.MinSize
}

// Ingest stores one image from a bulk batch. EMPTY_IMAGE and MALFORMED_IMAGE
// are returned as errors; TOO_SMALL, NEW_VERSION and DUPLICATE_IMAGE are
// reported as warnings on a successful result. Records with the same hash
// share one set of canonical and derivative files.
func (s *Store) Ingest(ctx context.Context, req Request) (Result, error) {
	c, err := s.transcode(req.Data)
	if err != nil {
		return Result{}, err
	}
	id := ingest.JoinID(req.Source, path.Base(req.FileName))
	now := s.clock.Now()
	logger := s.logger.With(zap.String("item_id", id), zap.String("hash", c.hash))

	var warnings []ingest.Issue
	if s.tooSmall(c) {
		warnings = append(warnings, ingest.Issue{
			Kind:   ingest.KindTooSmall,
			Detail: fmt.Sprintf("%dx%d", c.width, c.height),
		})
	}

	record := ingest.Image{
		ID:       id,
		Source:   req.Source,
		FileName: path.Base(req.FileName),
		Hash:     c.hash,
		Width:    c.width,
		Height:   c.height,
		Batch:    req.Batch,
		Created:  now,
		Modified: now,
	}
	existing, err := s.images.GetImage(ctx, id)
	known := err == nil
	switch {
	case known:
		record.Created = existing.Created
		// Edges of a new version stay until the similarity sync replaces them.
		record.Similar = existing.Similar
		if existing.Hash != c.hash {
			warnings = append(warnings, ingest.Issue{Kind: ingest.KindNewVersion, Detail: existing.Hash})
		}
	case !errors.Is(err, ingest.ErrNotFound):
		return Result{}, ingest.Wrap(ingest.KindErrorReadingData, err)
	}

	if !known || existing.Hash != c.hash {
		dup, err := s.images.FindImageByHash(ctx, c.hash)
		switch {
		case err == nil && dup.ID != id:
			logger.Debug("duplicate image", zap.String("original", dup.ID))
			warnings = append(warnings, ingest.Issue{Kind: ingest.KindDuplicateImage, Detail: dup.ID})
		case err != nil && !errors.Is(err, ingest.ErrNotFound):
			return Result{}, ingest.Wrap(ingest.KindErrorReadingData, err)
		}
	}

	if err := s.writeAll(ctx, c); err != nil {
		return Result{}, err
	}
	if err := s.save(ctx, record); err != nil {
		return Result{}, err
	}
	logger.Debug("image stored", zap.Int("warnings", len(warnings)))
	return Result{Image: record, Model: id, Path: s.CanonicalPath(c.hash), Warnings: warnings}, nil
}

// PrepareUpload transcodes and hashes a single image without persisting a
// record. Unlike Ingest it rejects images below the minimum size. The file
// stays in the uploads dir until Release.
func (s *Store) PrepareUpload(_ context.Context, data io.Reader) (Upload, error) {
	c, err := s.transcode(data)
	if err != nil {
		return Upload{}, err
	}
	if s.tooSmall(c) {
		return Upload{}, ingest.Errorf(ingest.KindTooSmall, "%dx%d below %dpx", c.width, c.height, s.cfg.MinSize)
	}
	dir := path.Join(s.cfg.WorkDir, UploadsDir)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return Upload{}, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	// Concurrent uploads of the same bytes each get their own file.
	f, err := afero.TempFile(s.fs, dir, c.hash+"-*.jpg")
	if err != nil {
		return Upload{}, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	_, err = f.Write(c.data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(f.Name())
		return Upload{}, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	return Upload{Hash: c.hash, Width: c.width, Height: c.height, Path: f.Name()}, nil
}

// Release removes the file behind an upload once it has been queried.
func (s *Store) Release(_ context.Context, up Upload) error {
	if err := s.fs.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ingest.Wrap(ingest.KindErrorDeleting, err)
	}
	return nil
}

// writeAll uploads the canonical file and derivatives missing from the work
// dir, then writes them locally. A local file marks a completed upload.
func (s *Store) writeAll(ctx context.Context, c canonical) error {
	name := c.hash + ".jpg"
	files := []struct {
		dir    string
		render func() ([]byte, error)
	}{
		{ImagesDir, func() ([]byte, error) { return c.data, nil }},
		{ThumbsDir, func() ([]byte, error) { return encodeJPEG(Thumbnail(c.img, s.cfg.ThumbSize), s.cfg.Quality) }},
		{ScaledDir, func() ([]byte, error) { return encodeJPEG(Scaled(c.img, s.cfg.ScaledSize), s.cfg.Quality) }},
	}
	for _, f := range files {
		local := path.Join(s.cfg.WorkDir, f.dir, name)
		exists, err := afero.Exists(s.fs, local)
		if err != nil {
			return ingest.Wrap(ingest.KindErrorSaving, err)
		}
		if exists {
			continue
		}
		data, err := f.render()
		if err != nil {
			return ingest.Wrap(ingest.KindMalformedImage, err)
		}
		if err := s.upload(ctx, path.Join(f.dir, name), data); err != nil {
			return err
		}
		if err := s.writeFile(local, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeFile(p string, data []byte) error {
	if exists, _ := afero.Exists(s.fs, p); exists {
		return nil
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return ingest.Wrap(ingest.KindErrorSaving, err)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return ingest.Wrap(ingest.KindErrorSaving, err)
	}
	return nil
}

func (s *Store) upload(ctx context.Context, objectPath string, data []byte) error {
	if s.blobs == nil {
		return nil
	}
	policy := s.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		s.logger.Warn("upload failed, retrying",
			zap.String("path", objectPath),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(data))
		metrics.ObserveUploadAttempt(err)
		return err
	})
	if err != nil {
		return ingest.Wrap(ingest.KindUploadError, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, img ingest.Image) error {
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.images.SaveImage(ctx, img)
	})
	if err != nil {
		return ingest.Wrap(ingest.KindErrorSaving, err)
	}
	return nil
}
