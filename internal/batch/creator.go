package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/artsearch-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// BatchesDir is the work-dir directory holding uploaded batch files.
const BatchesDir = "batches"

// Downloader fetches a remote batch file.
type Downloader interface {
	Download(ctx context.Context, url string) (collyfetcher.Download, error)
}

// Creator turns uploads into new batches in the started state.
type Creator struct {
	fs       afero.Fs
	repo     ingest.BatchRepository
	sources  ingest.SourceLookup
	download Downloader
	clock    ingest.Clock
	workDir  string
	logger   *zap.Logger

	mu   sync.Mutex
	last int64
}

// NewCreator constructs a Creator. download may be nil when URL imports are
// not offered.
func NewCreator(
	fs afero.Fs,
	repo ingest.BatchRepository,
	sources ingest.SourceLookup,
	download Downloader,
	clock ingest.Clock,
	workDir string,
	logger *zap.Logger,
) *Creator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{
		fs:       fs,
		repo:     repo,
		sources:  sources,
		download: download,
		clock:    clock,
		workDir:  workDir,
		logger:   logger,
	}
}

// CreateMetadataBatch stores a metadata file and creates its batch.
func (c *Creator) CreateMetadataBatch(ctx context.Context, source, fileName string, data io.Reader) (ingest.ImportBatch, error) {
	return c.Create(ctx, ingest.KindMetadata, source, fileName, data)
}

// CreateImageBatch stores a zip archive and creates its batch.
func (c *Creator) CreateImageBatch(ctx context.Context, source, fileName string, data io.Reader) (ingest.ImportBatch, error) {
	return c.Create(ctx, ingest.KindImages, source, fileName, data)
}

// CreateFromURL downloads a batch file and creates its batch.
func (c *Creator) CreateFromURL(ctx context.Context, source string, kind ingest.BatchKind, url string) (ingest.ImportBatch, error) {
	if c.download == nil {
		return ingest.ImportBatch{}, ingest.Errorf(ingest.KindDownloadError, "downloads are disabled")
	}
	if _, err := c.lookup(source); err != nil {
		return ingest.ImportBatch{}, err
	}
	dl, err := c.download.Download(ctx, url)
	if err != nil {
		return ingest.ImportBatch{}, err
	}
	name := dl.FileName
	if name == "" {
		name = defaultName(kind)
	}
	c.logger.Info("batch file downloaded",
		zap.String("source", source),
		zap.String("url", dl.URL),
		zap.Int("bytes", len(dl.Body)),
	)
	return c.Create(ctx, kind, source, name, bytes.NewReader(dl.Body))
}

// Create copies data into the work dir and persists a started batch with
// id {source}/{unix-millis}.
func (c *Creator) Create(
	ctx context.Context,
	kind ingest.BatchKind,
	source, fileName string,
	data io.Reader,
) (ingest.ImportBatch, error) {
	if !kind.Valid() {
		return ingest.ImportBatch{}, ingest.Errorf(ingest.KindUnsupportedContent, "unknown batch kind %q", kind)
	}
	if _, err := c.lookup(source); err != nil {
		return ingest.ImportBatch{}, err
	}
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = defaultName(kind)
	}
	switch {
	case kind == ingest.KindMetadata && !IsMetadataFile(name):
		return ingest.ImportBatch{}, ingest.Errorf(ingest.KindUnsupportedContent, "%s is not a metadata file", name)
	case kind == ingest.KindImages && !IsImageArchive(name):
		return ingest.ImportBatch{}, ingest.Errorf(ingest.KindUnsupportedContent, "%s is not a zip archive", name)
	}

	now := c.clock.Now()
	ts := c.timestamp(now.UnixMilli())
	filePath := path.Join(c.workDir, BatchesDir, source, ts, name)
	if err := c.fs.MkdirAll(path.Dir(filePath), 0o755); err != nil {
		return ingest.ImportBatch{}, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	f, err := c.fs.Create(filePath)
	if err != nil {
		return ingest.ImportBatch{}, ingest.Wrap(ingest.KindErrorSaving, err)
	}
	size, err := io.Copy(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = c.fs.Remove(filePath)
		return ingest.ImportBatch{}, ingest.Wrap(ingest.KindErrorReadingData, err)
	}

	b := ingest.ImportBatch{
		ID:       ingest.JoinID(source, ts),
		Source:   source,
		Kind:     kind,
		FileName: name,
		FilePath: filePath,
		State:    ingest.StateStarted,
		Created:  now,
		Modified: now,
		Results:  []ingest.ImportResult{},
	}
	if err := c.repo.CreateBatch(ctx, b); err != nil {
		_ = c.fs.Remove(filePath)
		return ingest.ImportBatch{}, ingest.Wrap(ingest.KindErrorSaving, fmt.Errorf("create batch: %w", err))
	}
	c.logger.Info("batch created",
		zap.String("batch_id", b.ID),
		zap.String("kind", string(kind)),
		zap.Int64("bytes", size),
	)
	return b, nil
}

func (c *Creator) lookup(source string) (ingest.Source, error) {
	if c.sources != nil {
		if s, ok := c.sources.Lookup(source); ok {
			return s, nil
		}
	}
	return ingest.Source{}, ingest.Errorf(ingest.KindUnknownSource, "%s", source)
}

// timestamp returns a millisecond stamp strictly greater than any stamp this
// Creator handed out before.
func (c *Creator) timestamp(ms int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return strconv.FormatInt(ms, 10)
}

func defaultName(kind ingest.BatchKind) string {
	if kind == ingest.KindImages {
		return "images.zip"
	}
	return "records.json"
}
