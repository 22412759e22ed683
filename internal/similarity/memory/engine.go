// Package memory is an in-process similarity engine built on a 64-bit
// average hash. It stands in for the external service in development and
// tests.
package memory

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"math/bits"
	"sort"
	"sync"

	"github.com/nfnt/resize"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity"
)

// Defaults.
const (
	DefaultMinSize  = 150
	DefaultMinScore = 0.75
)

// Config tunes the engine.
type Config struct {
	// MinSize is the shortest side, in pixels, the engine accepts.
	MinSize int
	// MinScore drops neighbours scoring below it.
	MinScore float64
	// Limit caps the number of neighbours returned. Zero means no cap.
	Limit int
}

// Engine keeps average hashes in memory.
type Engine struct {
	cfg    Config
	mu     sync.RWMutex
	hashes map[string]uint64
}

var _ similarity.Engine = (*Engine)(nil)

// New builds an engine. Zero config values take the package defaults.
func New(cfg Config) *Engine {
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	return &Engine{cfg: cfg, hashes: make(map[string]uint64)}
}

// AverageHash computes the 64-bit average hash of img: an 8x8 grayscale
// thumbnail thresholded at its mean, most significant bit first.
func AverageHash(img image.Image) uint64 {
	small := resize.Resize(8, 8, img, resize.Bilinear)
	b := small.Bounds()
	var (
		lum [64]float64
		sum float64
	)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r, g, bl, _ := small.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			lum[y*8+x] = v
			sum += v
		}
	}
	mean := sum / 64
	var hash uint64
	for i, v := range lum {
		if v > mean {
			hash |= 1 << uint(63-i)
		}
	}
	return hash
}

// Score converts the hamming distance of two hashes into [0,1].
func Score(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

func (e *Engine) decode(r io.Reader) (uint64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, ingest.Wrap(ingest.KindMalformedImage, err)
	}
	b := img.Bounds()
	if min(b.Dx(), b.Dy()) < e.cfg.MinSize {
		return 0, ingest.Errorf(ingest.KindImageSizeTooSmall, "%dx%d below %dpx", b.Dx(), b.Dy(), e.cfg.MinSize)
	}
	return AverageHash(img), nil
}

// Add indexes the image under key.
func (e *Engine) Add(_ context.Context, key string, r io.Reader) error {
	h, err := e.decode(r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.hashes[key] = h
	e.mu.Unlock()
	return nil
}

// Exists reports whether key is indexed.
func (e *Engine) Exists(_ context.Context, key string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.hashes[key]
	return ok, nil
}

// Similar ranks every other entry against key.
func (e *Engine) Similar(_ context.Context, key string) ([]similarity.Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.hashes[key]
	if !ok {
		return nil, fmt.Errorf("similar %s: %w", key, ingest.ErrNotFound)
	}
	return e.rank(h, key), nil
}

// SimilarToFile ranks every entry against an unindexed image.
func (e *Engine) SimilarToFile(_ context.Context, r io.Reader) ([]similarity.Match, error) {
	h, err := e.decode(r)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rank(h, ""), nil
}

func (e *Engine) rank(h uint64, self string) []similarity.Match {
	out := make([]similarity.Match, 0)
	for key, other := range e.hashes {
		if key == self {
			continue
		}
		if s := Score(h, other); s >= e.cfg.MinScore {
			out = append(out, similarity.Match{Key: key, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	if e.cfg.Limit > 0 && len(out) > e.cfg.Limit {
		out = out[:e.cfg.Limit]
	}
	return out
}
