// Package scheduler drives every open batch forward on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/metrics"
)

// DefaultInterval is the pause between ticks.
const DefaultInterval = 5 * time.Second

// Advancer runs one state transition for a batch.
type Advancer interface {
	Advanceable(b ingest.ImportBatch) bool
	Advance(ctx context.Context, b ingest.ImportBatch) (ingest.ImportBatch, error)
}

// Config controls the scheduler loop.
type Config struct {
	Interval time.Duration
}

// Report summarizes one tick.
type Report struct {
	Open     int
	Groups   int
	Advanced int
	Failed   int
	// Skipped is set when another tick was still running.
	Skipped bool
}

// Scheduler groups advanceable batches by state and advances the groups
// concurrently. Batches within a group advance one at a time.
type Scheduler struct {
	batches ingest.BatchRepository
	machine Advancer
	cfg     Config
	logger  *zap.Logger

	running sync.Mutex
}

// New creates a Scheduler.
func New(batches ingest.BatchRepository, machine Advancer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{batches: batches, machine: machine, cfg: cfg, logger: logger}
}

// Run ticks until ctx is done, sleeping Interval after each tick. A failed
// tick is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}
		timer.Reset(s.cfg.Interval)
	}
}

// Tick loads every non-terminal batch, keeps the advanceable ones and
// advances each once. It returns after every group has finished.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		s.logger.Debug("tick already running")
		return Report{Skipped: true}, nil
	}
	defer s.running.Unlock()

	started := time.Now()
	open, err := s.batches.ListBatches(ctx, ingest.BatchFilter{States: ingest.NonTerminalStates()})
	if err != nil {
		return Report{}, fmt.Errorf("list open batches: %w", err)
	}

	groups, order := s.group(open)
	report := Report{Open: len(open), Groups: len(order)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, state := range order {
		batches := groups[state]
		g.Go(func() error {
			for _, b := range batches {
				if gctx.Err() != nil {
					return nil
				}
				next, err := s.machine.Advance(gctx, b)
				mu.Lock()
				if err != nil {
					report.Failed++
				} else {
					report.Advanced++
				}
				mu.Unlock()
				if err != nil {
					s.logger.Warn("batch advance failed",
						zap.String("batch_id", b.ID),
						zap.String("state", string(b.State)),
						zap.Error(err),
					)
					continue
				}
				s.logger.Debug("batch advanced",
					zap.String("batch_id", b.ID),
					zap.String("state", string(next.State)),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveTick(report.Advanced, time.Since(started))
	if report.Groups > 0 {
		s.logger.Info("tick finished",
			zap.Int("open", report.Open),
			zap.Int("advanced", report.Advanced),
			zap.Int("failed", report.Failed),
			zap.Duration("took", time.Since(started)),
		)
	}
	return report, nil
}

// group buckets advanceable batches by state, keeping the oldest-first order
// of the listing inside each bucket and ordering buckets by first appearance.
func (s *Scheduler) group(open []ingest.ImportBatch) (map[ingest.State][]ingest.ImportBatch, []ingest.State) {
	groups := make(map[ingest.State][]ingest.ImportBatch)
	var order []ingest.State
	for _, b := range open {
		if !s.machine.Advanceable(b) {
			continue
		}
		if _, ok := groups[b.State]; !ok {
			order = append(order, b.State)
		}
		groups[b.State] = append(groups[b.State], b)
	}
	return groups, order
}
