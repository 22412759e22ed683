// Package batch drives import batches through their state machine.
//
// A batch is either a metadata file or a zipped image archive. Each kind has
// a transition table (see Step) validated at construction. Advance runs one
// step: it persists the running state, executes the effect and persists the
// next state, or freezes the batch in the error state when the effect fails.
// Per-item failures never fail the batch; they are recorded on the item's
// ImportResult.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/imagestore"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/metrics"
	"github.com/JakeFAU/artsearch-ingest/internal/normalize"
	"github.com/JakeFAU/artsearch-ingest/internal/progress"
	"github.com/JakeFAU/artsearch-ingest/internal/publisher"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
)

const tracerName = "github.com/JakeFAU/artsearch-ingest/internal/batch"

// ErrInvalidTransition is returned by Approve and Abandon when the batch is
// not waiting for an operator.
var ErrInvalidTransition = errors.New("invalid transition")

// Repository is the persistence the state machine needs.
type Repository interface {
	ingest.BatchRepository
	ingest.ArtworkRepository
	ingest.ImageRepository
}

// Normalizer converts raw records into canonical artworks.
type Normalizer interface {
	Normalize(raw map[string]any) (normalize.Result, error)
}

// ImageIngester stores images by content hash.
type ImageIngester interface {
	Ingest(ctx context.Context, req imagestore.Request) (imagestore.Result, error)
	CanonicalPath(hash string) string
}

// SimilarityIndex submits images to the similarity engine and queries it.
type SimilarityIndex interface {
	Index(ctx context.Context, filePath, hash string) (bool, error)
	QueryByHash(ctx context.Context, hash string) ([]ingest.SimilarityEdge, error)
}

// Config tunes the state machine.
type Config struct {
	// Topic receives a notification for every persisted transition.
	Topic string
	// CheckpointEvery persists item progress after this many items during
	// the import step.
	CheckpointEvery int
	// Retry wraps repository saves and deletes.
	Retry retry.Policy
}

// Machine advances batches of both kinds.
type Machine struct {
	repo       Repository
	normalizer Normalizer
	images     ImageIngester
	index      SimilarityIndex
	fs         afero.Fs
	publisher  ingest.Publisher
	events     progress.Emitter
	clock      ingest.Clock
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	flows      map[ingest.BatchKind]*flow
}

// NewMachine constructs a Machine and validates its transition tables.
// publisher and events may be nil.
func NewMachine(
	repo Repository,
	normalizer Normalizer,
	images ImageIngester,
	index SimilarityIndex,
	fs afero.Fs,
	pub ingest.Publisher,
	events progress.Emitter,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Machine, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 25
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = retry.DefaultAttempts
	}
	m := &Machine{
		repo:       repo,
		normalizer: normalizer,
		images:     images,
		index:      index,
		fs:         fs,
		publisher:  pub,
		events:     events,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
	metadataFlow, err := newFlow(ingest.KindMetadata, m.metadataSteps(), map[ingest.State]ingest.State{
		ingest.StateProcessCompleted: ingest.StateImportStarted,
	})
	if err != nil {
		return nil, err
	}
	imageFlow, err := newFlow(ingest.KindImages, m.imageSteps(), nil)
	if err != nil {
		return nil, err
	}
	m.flows = map[ingest.BatchKind]*flow{
		ingest.KindMetadata: metadataFlow,
		ingest.KindImages:   imageFlow,
	}
	return m, nil
}

func (m *Machine) metadataSteps() []Step {
	return []Step{
		{From: ingest.StateStarted, Running: ingest.StateProcessStarted, Effect: m.processMetadata, Next: ingest.StateProcessCompleted},
		{From: ingest.StateImportStarted, Effect: m.importMetadata, Next: ingest.StateImportCompleted},
		{From: ingest.StateImportCompleted, Running: ingest.StateSimilaritySyncStarted, Effect: m.syncMetadata, Next: ingest.StateSimilaritySyncCompleted},
		{From: ingest.StateSimilaritySyncCompleted, Effect: m.cleanup, Next: ingest.StateCompleted},
	}
}

func (m *Machine) imageSteps() []Step {
	return []Step{
		{From: ingest.StateStarted, Running: ingest.StateProcessStarted, Effect: m.processImages, Next: ingest.StateProcessCompleted},
		{From: ingest.StateProcessCompleted, Running: ingest.StateImportStarted, Effect: m.importImages, Next: ingest.StateImportCompleted},
		{From: ingest.StateImportCompleted, Running: ingest.StateSimilaritySyncStarted, Effect: m.syncImages, Next: ingest.StateSimilaritySyncCompleted},
		{From: ingest.StateSimilaritySyncCompleted, Effect: m.cleanup, Next: ingest.StateCompleted},
	}
}

// Advanceable reports whether Advance has work to do for b. Terminal batches
// and batches waiting for an operator are not advanceable.
func (m *Machine) Advanceable(b ingest.ImportBatch) bool {
	f, ok := m.flows[b.Kind]
	return ok && f.advanceable(b.State)
}

// Waiting reports whether b is parked until an operator approves or
// abandons it. Batches frozen in error by a failed effect are waiting too.
func (m *Machine) Waiting(b ingest.ImportBatch) bool {
	_, err := m.waitTarget(b)
	return err == nil
}

// Advance runs one step for b and returns the batch as persisted. Batches
// without a step for their state are returned unchanged. When the effect
// fails the batch is persisted in the error state and the effect error is
// returned.
func (m *Machine) Advance(ctx context.Context, b ingest.ImportBatch) (ingest.ImportBatch, error) {
	f, ok := m.flows[b.Kind]
	if !ok {
		return b, fmt.Errorf("batch %s: unknown kind %q", b.ID, b.Kind)
	}
	step, ok := f.step(b.State)
	if !ok {
		return b, nil
	}
	from := b.State
	logger := m.logger.With(zap.String("batch_id", b.ID), zap.String("state", string(from)))

	if step.Running != "" && b.State != step.Running {
		if err := m.transition(ctx, &b, step.Running); err != nil {
			return b, err
		}
	}

	if step.Effect != nil {
		r := &run{m: m, batch: &b, logger: logger}
		started := time.Now()
		err := m.runEffect(ctx, step, r)
		metrics.ObserveAdvance(string(b.Kind), string(from), time.Since(started), err)
		if err != nil && ctx.Err() != nil {
			// Interrupted, not failed: the running state resumes next tick.
			logger.Info("batch effect interrupted", zap.Error(err))
			return b, fmt.Errorf("advance batch %s: %w", b.ID, ctx.Err())
		}
		if err != nil {
			logger.Warn("batch effect failed", zap.Error(err))
			b.Error = errorText(err)
			b.FailedState = b.State
			if perr := m.transition(ctx, &b, ingest.StateError); perr != nil {
				return b, errors.Join(err, perr)
			}
			return b, fmt.Errorf("advance batch %s from %s: %w", b.ID, from, err)
		}
	}

	if err := m.transition(ctx, &b, step.Next); err != nil {
		return b, err
	}
	logger.Info("batch advanced", zap.String("next", string(b.State)))
	return b, nil
}

func (m *Machine) runEffect(ctx context.Context, step Step, r *run) error {
	ctx, span := m.tracer.Start(ctx, "batch.effect",
		trace.WithAttributes(
			attribute.String("batch.id", r.batch.ID),
			attribute.String("batch.kind", string(r.batch.Kind)),
			attribute.String("batch.state", string(r.batch.State)),
		),
	)
	defer span.End()
	if err := step.Effect(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Approve moves a waiting batch on. The batch is loaded fresh by id. A batch
// frozen in error is put back into the state that failed so the scheduler
// runs that effect again.
func (m *Machine) Approve(ctx context.Context, id string) (ingest.ImportBatch, error) {
	b, err := m.repo.GetBatch(ctx, id)
	if err != nil {
		return ingest.ImportBatch{}, fmt.Errorf("load batch: %w", err)
	}
	to, err := m.waitTarget(b)
	if err != nil {
		return b, err
	}
	if b.State == ingest.StateError {
		b.Error = ""
		b.FailedState = ""
	}
	if err := m.transition(ctx, &b, to); err != nil {
		return b, err
	}
	m.logger.Info("batch approved", zap.String("batch_id", b.ID), zap.String("state", string(to)))
	return b, nil
}

// Abandon freezes a waiting batch in the error state with reason ABANDONED.
func (m *Machine) Abandon(ctx context.Context, id string) (ingest.ImportBatch, error) {
	b, err := m.repo.GetBatch(ctx, id)
	if err != nil {
		return ingest.ImportBatch{}, fmt.Errorf("load batch: %w", err)
	}
	if _, err := m.waitTarget(b); err != nil {
		return b, err
	}
	b.Error = string(ingest.KindAbandoned)
	b.FailedState = ""
	if err := m.transition(ctx, &b, ingest.StateError); err != nil {
		return b, err
	}
	m.logger.Info("batch abandoned", zap.String("batch_id", b.ID))
	return b, nil
}

func (m *Machine) waitTarget(b ingest.ImportBatch) (ingest.State, error) {
	f, ok := m.flows[b.Kind]
	if ok {
		if to, waiting := f.approveTarget(b.State); waiting {
			return to, nil
		}
		if b.State == ingest.StateError && b.FailedState != "" && f.advanceable(b.FailedState) {
			return b.FailedState, nil
		}
	}
	return "", &ingest.Error{
		Kind:   ingest.KindInvalidTransition,
		Detail: fmt.Sprintf("batch %s is %s", b.ID, b.State),
		Err:    ErrInvalidTransition,
	}
}

// transition persists b in state to, then announces it.
func (m *Machine) transition(ctx context.Context, b *ingest.ImportBatch, to ingest.State) error {
	prev := b.State
	b.State = to
	b.Modified = m.clock.Now()
	if err := m.saveBatch(ctx, *b); err != nil {
		b.State = prev
		return fmt.Errorf("persist batch %s as %s: %w", b.ID, to, err)
	}
	evt := progress.Event{
		BatchID: b.ID,
		Kind:    string(b.Kind),
		TS:      b.Modified,
		Stage:   progress.StageBatchState,
		State:   string(to),
	}
	if to == ingest.StateError {
		evt.Stage = progress.StageBatchError
		evt.Note = b.Error
	}
	m.events.Emit(evt)
	m.notify(ctx, *b)
	return nil
}

func (m *Machine) saveBatch(ctx context.Context, b ingest.ImportBatch) error {
	return m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return m.repo.SaveBatch(ctx, b)
	})
}

func (m *Machine) notify(ctx context.Context, b ingest.ImportBatch) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, publisher.NewNotification(b)); err != nil {
		m.logger.Warn("publish batch notification failed",
			zap.String("batch_id", b.ID),
			zap.String("state", string(b.State)),
			zap.Error(err),
		)
	}
}

// errorText renders err for the batch record as "KIND: detail" so the kind
// survives wrapping.
func errorText(err error) string {
	msg := err.Error()
	if kind := ingest.KindOf(err); kind != "" && !strings.HasPrefix(msg, string(kind)) {
		return string(kind) + ": " + msg
	}
	return msg
}

// cleanup removes the uploaded file once the batch no longer needs it.
func (m *Machine) cleanup(_ context.Context, r *run) error {
	if r.batch.FilePath == "" {
		return nil
	}
	if err := m.fs.Remove(r.batch.FilePath); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		r.logger.Warn("remove batch file failed", zap.String("path", r.batch.FilePath), zap.Error(err))
	}
	return nil
}

// run is the state shared by one effect invocation.
type run struct {
	m      *Machine
	batch  *ingest.ImportBatch
	logger *zap.Logger
}

// checkpoint persists item progress without changing state.
func (r *run) checkpoint(ctx context.Context) error {
	r.batch.Modified = r.m.clock.Now()
	if err := r.m.saveBatch(ctx, *r.batch); err != nil {
		return ingest.Wrap(ingest.KindErrorSaving, err)
	}
	return nil
}

// item reports one finished ImportResult.
func (r *run) item(res ingest.ImportResult) {
	evt := progress.Event{
		BatchID: r.batch.ID,
		Kind:    string(r.batch.Kind),
		TS:      r.m.clock.Now(),
		Stage:   progress.StageItemDone,
		State:   string(r.batch.State),
		ItemID:  res.ID,
		Result:  string(res.Result),
	}
	outcome := "ok"
	switch {
	case res.Error != nil:
		evt.Stage = progress.StageItemError
		evt.Result = string(res.Error.Kind)
		evt.Note = res.Error.Detail
		outcome = "failed"
	case len(res.Warnings) > 0:
		outcome = "warning"
	}
	metrics.ObserveItem(string(r.batch.Kind), outcome)
	r.m.events.Emit(evt)
}

// failItem records err on res.
func failItem(res *ingest.ImportResult, err error, fallback ingest.ErrorKind) {
	issue := ingest.IssueOf(err, fallback)
	res.State = ingest.ItemFailed
	res.Error = &issue
}
