package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/artsearch-ingest/internal/progress"
)

// PrometheusSink exports batch progress via Prometheus.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	batchErrors *prometheus.CounterVec
	items       *prometheus.CounterVec
	stepSeconds *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artimport_progress_transitions_total",
			Help: "Batch state transitions observed on the progress stream.",
		}, []string{"kind", "state"}),
		batchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artimport_progress_batch_errors_total",
			Help: "Batches frozen in the error state, by the state that failed.",
		}, []string{"kind", "state"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artimport_progress_items_total",
			Help: "Per-item outcomes partitioned by stage and result.",
		}, []string{"stage", "result"}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artimport_progress_step_seconds",
			Help:    "Time spent in each batch state effect.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"state"}),
	}
	for _, collector := range []prometheus.Collector{s.transitions, s.batchErrors, s.items, s.stepSeconds} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		kind := evt.Kind
		if kind == "" {
			kind = "unknown"
		}
		switch evt.Stage {
		case progress.StageBatchState:
			s.transitions.WithLabelValues(kind, evt.State).Inc()
			if evt.Dur > 0 {
				s.stepSeconds.WithLabelValues(evt.State).Observe(evt.Dur.Seconds())
			}
		case progress.StageBatchError:
			s.batchErrors.WithLabelValues(kind, evt.State).Inc()
		case progress.StageItemDone, progress.StageItemError:
			result := evt.Result
			if result == "" {
				result = "unknown"
			}
			s.items.WithLabelValues(string(evt.Stage), result).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
