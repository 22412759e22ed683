package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{BatchID: "rijks/1", Kind: "images", TS: now, Stage: progress.StageBatchState, State: "process.completed", Dur: 2 * time.Second},
		{BatchID: "rijks/1", TS: now, Stage: progress.StageItemDone, ItemID: "foo.jpg", Result: "created"},
		{BatchID: "rijks/1", TS: now, Stage: progress.StageItemError, ItemID: "bad.jpg", Result: "MALFORMED_IMAGE"},
		{BatchID: "rijks/2", Kind: "metadata", TS: now, Stage: progress.StageBatchError, State: "import.started"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("images", "process.completed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("ITEM_DONE", "created")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("ITEM_ERROR", "MALFORMED_IMAGE")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.batchErrors.WithLabelValues("metadata", "import.started")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.stepSeconds, "artimport_progress_step_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
