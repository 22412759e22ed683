package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/artsearch-ingest/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "rijks/1", TS: time.Now(), Stage: progress.StageBatchState, State: "started"},
		{BatchID: "rijks/1", TS: time.Now(), Stage: progress.StageItemError, ItemID: "x.jpg", Result: "EMPTY_IMAGE"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "x.jpg", entries[1].ContextMap()["item_id"])
	require.NoError(t, sink.Close(context.Background()))
}
