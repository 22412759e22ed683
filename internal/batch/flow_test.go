package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func noop(context.Context, *run) error { return nil }

func TestNewFlowValidatesTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []Step
		waits map[ingest.State]ingest.State
		ok    bool
	}{
		{
			name: "linear",
			steps: []Step{
				{From: ingest.StateStarted, Running: ingest.StateProcessStarted, Effect: noop, Next: ingest.StateProcessCompleted},
				{From: ingest.StateProcessCompleted, Next: ingest.StateCompleted},
			},
			ok: true,
		},
		{
			name: "dangling state",
			steps: []Step{
				{From: ingest.StateStarted, Running: ingest.StateProcessStarted, Effect: noop, Next: ingest.StateProcessCompleted},
			},
		},
		{
			name: "completed unreachable",
			steps: []Step{
				{From: ingest.StateStarted, Next: ingest.StateError},
			},
		},
		{
			name: "running without effect",
			steps: []Step{
				{From: ingest.StateStarted, Running: ingest.StateProcessStarted, Next: ingest.StateCompleted},
			},
		},
		{
			name: "duplicate from",
			steps: []Step{
				{From: ingest.StateStarted, Next: ingest.StateCompleted},
				{From: ingest.StateStarted, Next: ingest.StateCompleted},
			},
		},
		{
			name: "step from terminal",
			steps: []Step{
				{From: ingest.StateStarted, Next: ingest.StateCompleted},
				{From: ingest.StateCompleted, Next: ingest.StateStarted},
			},
		},
		{
			name: "waiting and advancing",
			steps: []Step{
				{From: ingest.StateStarted, Next: ingest.StateProcessCompleted},
				{From: ingest.StateProcessCompleted, Next: ingest.StateCompleted},
			},
			waits: map[ingest.State]ingest.State{ingest.StateProcessCompleted: ingest.StateCompleted},
		},
		{
			name: "approval path",
			steps: []Step{
				{From: ingest.StateStarted, Next: ingest.StateProcessCompleted},
				{From: ingest.StateImportStarted, Next: ingest.StateCompleted},
			},
			waits: map[ingest.State]ingest.State{ingest.StateProcessCompleted: ingest.StateImportStarted},
			ok:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := newFlow(ingest.KindMetadata, tt.steps, tt.waits)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, f.advanceable(ingest.StateStarted))
		})
	}
}

func TestMachineTables(t *testing.T) {
	t.Parallel()

	m := newFixture(t).machine
	meta := m.flows[ingest.KindMetadata]
	images := m.flows[ingest.KindImages]

	for _, s := range []ingest.State{
		ingest.StateStarted, ingest.StateProcessStarted, ingest.StateImportStarted, ingest.StateImportCompleted,
		ingest.StateSimilaritySyncStarted, ingest.StateSimilaritySyncCompleted,
	} {
		require.True(t, meta.advanceable(s), s)
	}
	require.False(t, meta.advanceable(ingest.StateProcessCompleted))
	to, ok := meta.approveTarget(ingest.StateProcessCompleted)
	require.True(t, ok)
	require.Equal(t, ingest.StateImportStarted, to)

	for _, s := range ingest.NonTerminalStates() {
		require.True(t, images.advanceable(s), "image batches never wait: %s", s)
	}
	for _, s := range []ingest.State{ingest.StateCompleted, ingest.StateError} {
		require.False(t, meta.advanceable(s))
		require.False(t, images.advanceable(s))
	}

	require.False(t, m.Advanceable(ingest.ImportBatch{Kind: "video", State: ingest.StateStarted}))
	_, err := m.Advance(context.Background(), ingest.ImportBatch{ID: "x/1", Kind: "video", State: ingest.StateStarted})
	require.Error(t, err)
}
