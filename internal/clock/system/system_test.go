package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before))
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	require.Equal(t, start, clk.Now())
	clk.Advance(1500 * time.Millisecond)
	require.Equal(t, start.UnixMilli()+1500, clk.Now().UnixMilli())
}
