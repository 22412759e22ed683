package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", dev))
	}
}

func TestNamed(t *testing.T) {
	t.Parallel()

	require.NotNil(t, Named(nil, "scheduler"))

	core, logs := observer.New(zap.InfoLevel)
	Named(zap.New(core), "scheduler").Info("tick")
	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "scheduler", entries[0].LoggerName)
}
