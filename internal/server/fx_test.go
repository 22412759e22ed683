package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/config"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func testConfig() config.Config {
	return config.Config{
		Server:     config.ServerConfig{Port: 8080},
		Scheduler:  config.SchedulerConfig{Interval: time.Second, CheckpointEvery: 5},
		Images:     config.ImagesConfig{WorkDir: "/work", MinSize: 150, JPEGQuality: 90, UploadAttempts: 3},
		Storage:    config.StorageConfig{Backend: config.BackendLocal, LocalBaseDir: "/blobs"},
		Database:   config.DatabaseConfig{Backend: config.BackendMemory},
		Similarity: config.SimilarityConfig{Backend: config.BackendMemory, MinScore: 0.8},
		Progress:   config.ProgressConfig{Enabled: true, LogSink: true, WebsocketSink: true},
		Fetch:      config.FetchConfig{UserAgent: "test", Timeout: time.Second, Attempts: 1},
		Sources:    []config.SourceConfig{{ID: "rijks", Name: "Rijksmuseum"}},
	}
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := NewApp(&cfg, zap.NewNop())
	require.NoError(t, err)
	app.fs = afero.NewMemMapFs()
	require.NoError(t, app.build(context.Background()))
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestBuildWiresPipeline(t *testing.T) {
	app := buildTestApp(t, testConfig())

	require.NotNil(t, app.Creator())
	require.NotNil(t, app.Machine())
	require.NotNil(t, app.Scheduler())
	require.NotNil(t, app.progressHub)
	require.Equal(t, []string{"rijks"}, app.catalog.IDs())

	ctx := context.Background()
	body := `[{"id":"1","source":"rijks","lang":"nl","url":"https://example.org/1","images":["1.jpg"]}]`
	b, err := app.Creator().Create(ctx, ingest.KindMetadata, "rijks", "works.json", strings.NewReader(body))
	require.NoError(t, err)

	report, err := app.Scheduler().Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Advanced)

	got, err := app.Store().GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.StateProcessCompleted, got.State)
	require.True(t, app.Machine().Waiting(got))
}

func TestBuildServesAPI(t *testing.T) {
	app := buildTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sources":["rijks"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRejectsBadSimilarityURL(t *testing.T) {
	cfg := testConfig()
	cfg.Similarity = config.SimilarityConfig{Backend: config.BackendHTTP, BaseURL: " "}
	app, err := NewApp(&cfg, zap.NewNop())
	require.NoError(t, err)
	app.fs = afero.NewMemMapFs()
	require.ErrorContains(t, app.build(context.Background()), "similarity")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	app := buildTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after context cancel")
	}
}
