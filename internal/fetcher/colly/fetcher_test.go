package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
)

func TestDownloadUsesDispositionName(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artimport-test", r.UserAgent())
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="rijks-2024.zip"`)
		_, _ = w.Write([]byte("PK\x03\x04"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "artimport-test", Timeout: time.Second}, nil)
	dl, err := f.Download(context.Background(), srv.URL+"/exports/latest")
	require.NoError(t, err)
	require.Equal(t, "rijks-2024.zip", dl.FileName)
	require.Equal(t, "application/zip", dl.ContentType)
	require.Equal(t, []byte("PK\x03\x04"), dl.Body)
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := New(Config{Retry: retry.Policy{MaxAttempts: 3}}, nil)
	dl, err := f.Download(context.Background(), srv.URL+"/records.json")
	require.NoError(t, err)
	require.Equal(t, "records.json", dl.FileName)
	require.Equal(t, int32(3), calls.Load())
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Retry: retry.Policy{MaxAttempts: 3}}, nil)
	_, err := f.Download(context.Background(), srv.URL+"/missing.zip")
	require.Error(t, err)
	require.Equal(t, ingest.KindDownloadError, ingest.KindOf(err))
	require.True(t, IsClientError(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestDownloadCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}, nil).Download(ctx, srv.URL+"/slow.zip")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.json", fileName(`attachment; filename="a.json"`, "/x/y"))
	require.Equal(t, "y.zip", fileName("", "/x/y.zip"))
	require.Equal(t, "y.zip", fileName("garbage;;", "/x/y.zip"))
	require.Equal(t, "", fileName("", "/"))
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestDownloadWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Config{Timeout: time.Second, Limiter: limiter}, nil)
	_, err := f.Download(context.Background(), srv.URL+"/works.json")
	require.NoError(t, err)
	require.Equal(t, int32(1), limiter.calls.Load())

	blocked := &countingLimiter{err: context.DeadlineExceeded}
	f = New(Config{Timeout: time.Second, Limiter: blocked, Retry: retry.New(0)}, nil)
	_, err = f.Download(context.Background(), srv.URL+"/works.json")
	require.True(t, ingest.IsKind(err, ingest.KindDownloadError))
	require.Equal(t, int32(1), blocked.calls.Load())
}
