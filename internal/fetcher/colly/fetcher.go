// Package collyfetcher downloads remote batch files with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps a download in bytes. Zero means unlimited.
	MaxBodySize int
	Retry       retry.Policy
	// Limiter, when set, is waited on before every attempt.
	Limiter Limiter
}

// Limiter throttles requests to a URL's host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Download is a fetched file.
type Download struct {
	URL         string
	FileName    string
	ContentType string
	Body        []byte
}

// Fetcher downloads files using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = retry.DefaultAttempts
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// Download fetches url, retrying transient failures. Client errors (4xx)
// are not retried. Failures carry ingest.KindDownloadError.
func (f *Fetcher) Download(ctx context.Context, url string) (Download, error) {
	var result Download
	policy := f.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		f.logger.Warn("download failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
				return retry.Permanent(err)
			}
		}
		var err error
		result, err = f.fetchOnce(ctx, url)
		return err
	})
	if err != nil {
		return Download{}, ingest.Wrap(ingest.KindDownloadError, err)
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (Download, error) {
	var (
		result   Download
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return Download{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *Download, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = Download{
			URL:         r.Request.URL.String(),
			FileName:    fileName(r.Headers.Get("Content-Disposition"), r.Request.URL.Path),
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			se := &statusError{code: r.StatusCode}
			if r.StatusCode < 500 {
				*fetchErr = retry.Permanent(se)
				return
			}
			*fetchErr = se
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// fileName prefers the Content-Disposition filename over the URL basename.
func fileName(disposition, urlPath string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); name != "." && name != "/" && params["filename"] != "" {
				return name
			}
		}
	}
	name := path.Base(urlPath)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// IsClientError reports whether err came from a 4xx response.
func IsClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
