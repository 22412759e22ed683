// Package httpengine is the REST client for the external similarity
// service.
//
//	PUT  /images/{key}          body: image bytes; 200, or 422 {"error":"image_size_too_small"}
//	GET  /images/{key}          200 when indexed, 404 otherwise
//	GET  /images/{key}/similar  {"results":[{"id":"...","score":0.93}]}
//	POST /search                body: image bytes; same response shape
package httpengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity"
)

const tooSmallCode = "image_size_too_small"

// Config points the client at the service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements similarity.Engine over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

var _ similarity.Engine = (*Client)(nil)

// New validates cfg and builds a client. A nil httpClient gets one with
// cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("similarity.base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse similarity base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: httpClient}, nil
}

type result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type response struct {
	Results []result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.base.String() + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "image/jpeg")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// Add uploads the image under key.
func (c *Client) Add(ctx context.Context, key string, image io.Reader) error {
	resp, err := c.do(ctx, http.MethodPut, c.endpoint("images", key), image)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var body response
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error == tooSmallCode {
			return ingest.Errorf(ingest.KindImageSizeTooSmall, "%s", key)
		}
		return fmt.Errorf("add %s: unexpected status %d", key, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("add %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Exists reports whether key is indexed.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("images", key), nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("exists %s: unexpected status %d", key, resp.StatusCode)
	}
}

// Similar returns the neighbours of key.
func (c *Client) Similar(ctx context.Context, key string) ([]similarity.Match, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("images", key, "similar"), nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("similar %s: %w", key, ingest.ErrNotFound)
	}
	return decodeMatches(resp)
}

// SimilarToFile returns the neighbours of an unindexed image.
func (c *Client) SimilarToFile(ctx context.Context, image io.Reader) ([]similarity.Match, error) {
	resp, err := c.do(ctx, http.MethodPost, c.endpoint("search"), image)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ingest.Errorf(ingest.KindImageSizeTooSmall, "search image")
	}
	return decodeMatches(resp)
}

func decodeMatches(resp *http.Response) ([]similarity.Match, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode similarity response: %w", err)
	}
	out := make([]similarity.Match, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, similarity.Match{Key: r.ID, Score: r.Score})
	}
	return out, nil
}
