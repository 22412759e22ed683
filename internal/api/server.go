// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/config"
	"github.com/JakeFAU/artsearch-ingest/internal/imagestore"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// BatchCreator stores uploads as new batches.
type BatchCreator interface {
	Create(ctx context.Context, kind ingest.BatchKind, source, fileName string, data io.Reader) (ingest.ImportBatch, error)
	CreateFromURL(ctx context.Context, source string, kind ingest.BatchKind, url string) (ingest.ImportBatch, error)
}

// BatchController applies operator decisions to waiting batches.
type BatchController interface {
	Waiting(b ingest.ImportBatch) bool
	Approve(ctx context.Context, id string) (ingest.ImportBatch, error)
	Abandon(ctx context.Context, id string) (ingest.ImportBatch, error)
}

// Repository is the read side the API renders from.
type Repository interface {
	GetBatch(ctx context.Context, id string) (ingest.ImportBatch, error)
	ListBatches(ctx context.Context, filter ingest.BatchFilter) ([]ingest.ImportBatch, error)
	GetImage(ctx context.Context, id string) (ingest.Image, error)
}

// Uploader transcodes a single ad-hoc image and removes it once queried.
type Uploader interface {
	PrepareUpload(ctx context.Context, data io.Reader) (imagestore.Upload, error)
	Release(ctx context.Context, up imagestore.Upload) error
}

// Searcher queries the similarity index with an unindexed file.
type Searcher interface {
	QueryByFile(ctx context.Context, filePath string) ([]ingest.SimilarityEdge, error)
}

// Catalog is the source snapshot.
type Catalog interface {
	Refresh(ctx context.Context) error
	IDs() []string
}

// Deps are the collaborators behind the routes. Progress may be nil to
// disable the websocket stream; Ready may be nil when there is nothing to
// probe.
type Deps struct {
	Creator    BatchCreator
	Controller BatchController
	Repo       Repository
	Uploader   Uploader
	Searcher   Searcher
	Catalog    Catalog
	Progress   http.Handler
	Ready      func(context.Context) error
}

// Server wires HTTP handlers to the batch pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const readyTimeout = 3 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// The websocket stream outlives any request timeout.
		if deps.Progress != nil {
			r.Method(http.MethodGet, "/progress/ws", deps.Progress)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			if cfg.Server.MaxUploadBytes > 0 {
				r.Use(bodyLimitMiddleware(cfg.Server.MaxUploadBytes))
			}

			r.Post("/sources/refresh", s.refreshSources)
			r.Get("/sources", s.listSources)
			r.Post("/sources/{source}/batches", s.uploadBatch)
			r.Post("/sources/{source}/batches/url", s.downloadBatch)

			r.Get("/batches", s.listBatches)
			r.Route("/batches/{source}/{ts}", func(r chi.Router) {
				r.Get("/", s.getBatch)
				r.Post("/approve", s.approveBatch)
				r.Post("/abandon", s.abandonBatch)
			})

			r.Get("/images/{source}/{file}/similar", s.similarImages)
			r.Post("/uploads", s.uploadImage)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeIngestError maps a pipeline error onto a status code and a localized
// message.
func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ingest.KindOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		status = http.StatusNotFound
	case kind == ingest.KindUnknownSource:
		status = http.StatusNotFound
	case kind == ingest.KindInvalidTransition:
		status = http.StatusConflict
	case kind == ingest.KindUnsupportedContent, kind == ingest.KindErrorReadingData:
		status = http.StatusBadRequest
	case kind == ingest.KindMalformedImage, kind == ingest.KindEmptyImage, kind == ingest.KindTooSmall:
		status = http.StatusUnprocessableEntity
	case kind == ingest.KindDownloadError, kind == ingest.KindSimilarityFailure:
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	}
	body := map[string]string{"error": "internal error"}
	if kind != "" {
		lang := requestLang(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		body = map[string]string{"error": string(kind), "message": message(lang, kind)}
	} else if status == http.StatusNotFound {
		body = map[string]string{"error": "not found"}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
