package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

type issueDTO struct {
	Kind    ingest.ErrorKind `json:"kind"`
	Detail  string           `json:"detail,omitempty"`
	Message string           `json:"message"`
}

type resultDTO struct {
	ID       string           `json:"id"`
	State    ingest.ItemState `json:"state"`
	FileName string           `json:"fileName,omitempty"`
	Model    string           `json:"model,omitempty"`
	Result   ingest.Outcome   `json:"result,omitempty"`
	Error    *issueDTO        `json:"error,omitempty"`
	Warnings []issueDTO       `json:"warnings"`
}

type batchDTO struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	Kind         string        `json:"kind"`
	FileName     string        `json:"fileName"`
	State        ingest.State  `json:"state"`
	StateName    string        `json:"stateName"`
	Waiting      bool          `json:"waiting"`
	FailedState  ingest.State  `json:"failedState,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Created      time.Time     `json:"created"`
	Modified     time.Time     `json:"modified"`
	Counts       ingest.Counts `json:"counts"`
	Results      []resultDTO   `json:"results,omitempty"`
}

func toIssueDTO(lang string, issue ingest.Issue) issueDTO {
	return issueDTO{Kind: issue.Kind, Detail: issue.Detail, Message: message(lang, issue.Kind)}
}

func (s *Server) toBatchDTO(lang string, b ingest.ImportBatch, withResults bool) batchDTO {
	dto := batchDTO{
		ID:          b.ID,
		Source:      b.Source,
		Kind:        string(b.Kind),
		FileName:    b.FileName,
		State:       b.State,
		StateName:   stateName(lang, b.State),
		Waiting:     s.deps.Controller != nil && s.deps.Controller.Waiting(b),
		FailedState: b.FailedState,
		Error:       b.Error,
		Created:     b.Created,
		Modified:    b.Modified,
		Counts:      b.Counts(),
	}
	if kind, _, _ := strings.Cut(b.Error, ":"); knownKind(ingest.ErrorKind(kind)) {
		dto.ErrorMessage = message(lang, ingest.ErrorKind(kind))
	}
	if !withResults {
		return dto
	}
	dto.Results = make([]resultDTO, 0, len(b.Results))
	for _, res := range b.Results {
		item := resultDTO{
			ID:       res.ID,
			State:    res.State,
			FileName: res.FileName,
			Model:    res.Model,
			Result:   res.Result,
			Warnings: make([]issueDTO, 0, len(res.Warnings)),
		}
		if res.Error != nil {
			e := toIssueDTO(lang, *res.Error)
			item.Error = &e
		}
		for _, w := range res.Warnings {
			item.Warnings = append(item.Warnings, toIssueDTO(lang, w))
		}
		dto.Results = append(dto.Results, item)
	}
	return dto
}

func lang(r *http.Request) string {
	return requestLang(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
}

func batchID(r *http.Request) string {
	return ingest.JoinID(chi.URLParam(r, "source"), chi.URLParam(r, "ts"))
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.deps.Catalog.IDs()})
}

func (s *Server) refreshSources(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Refresh(r.Context()); err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	ids := s.deps.Catalog.IDs()
	s.logger.Info("sources refreshed", zap.Int("count", len(ids)))
	writeJSON(w, http.StatusOK, map[string]any{"sources": ids})
}

// uploadBatch stores the raw request body as a new batch. kind defaults to
// metadata and name to a per-kind default.
func (s *Server) uploadBatch(w http.ResponseWriter, r *http.Request) {
	kind := ingest.BatchKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = ingest.KindMetadata
	}
	name := r.URL.Query().Get("name")
	b, err := s.deps.Creator.Create(r.Context(), kind, chi.URLParam(r, "source"), name, r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toBatchDTO(lang(r), b, false))
}

type downloadRequest struct {
	Kind ingest.BatchKind `json:"kind"`
	URL  string           `json:"url"`
}

func (s *Server) downloadBatch(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.Kind == "" {
		req.Kind = ingest.KindMetadata
	}
	b, err := s.deps.Creator.CreateFromURL(r.Context(), chi.URLParam(r, "source"), req.Kind, req.URL)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toBatchDTO(lang(r), b, false))
}

// listBatches handles GET /v1/batches?state=&source=. state may repeat or be
// comma separated.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	var filter ingest.BatchFilter
	filter.Source = strings.TrimSpace(r.URL.Query().Get("source"))
	for _, raw := range r.URL.Query()["state"] {
		for _, part := range strings.Split(raw, ",") {
			st := ingest.State(strings.TrimSpace(part))
			if st == "" {
				continue
			}
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "unknown state "+string(st))
				return
			}
			filter.States = append(filter.States, st)
		}
	}
	batches, err := s.deps.Repo.ListBatches(r.Context(), filter)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	l := lang(r)
	out := make([]batchDTO, 0, len(batches))
	for _, b := range batches {
		out = append(out, s.toBatchDTO(l, b, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Repo.GetBatch(r.Context(), batchID(r))
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toBatchDTO(lang(r), b, true))
}

func (s *Server) approveBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Controller.Approve(r.Context(), batchID(r))
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toBatchDTO(lang(r), b, false))
}

func (s *Server) abandonBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Controller.Abandon(r.Context(), batchID(r))
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toBatchDTO(lang(r), b, false))
}

// similarImages returns the persisted neighbours of an image.
func (s *Server) similarImages(w http.ResponseWriter, r *http.Request) {
	id := ingest.JoinID(chi.URLParam(r, "source"), chi.URLParam(r, "file"))
	img, err := s.deps.Repo.GetImage(r.Context(), id)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	similar := img.Similar
	if similar == nil {
		similar = []ingest.SimilarityEdge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": img.ID, "similar": similar})
}

// uploadImage runs a live similarity query for an image that is not part of
// any batch. Nothing is persisted and the transcoded file is removed after
// the query.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	up, err := s.deps.Uploader.PrepareUpload(r.Context(), r.Body)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	defer func() {
		if err := s.deps.Uploader.Release(r.Context(), up); err != nil {
			s.logger.Warn("release upload failed", zap.String("path", up.Path), zap.Error(err))
		}
	}()
	matches, err := s.deps.Searcher.QueryByFile(r.Context(), up.Path)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	if matches == nil {
		matches = []ingest.SimilarityEdge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":    up.Hash,
		"width":   up.Width,
		"height":  up.Height,
		"similar": matches,
	})
}
