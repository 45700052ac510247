package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Submitter is implemented by the publisher.
type Submitter interface {
	Submit(ctx context.Context, req *ingestion.Request) (*ingestion.Response, error)
	Status(ctx context.Context, id string) (*ingestion.Job, error)
}

type Handler struct {
	submitter Submitter
	logger    *slog.Logger
}

func New(s Submitter) *Handler {
	return &Handler{
		submitter: s,
		logger:    slog.Default().With("component", "ingest-handler"),
	}
}

// Submit handles POST /api/v1/ingest.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ingestion.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	resp, err := h.submitter.Submit(ctx, &req)
	if err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		logger.FromContext(ctx).Error("ingest submit failed", "op", req.Op, "index", req.IndexName, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Status handles GET /api/v1/ingest/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.submitter.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, apperrors.ErrJobNotFound) {
			logger.FromContext(r.Context()).Error("ingest status failed", "error", err)
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
