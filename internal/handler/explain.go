// Package handler maps HTTP requests onto the explanation service and
// translates pipeline errors into the API's error envelope.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/model"
)

// ExplainHandler serves the explanation endpoints.
type ExplainHandler struct {
	svc    *explain.Service
	stats  func() cache.Stats
	logger *slog.Logger
}

// NewExplainHandler creates the handler. stats may be nil when the cache
// backend doesn't expose counters.
func NewExplainHandler(svc *explain.Service, stats func() cache.Stats, logger *slog.Logger) *ExplainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExplainHandler{svc: svc, stats: stats, logger: logger}
}

// Explain handles POST /api/v1/explain.
func (h *ExplainHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var req model.ExplainRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}

	result, err := h.svc.Explain(r.Context(), req)
	if err != nil {
		h.writeExplainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ExplainHandler) writeExplainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *explain.ValidationError
	var berr *explain.BackendError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error(), map[string]interface{}{
			"field": verr.Field,
		})
	case errors.Is(err, explain.ErrBudgetExceeded):
		writeError(w, http.StatusTooManyRequests, "Daily token budget exceeded. Try again tomorrow.")
	case errors.As(err, &berr):
		h.logger.Error("backend failure", "backend", berr.Backend, "error", berr.Err)
		writeError(w, http.StatusBadGateway, "Explanation backend unavailable")
	default:
		h.logger.Error("explain failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// Fingerprint handles GET /api/v1/fingerprint?sql=...
func (h *ExplainHandler) Fingerprint(w http.ResponseWriter, r *http.Request) {
	sql := queryString(r, "sql")
	fp, err := h.svc.Fingerprint(sql)
	if err != nil {
		var verr *explain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *ExplainHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "Cache statistics not available")
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}
