package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"github.com/govgate/govgate/services"
	"github.com/govgate/govgate/utils"
	"go.uber.org/zap"
)

// DecisionHandler serves read access to the decision audit trail
type DecisionHandler struct {
	decisions repositories.DecisionRepository
	logger    *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(decisions repositories.DecisionRepository, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		logger:    logger,
	}
}

// HandleList handles GET /v1/decisions with optional filters.
// Filters are mutually exclusive and checked in order: request_id, scope,
// action, from/to date range. With no filter the last 24 hours are returned.
func (h *DecisionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, offset := paginationParams(r)

	var (
		records []*models.DecisionRecord
		err     error
	)

	switch {
	case q.Get("request_id") != "":
		records, err = h.decisions.GetByRequestID(ctx, q.Get("request_id"))

	case q.Get("scope") != "":
		scope := models.ScopePath(q.Get("scope"))
		if vErr := scope.Validate(); vErr != nil {
			_ = utils.WriteBadRequest(w, "Invalid scope filter", map[string]interface{}{"scope": q.Get("scope")})
			return
		}
		records, err = h.decisions.GetByScope(ctx, scope, limit, offset)

	case q.Get("action") != "":
		records, err = h.decisions.GetByAction(ctx, models.DecisionAction(q.Get("action")), limit, offset)

	case q.Get("from") != "" || q.Get("to") != "":
		start, end, pErr := parseDateRange(q.Get("from"), q.Get("to"))
		if pErr != nil {
			_ = utils.WriteBadRequest(w, "Invalid date range, expected RFC 3339 timestamps", nil)
			return
		}
		records, err = h.decisions.GetByDateRange(ctx, start, end, limit, offset)

	default:
		end := time.Now()
		records, err = h.decisions.GetByDateRange(ctx, end.Add(-24*time.Hour), end, limit, offset)
	}

	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to query decision records", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// HandleGet handles GET /v1/decisions/{id}
func (h *DecisionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid decision ID", map[string]interface{}{"id": raw})
		return
	}

	record, err := h.decisions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = utils.WriteNotFound(w, "Decision record not found")
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to load decision record", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}

// parseDateRange parses RFC 3339 from/to filters, defaulting an absent bound
func parseDateRange(from, to string) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Now()

	if from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}
	if to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed
	}
	return start, end, nil
}
