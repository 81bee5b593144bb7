package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/govgate/govgate/middleware"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/utils"
	"go.uber.org/zap"
)

// CreateDefinitionRequest represents a request to create a policy definition
type CreateDefinitionRequest struct {
	ID          string                          `json:"id" validate:"required"`
	DisplayName string                          `json:"display_name" validate:"required"`
	Description string                          `json:"description,omitempty"`
	Mode        models.Mode                     `json:"mode" validate:"required"`
	Rule        models.PolicyRule               `json:"rule" validate:"required"`
	Parameters  map[string]models.ParameterSpec `json:"parameters,omitempty"`
}

// UpdateDefinitionRequest represents a request to update a policy definition
type UpdateDefinitionRequest struct {
	DisplayName *string                         `json:"display_name,omitempty"`
	Description *string                         `json:"description,omitempty"`
	Mode        *models.Mode                    `json:"mode,omitempty"`
	Rule        *models.PolicyRule              `json:"rule,omitempty"`
	Parameters  map[string]models.ParameterSpec `json:"parameters,omitempty"`
}

// DefinitionManager defines the interface for definition operations
type DefinitionManager interface {
	CreateDefinition(ctx context.Context, def *models.PolicyDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.PolicyDefinition, error)
	ListDefinitions(ctx context.Context, limit, offset int) ([]*models.PolicyDefinition, error)
	UpdateDefinition(ctx context.Context, def *models.PolicyDefinition) error
	DeleteDefinition(ctx context.Context, id string) error
}

// DefinitionRecorder records definition authoring actions
type DefinitionRecorder interface {
	LogDefinitionChange(action models.DecisionAction, def *models.PolicyDefinition, requestID string) error
}

// DefinitionHandler handles policy definition HTTP requests
type DefinitionHandler struct {
	manager  DefinitionManager
	recorder DefinitionRecorder
	logger   *zap.Logger
}

// NewDefinitionHandler creates a new DefinitionHandler
func NewDefinitionHandler(manager DefinitionManager, recorder DefinitionRecorder, logger *zap.Logger) *DefinitionHandler {
	return &DefinitionHandler{
		manager:  manager,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleList handles GET /v1/definitions
func (h *DefinitionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := paginationParams(r)

	defs, err := h.manager.ListDefinitions(ctx, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, defs)
}

// HandleGet handles GET /v1/definitions/{id}
func (h *DefinitionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	def, err := h.manager.GetDefinition(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, def)
}

// HandleCreate handles POST /v1/definitions
func (h *DefinitionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	def := models.NewPolicyDefinition(req.ID, req.DisplayName, req.Mode, req.Rule)
	def.Description = req.Description
	def.Parameters = req.Parameters

	if err := h.manager.CreateDefinition(ctx, def); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionDefinitionCreated, def, requestID)

	h.logger.Info("definition created",
		zap.String("request_id", requestID),
		zap.String("id", def.ID))

	_ = utils.WriteCreated(w, def)
}

// HandleUpdate handles PUT /v1/definitions/{id}
func (h *DefinitionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	id := chi.URLParam(r, "id")

	var req UpdateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	def, err := h.manager.GetDefinition(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if req.DisplayName != nil {
		def.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		def.Description = *req.Description
	}
	if req.Mode != nil {
		def.Mode = *req.Mode
	}
	if req.Rule != nil {
		def.Rule = *req.Rule
	}
	if req.Parameters != nil {
		def.Parameters = req.Parameters
	}

	if err := h.manager.UpdateDefinition(ctx, def); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionDefinitionUpdated, def, requestID)

	h.logger.Info("definition updated",
		zap.String("request_id", requestID),
		zap.String("id", def.ID))

	_ = utils.WriteOK(w, def)
}

// HandleDelete handles DELETE /v1/definitions/{id}
func (h *DefinitionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	id := chi.URLParam(r, "id")

	if err := h.manager.DeleteDefinition(ctx, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionDefinitionDeleted, &models.PolicyDefinition{ID: id}, requestID)

	h.logger.Info("definition deleted",
		zap.String("request_id", requestID),
		zap.String("id", id))

	utils.WriteNoContent(w)
}

func (h *DefinitionHandler) recordChange(action models.DecisionAction, def *models.PolicyDefinition, requestID string) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.LogDefinitionChange(action, def, requestID); err != nil {
		h.logger.Warn("failed to record definition change",
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// paginationParams extracts limit/offset query params with defaults
func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
