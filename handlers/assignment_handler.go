package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govgate/govgate/middleware"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/utils"
	"go.uber.org/zap"
)

// CreateAssignmentRequest represents a request to create a policy assignment
type CreateAssignmentRequest struct {
	PolicyID        string                           `json:"policy_id" validate:"required"`
	DisplayName     string                           `json:"display_name,omitempty"`
	Scope           models.ScopePath                 `json:"scope" validate:"required"`
	ParameterValues map[string]models.ParameterValue `json:"parameter_values,omitempty"`
	Enabled         *bool                            `json:"enabled,omitempty"`
}

// UpdateAssignmentRequest represents a request to update a policy assignment
type UpdateAssignmentRequest struct {
	DisplayName     *string                          `json:"display_name,omitempty"`
	Scope           *models.ScopePath                `json:"scope,omitempty"`
	ParameterValues map[string]models.ParameterValue `json:"parameter_values,omitempty"`
	Enabled         *bool                            `json:"enabled,omitempty"`
}

// AssignmentManager defines the interface for assignment operations
type AssignmentManager interface {
	CreateAssignment(ctx context.Context, assignment *models.PolicyAssignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (*models.PolicyAssignment, error)
	ListAssignments(ctx context.Context, limit, offset int) ([]*models.PolicyAssignment, error)
	UpdateAssignment(ctx context.Context, assignment *models.PolicyAssignment) error
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
}

// AssignmentRecorder records assignment authoring actions
type AssignmentRecorder interface {
	LogAssignmentChange(action models.DecisionAction, assignment *models.PolicyAssignment, requestID string) error
}

// AssignmentHandler handles policy assignment HTTP requests
type AssignmentHandler struct {
	manager  AssignmentManager
	recorder AssignmentRecorder
	logger   *zap.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler
func NewAssignmentHandler(manager AssignmentManager, recorder AssignmentRecorder, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		manager:  manager,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleList handles GET /v1/assignments
func (h *AssignmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := paginationParams(r)

	assignments, err := h.manager.ListAssignments(ctx, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, assignments)
}

// HandleGet handles GET /v1/assignments/{id}
func (h *AssignmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	assignment, err := h.manager.GetAssignment(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, assignment)
}

// HandleCreate handles POST /v1/assignments
func (h *AssignmentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	assignment := models.NewPolicyAssignment(req.PolicyID, req.Scope)
	assignment.DisplayName = req.DisplayName
	assignment.ParameterValues = req.ParameterValues
	if req.Enabled != nil {
		assignment.Enabled = *req.Enabled
	}

	if err := h.manager.CreateAssignment(ctx, assignment); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionAssignmentCreated, assignment, requestID)

	h.logger.Info("assignment created",
		zap.String("request_id", requestID),
		zap.String("id", assignment.ID.String()),
		zap.String("policy_id", assignment.PolicyID),
		zap.String("scope", string(assignment.Scope)))

	_ = utils.WriteCreated(w, assignment)
}

// HandleUpdate handles PUT /v1/assignments/{id}
func (h *AssignmentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req UpdateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	assignment, err := h.manager.GetAssignment(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if req.DisplayName != nil {
		assignment.DisplayName = *req.DisplayName
	}
	if req.Scope != nil {
		assignment.Scope = *req.Scope
	}
	if req.ParameterValues != nil {
		assignment.ParameterValues = req.ParameterValues
	}
	if req.Enabled != nil {
		assignment.Enabled = *req.Enabled
	}

	if err := h.manager.UpdateAssignment(ctx, assignment); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionAssignmentUpdated, assignment, requestID)

	h.logger.Info("assignment updated",
		zap.String("request_id", requestID),
		zap.String("id", assignment.ID.String()))

	_ = utils.WriteOK(w, assignment)
}

// HandleDelete handles DELETE /v1/assignments/{id}
func (h *AssignmentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	// Fetch before delete so the audit record carries the scope and policy id
	assignment, err := h.manager.GetAssignment(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := h.manager.DeleteAssignment(ctx, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordChange(models.DecisionActionAssignmentDeleted, assignment, requestID)

	h.logger.Info("assignment deleted",
		zap.String("request_id", requestID),
		zap.String("id", id.String()))

	utils.WriteNoContent(w)
}

func (h *AssignmentHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid assignment ID", map[string]interface{}{"id": raw})
		return uuid.Nil, false
	}
	return id, true
}

func (h *AssignmentHandler) recordChange(action models.DecisionAction, assignment *models.PolicyAssignment, requestID string) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.LogAssignmentChange(action, assignment, requestID); err != nil {
		h.logger.Warn("failed to record assignment change",
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
