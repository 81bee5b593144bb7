package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/govgate/govgate/middleware"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/services/admission"
	"github.com/govgate/govgate/utils"
	"go.uber.org/zap"
)

// EvaluateRequest represents an admission review request
type EvaluateRequest struct {
	Resource *models.Resource `json:"resource" validate:"required"`
}

// EvaluateResponse represents an admission review response
type EvaluateResponse struct {
	Allowed       bool                        `json:"allowed"`
	Reasons       []string                    `json:"reasons"`
	Denials       []models.Denial             `json:"denials"`
	AuditFindings []models.AuditFinding       `json:"audit_findings"`
	ConfigErrors  []models.ConfigurationError `json:"config_errors,omitempty"`
}

// AdmissionReviewer defines the interface for admission evaluation
type AdmissionReviewer interface {
	Review(ctx context.Context, resource *models.Resource, meta admission.RequestMeta) (*models.EvaluationResult, error)
}

// AdmissionHandler handles admission review HTTP requests
type AdmissionHandler struct {
	reviewer AdmissionReviewer
	logger   *zap.Logger
}

// NewAdmissionHandler creates a new AdmissionHandler
func NewAdmissionHandler(reviewer AdmissionReviewer, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		reviewer: reviewer,
		logger:   logger,
	}
}

// HandleEvaluate handles POST /v1/admission/evaluate
func (h *AdmissionHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if req.Resource == nil {
		_ = utils.WriteBadRequest(w, "resource is required", nil)
		return
	}

	meta := admission.RequestMeta{
		RequestID: requestID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	result, err := h.reviewer.Review(ctx, req.Resource, meta)
	if err != nil {
		h.logger.Warn("admission review failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	response := EvaluateResponse{
		Allowed:       result.Allowed,
		Reasons:       result.Reasons(),
		Denials:       result.Denials,
		AuditFindings: result.AuditFindings,
		ConfigErrors:  result.ConfigErrors,
	}

	h.logger.Info("admission evaluated",
		zap.String("request_id", requestID),
		zap.String("resource_type", req.Resource.Type),
		zap.String("scope", string(req.Resource.ScopePath)),
		zap.Bool("allowed", result.Allowed))

	_ = utils.WriteOK(w, response)
}
