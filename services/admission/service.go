package admission

import (
	"context"

	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/services"
	"github.com/govgate/govgate/services/evaluation"
	"go.uber.org/zap"
)

// RequestMeta carries per-request metadata for the decision trail
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// AssignmentSource provides the resolved assignment set covering a scope.
// Implemented by the policy service.
type AssignmentSource interface {
	GetResolvedForScope(ctx context.Context, scope models.ScopePath) ([]*models.ResolvedAssignment, error)
}

// DecisionSink receives the decision records produced by an admission
// review. Implemented by the audit service.
type DecisionSink interface {
	LogAdmissionAllowed(resource *models.Resource, requestID, ipAddress, userAgent string) error
	LogAdmissionDenied(resource *models.Resource, denial models.Denial, requestID, ipAddress, userAgent string) error
	LogAuditFinding(resource *models.Resource, finding models.AuditFinding, requestID, ipAddress, userAgent string) error
	LogConfigurationError(resource *models.Resource, cfgErr models.ConfigurationError, requestID, ipAddress, userAgent string) error
}

// Options configures admission behavior
type Options struct {
	// FailOpen admits resources when the assignment set cannot be
	// fetched. The default is fail-closed: an infrastructure failure
	// blocks admission.
	FailOpen bool
}

// AdmissionService is the gate: it gathers the covering assignments for a
// resource's scope, runs the evaluation engine and emits the decision trail.
type AdmissionService struct {
	assignments AssignmentSource
	engine      *evaluation.Engine
	sink        DecisionSink
	opts        Options
	logger      *zap.Logger
}

// NewAdmissionService creates a new AdmissionService instance
func NewAdmissionService(
	assignments AssignmentSource,
	engine *evaluation.Engine,
	sink DecisionSink,
	opts Options,
	logger *zap.Logger,
) *AdmissionService {
	return &AdmissionService{
		assignments: assignments,
		engine:      engine,
		sink:        sink,
		opts:        opts,
		logger:      logger,
	}
}

// Review evaluates a resource against every enabled assignment covering its
// scope and records the outcome. The returned result is complete whether or
// not the resource was admitted; recording failures never affect the
// decision.
func (s *AdmissionService) Review(ctx context.Context, resource *models.Resource, meta RequestMeta) (*models.EvaluationResult, error) {
	if resource == nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "resource is required", nil)
	}
	if err := resource.Validate(); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid resource", err)
	}

	resolved, err := s.assignments.GetResolvedForScope(ctx, resource.ScopePath)
	if err != nil {
		if s.opts.FailOpen {
			s.logger.Error("failed to gather assignments, admitting fail-open",
				zap.Error(err),
				zap.String("scope", string(resource.ScopePath)),
				zap.String("resource_type", resource.Type))
			result := &models.EvaluationResult{
				Allowed:       true,
				Denials:       make([]models.Denial, 0),
				AuditFindings: make([]models.AuditFinding, 0),
			}
			s.record(resource, result, meta)
			return result, nil
		}
		return nil, services.WrapInternal("failed to gather covering assignments", err)
	}

	// The engine consumes values; the fetch path hands out pointers.
	units := make([]models.ResolvedAssignment, 0, len(resolved))
	for _, ra := range resolved {
		units = append(units, *ra)
	}

	result, err := s.engine.Evaluate(resource, units)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "evaluation rejected", err)
	}

	s.record(resource, result, meta)

	s.logger.Info("admission reviewed",
		zap.String("resource_type", resource.Type),
		zap.String("scope", string(resource.ScopePath)),
		zap.Bool("allowed", result.Allowed),
		zap.Int("denials", len(result.Denials)),
		zap.Int("audit_findings", len(result.AuditFindings)),
		zap.Int("config_errors", len(result.ConfigErrors)))

	return result, nil
}

// record emits the decision trail for a completed review. Failures are
// logged and swallowed: the admission decision stands regardless.
func (s *AdmissionService) record(resource *models.Resource, result *models.EvaluationResult, meta RequestMeta) {
	if s.sink == nil {
		return
	}

	for _, cfgErr := range result.ConfigErrors {
		if err := s.sink.LogConfigurationError(resource, cfgErr, meta.RequestID, meta.IPAddress, meta.UserAgent); err != nil {
			s.logger.Warn("failed to record configuration error", zap.Error(err))
		}
	}
	for _, finding := range result.AuditFindings {
		if err := s.sink.LogAuditFinding(resource, finding, meta.RequestID, meta.IPAddress, meta.UserAgent); err != nil {
			s.logger.Warn("failed to record audit finding", zap.Error(err))
		}
	}

	if result.Allowed {
		if err := s.sink.LogAdmissionAllowed(resource, meta.RequestID, meta.IPAddress, meta.UserAgent); err != nil {
			s.logger.Warn("failed to record admission", zap.Error(err))
		}
		return
	}

	for _, denial := range result.Denials {
		if err := s.sink.LogAdmissionDenied(resource, denial, meta.RequestID, meta.IPAddress, meta.UserAgent); err != nil {
			s.logger.Warn("failed to record denial", zap.Error(err))
		}
	}
}
