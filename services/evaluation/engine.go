package evaluation

import (
	"errors"
	"fmt"

	"github.com/govgate/govgate/models"
	"go.uber.org/zap"
)

// Options configures engine behavior
type Options struct {
	// StrictParameters turns unresolvable assignments into implicit
	// denials instead of recorded-and-skipped configuration errors.
	// Fail-closed for governance use.
	StrictParameters bool

	// CollectAllDenials keeps evaluating after the first denial and
	// reports every matching Deny assignment. The default is the
	// conservative first-denial-wins contract.
	CollectAllDenials bool
}

// Engine evaluates a resource description against resolved policy
// assignments. It holds no mutable state: every call is an independent,
// thread-safe unit of work, and identical inputs produce identical results.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a new Engine instance
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		opts:   opts,
		logger: logger,
	}
}

// Evaluate checks one resource against the supplied assignments, in the
// caller-supplied order. Assignments whose scope does not cover the
// resource are silently excluded. Per-assignment configuration problems are
// recorded and never abort sibling assignments; only invalid call input
// rejects the whole evaluation.
func (e *Engine) Evaluate(resource *models.Resource, resolved []models.ResolvedAssignment) (*models.EvaluationResult, error) {
	if resource == nil {
		return nil, fmt.Errorf("resource is required")
	}
	if err := resource.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}

	result := &models.EvaluationResult{
		Allowed:       true,
		Denials:       make([]models.Denial, 0),
		AuditFindings: make([]models.AuditFinding, 0),
	}

	for _, ra := range resolved {
		assignment := ra.Assignment
		if assignment == nil {
			return nil, fmt.Errorf("resolved assignment without assignment")
		}
		if !assignment.Enabled {
			continue
		}

		// Scope filtering is normal non-applicability, not an error
		if !assignment.Scope.Covers(resource.ScopePath) {
			e.logger.Debug("assignment scope does not cover resource",
				zap.String("assignment_id", assignment.ID.String()),
				zap.String("assignment_scope", assignment.Scope.String()),
				zap.String("resource_scope", resource.ScopePath.String()))
			continue
		}

		definition := ra.Definition
		if definition == nil {
			stop := e.recordConfigError(result, assignment, assignment.PolicyID,
				models.ConfigErrorMissingDefinition,
				fmt.Sprintf("no definition with id %q", assignment.PolicyID))
			if stop {
				break
			}
			continue
		}

		if definition.Mode == models.ModeIndexed && !resource.Taggable() {
			continue
		}

		switch definition.Rule.Effect {
		case models.EffectDisabled:
			continue
		case models.EffectAppend:
			e.recordConfigError(result, assignment, definition.ID,
				models.ConfigErrorUnsupportedEffect,
				"effect Append requires resource-mutation semantics")
			continue
		}

		closed, err := substituteRule(definition, assignment.ParameterValues)
		if err != nil {
			var unresolved *UnresolvedParameterError
			kind := models.ConfigErrorMalformedPredicate
			if errors.As(err, &unresolved) {
				kind = models.ConfigErrorUnresolvedParameter
			}
			stop := e.recordConfigError(result, assignment, definition.ID, kind, err.Error())
			if stop {
				break
			}
			continue
		}

		matched, err := closed.Match(resource)
		if err != nil {
			e.recordConfigError(result, assignment, definition.ID,
				models.ConfigErrorMalformedPredicate, err.Error())
			continue
		}
		if !matched {
			continue
		}

		switch definition.Rule.Effect {
		case models.EffectDeny:
			result.Denials = append(result.Denials, models.Denial{
				AssignmentID: assignment.ID,
				PolicyID:     definition.ID,
				Reason:       denialReason(definition, assignment),
			})
			result.Allowed = false
			if !e.opts.CollectAllDenials {
				return result, nil
			}

		case models.EffectAudit:
			result.AuditFindings = append(result.AuditFindings, models.AuditFinding{
				AssignmentID: assignment.ID,
				PolicyID:     definition.ID,
				Reason:       auditReason(definition, assignment),
			})
		}
	}

	result.Allowed = len(result.Denials) == 0
	return result, nil
}

// recordConfigError records a per-assignment configuration error. In strict
// mode an assignment that cannot be evaluated because of unresolved
// parameters or a missing definition is an implicit denial; the returned
// bool tells the caller whether that denial short-circuits.
func (e *Engine) recordConfigError(result *models.EvaluationResult, assignment *models.PolicyAssignment, policyID string, kind models.ConfigErrorKind, detail string) bool {
	result.ConfigErrors = append(result.ConfigErrors, models.ConfigurationError{
		AssignmentID: assignment.ID,
		PolicyID:     policyID,
		Kind:         kind,
		Detail:       detail,
	})

	e.logger.Warn("assignment excluded from evaluation",
		zap.String("assignment_id", assignment.ID.String()),
		zap.String("policy_id", policyID),
		zap.String("kind", string(kind)),
		zap.String("detail", detail))

	strictDeny := e.opts.StrictParameters &&
		(kind == models.ConfigErrorUnresolvedParameter || kind == models.ConfigErrorMissingDefinition)
	if !strictDeny {
		return false
	}

	result.Denials = append(result.Denials, models.Denial{
		AssignmentID: assignment.ID,
		PolicyID:     policyID,
		Reason:       fmt.Sprintf("assignment %q cannot be evaluated (%s): %s", assignment.ID, kind, detail),
	})
	result.Allowed = false
	return !e.opts.CollectAllDenials
}

func denialReason(def *models.PolicyDefinition, a *models.PolicyAssignment) string {
	return fmt.Sprintf("denied by policy %q (assignment %q)", def.ID, a.ID)
}

func auditReason(def *models.PolicyDefinition, a *models.PolicyAssignment) string {
	return fmt.Sprintf("flagged by audit policy %q (assignment %q)", def.ID, a.ID)
}
