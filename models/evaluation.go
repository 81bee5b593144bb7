package models

import "github.com/google/uuid"

// Denial records one assignment whose Deny-effect rule matched the resource
type Denial struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	PolicyID     string    `json:"policy_id"`
	Reason       string    `json:"reason"`
}

// AuditFinding records one assignment whose Audit-effect rule matched the
// resource. Findings never block the request.
type AuditFinding struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	PolicyID     string    `json:"policy_id"`
	Reason       string    `json:"reason"`
}

// ConfigErrorKind classifies why an assignment could not be evaluated
type ConfigErrorKind string

const (
	// ConfigErrorUnresolvedParameter marks a rule placeholder with no
	// assignment-supplied value and no definition default
	ConfigErrorUnresolvedParameter ConfigErrorKind = "unresolved_parameter"

	// ConfigErrorMalformedPredicate marks a rule referencing an unknown
	// field path or carrying an ill-formed operator combination
	ConfigErrorMalformedPredicate ConfigErrorKind = "malformed_predicate"

	// ConfigErrorMissingDefinition marks an assignment whose policy_id
	// resolves to no stored definition
	ConfigErrorMissingDefinition ConfigErrorKind = "missing_definition"

	// ConfigErrorUnsupportedEffect marks an effect the engine cannot
	// apply (Append requires resource-mutation semantics)
	ConfigErrorUnsupportedEffect ConfigErrorKind = "unsupported_effect"
)

// ConfigurationError records an assignment that was excluded from
// evaluation because of its own misconfiguration. Sibling assignments are
// unaffected.
type ConfigurationError struct {
	AssignmentID uuid.UUID       `json:"assignment_id"`
	PolicyID     string          `json:"policy_id"`
	Kind         ConfigErrorKind `json:"kind"`
	Detail       string          `json:"detail"`
}

// EvaluationResult is the decision for one resource against all applicable
// assignments. Allowed is false iff Denials is non-empty. Sequences preserve
// evaluation order, so identical inputs produce identical results.
type EvaluationResult struct {
	Allowed       bool                 `json:"allowed"`
	Denials       []Denial             `json:"denials"`
	AuditFindings []AuditFinding       `json:"audit_findings"`
	ConfigErrors  []ConfigurationError `json:"config_errors,omitempty"`
}

// Reasons flattens the result into human-readable strings for the webhook
// response body.
func (r *EvaluationResult) Reasons() []string {
	reasons := make([]string, 0, len(r.Denials)+len(r.AuditFindings))
	for _, d := range r.Denials {
		reasons = append(reasons, d.Reason)
	}
	for _, f := range r.AuditFindings {
		reasons = append(reasons, f.Reason)
	}
	return reasons
}
