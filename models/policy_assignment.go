package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PolicyAssignment binds a policy definition to a scope with concrete
// parameter values. PolicyID is a weak reference: the assignment does not
// own the definition, and resolution must fail explicitly when the ID is
// absent from the definition store.
type PolicyAssignment struct {
	ID              uuid.UUID                 `json:"id" db:"id"`
	PolicyID        string                    `json:"policy_id" db:"policy_id"`
	DisplayName     string                    `json:"display_name" db:"display_name"`
	Scope           ScopePath                 `json:"scope" db:"scope"`
	ParameterValues map[string]ParameterValue `json:"parameter_values,omitempty" db:"parameter_values"`
	Enabled         bool                      `json:"enabled" db:"enabled"`
	CreatedAt       time.Time                 `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the PolicyAssignment model
func (PolicyAssignment) TableName() string {
	return "policy_assignments"
}

// NewPolicyAssignment creates a new PolicyAssignment instance
func NewPolicyAssignment(policyID string, scope ScopePath) *PolicyAssignment {
	now := time.Now()
	return &PolicyAssignment{
		ID:        uuid.New(),
		PolicyID:  policyID,
		Scope:     scope,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the assignment's own invariants (definition resolution is
// a separate, store-backed step).
func (a *PolicyAssignment) Validate() error {
	if a.PolicyID == "" {
		return fmt.Errorf("assignment policy_id is required")
	}
	if err := a.Scope.Validate(); err != nil {
		return fmt.Errorf("assignment scope: %w", err)
	}
	return nil
}

// ValidateAgainst checks that the assignment satisfies a definition's
// parameter contract: every declared parameter without a default must be
// supplied, no undeclared parameters may be supplied, and supplied values
// must stay within the declared allowed set when one is present.
func (a *PolicyAssignment) ValidateAgainst(def *PolicyDefinition) error {
	for name, spec := range def.Parameters {
		if spec.DefaultValue != nil {
			continue
		}
		if _, ok := a.ParameterValues[name]; !ok {
			return fmt.Errorf("required parameter %q has no value and no default", name)
		}
	}
	for name, value := range a.ParameterValues {
		spec, declared := def.Parameters[name]
		if !declared {
			return fmt.Errorf("parameter %q is not declared by definition %q", name, def.ID)
		}
		if len(spec.AllowedValues) == 0 {
			continue
		}
		if value.String != nil && !containsString(spec.AllowedValues, *value.String) {
			return fmt.Errorf("parameter %q value %q is not in the allowed values for definition %q", name, *value.String, def.ID)
		}
		for _, element := range value.List {
			if !containsString(spec.AllowedValues, element) {
				return fmt.Errorf("parameter %q element %q is not in the allowed values for definition %q", name, element, def.ID)
			}
		}
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// ResolvedAssignment pairs an assignment with its resolved definition, the
// unit of work the evaluation engine consumes.
type ResolvedAssignment struct {
	Assignment *PolicyAssignment
	Definition *PolicyDefinition
}
