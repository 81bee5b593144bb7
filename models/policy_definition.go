package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Effect is the action taken when a policy rule's predicate matches
type Effect string

const (
	EffectDeny     Effect = "Deny"
	EffectAudit    Effect = "Audit"
	EffectAppend   Effect = "Append"
	EffectDisabled Effect = "Disabled"
)

// Valid reports whether the effect is a known value
func (e Effect) Valid() bool {
	switch e {
	case EffectDeny, EffectAudit, EffectAppend, EffectDisabled:
		return true
	}
	return false
}

// Mode selects which resources a definition applies to
type Mode string

const (
	// ModeAll applies to every resource type
	ModeAll Mode = "All"

	// ModeIndexed applies only to tag-bearing resource types
	ModeIndexed Mode = "Indexed"
)

// Valid reports whether the mode is a known value
func (m Mode) Valid() bool {
	return m == ModeAll || m == ModeIndexed
}

// ParameterType is the declared type of a definition parameter
type ParameterType string

const (
	ParameterTypeString ParameterType = "String"
	ParameterTypeArray  ParameterType = "Array"
)

// ParameterValue holds a concrete parameter value: a single string or a
// list of strings, matching the two declared parameter types.
type ParameterValue struct {
	String *string
	List   []string
}

// MarshalJSON implements json.Marshaler
func (v ParameterValue) MarshalJSON() ([]byte, error) {
	if v.String != nil {
		return json.Marshal(*v.String)
	}
	return json.Marshal(v.List)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *ParameterValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ParameterValue{String: &s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parameter value must be a string or an array of strings: %w", err)
	}
	*v = ParameterValue{List: list}
	return nil
}

// ParameterSpec declares a definition parameter: its type and optional
// default. A parameter with no default must be supplied by every assignment.
type ParameterSpec struct {
	Type          ParameterType   `json:"type"`
	DefaultValue  *ParameterValue `json:"defaultValue,omitempty"`
	AllowedValues []string        `json:"allowedValues,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// PolicyRule pairs a predicate with the effect applied when it matches
type PolicyRule struct {
	If     Predicate `json:"if"`
	Effect Effect    `json:"effect"`
}

// PolicyDefinition is a named, reusable governance rule. The ID is immutable
// once created; assignments reference it weakly by ID.
type PolicyDefinition struct {
	ID          string                   `json:"id" db:"id"`
	DisplayName string                   `json:"display_name" db:"display_name"`
	Description string                   `json:"description,omitempty" db:"description"`
	Mode        Mode                     `json:"mode" db:"mode"`
	Rule        PolicyRule               `json:"rule" db:"rule"`
	Parameters  map[string]ParameterSpec `json:"parameters,omitempty" db:"parameters"`
	CreatedAt   time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the PolicyDefinition model
func (PolicyDefinition) TableName() string {
	return "policy_definitions"
}

// NewPolicyDefinition creates a new PolicyDefinition instance
func NewPolicyDefinition(id, displayName string, mode Mode, rule PolicyRule) *PolicyDefinition {
	now := time.Now()
	return &PolicyDefinition{
		ID:          id,
		DisplayName: displayName,
		Mode:        mode,
		Rule:        rule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the definition invariants: known mode and effect, a
// well-formed rule predicate, and a rule that references only declared
// parameters.
func (d *PolicyDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	if !d.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", d.Mode)
	}
	if !d.Rule.Effect.Valid() {
		return fmt.Errorf("unknown effect %q", d.Rule.Effect)
	}
	if err := d.Rule.If.Validate(); err != nil {
		return fmt.Errorf("rule predicate: %w", err)
	}
	for _, name := range d.Rule.If.ReferencedParameters() {
		if _, declared := d.Parameters[name]; !declared {
			return fmt.Errorf("rule references undeclared parameter %q", name)
		}
	}
	return nil
}
