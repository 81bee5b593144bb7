package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DecisionAction represents the type of event being recorded
type DecisionAction string

const (
	DecisionActionAdmissionAllowed   DecisionAction = "admission_allowed"
	DecisionActionAdmissionDenied    DecisionAction = "admission_denied"
	DecisionActionAuditFinding       DecisionAction = "audit_finding"
	DecisionActionConfigError        DecisionAction = "configuration_error"
	DecisionActionDefinitionCreated  DecisionAction = "definition_created"
	DecisionActionDefinitionUpdated  DecisionAction = "definition_updated"
	DecisionActionDefinitionDeleted  DecisionAction = "definition_deleted"
	DecisionActionAssignmentCreated  DecisionAction = "assignment_created"
	DecisionActionAssignmentUpdated  DecisionAction = "assignment_updated"
	DecisionActionAssignmentDeleted  DecisionAction = "assignment_deleted"
)

// DecisionRecord is an audit trail entry: one admission decision, audit
// finding, configuration error, or policy authoring action.
type DecisionRecord struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Action       DecisionAction  `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceName string          `json:"resource_name,omitempty" db:"resource_name"`
	Scope        ScopePath       `json:"scope" db:"scope"`
	AssignmentID *uuid.UUID      `json:"assignment_id,omitempty" db:"assignment_id"`
	PolicyID     *string         `json:"policy_id,omitempty" db:"policy_id"`
	Reason       string          `json:"reason,omitempty" db:"reason"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	RequestID    string          `json:"request_id" db:"request_id"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the DecisionRecord model
func (DecisionRecord) TableName() string {
	return "decision_records"
}

// NewDecisionRecord creates a new DecisionRecord instance
func NewDecisionRecord(action DecisionAction, resourceType string, scope ScopePath) *DecisionRecord {
	return &DecisionRecord{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: resourceType,
		Scope:        scope,
		Timestamp:    time.Now(),
	}
}

// WithAssignment sets the originating assignment and policy
func (d *DecisionRecord) WithAssignment(assignmentID uuid.UUID, policyID string) *DecisionRecord {
	d.AssignmentID = &assignmentID
	d.PolicyID = &policyID
	return d
}

// WithReason sets the human-readable reason
func (d *DecisionRecord) WithReason(reason string) *DecisionRecord {
	d.Reason = reason
	return d
}

// WithResourceName sets the resource name
func (d *DecisionRecord) WithResourceName(name string) *DecisionRecord {
	d.ResourceName = name
	return d
}

// WithDetails sets structured detail metadata
func (d *DecisionRecord) WithDetails(details interface{}) *DecisionRecord {
	if data, err := json.Marshal(details); err == nil {
		d.Details = data
	}
	return d
}

// WithRequest sets request metadata
func (d *DecisionRecord) WithRequest(requestID, ipAddress, userAgent string) *DecisionRecord {
	d.RequestID = requestID
	d.IPAddress = ipAddress
	d.UserAgent = userAgent
	return d
}
