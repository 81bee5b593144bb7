package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AssignmentRepository implements the repositories.AssignmentRepository interface
type AssignmentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB, logger *zap.Logger) repositories.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

const assignmentColumns = `id, policy_id, display_name, scope, parameter_values, enabled, created_at, updated_at`

// Create creates a new policy assignment
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.PolicyAssignment) error {
	valuesJSON, err := json.Marshal(assignment.ParameterValues)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter values: %w", err)
	}

	query := `
		INSERT INTO policy_assignments (id, policy_id, display_name, scope, parameter_values, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		assignment.ID,
		assignment.PolicyID,
		assignment.DisplayName,
		assignment.Scope,
		valuesJSON,
		assignment.Enabled,
		assignment.CreatedAt,
		assignment.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	r.logger.Debug("assignment created",
		zap.String("id", assignment.ID.String()),
		zap.String("policy_id", assignment.PolicyID))
	return nil
}

// GetByID retrieves an assignment by ID
func (r *AssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM policy_assignments WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	assignment, err := scanAssignment(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("assignment not found: %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return assignment, nil
}

// GetByPolicyID retrieves all assignments referencing a definition
func (r *AssignmentRepository) GetByPolicyID(ctx context.Context, policyID string) ([]*models.PolicyAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM policy_assignments
		WHERE policy_id = $1
		ORDER BY created_at DESC
	`
	return r.queryAssignments(ctx, query, policyID)
}

// GetCovering retrieves all enabled assignments whose scope is an ancestor
// of (or equal to) the given scope path. The candidate ancestor paths are
// enumerated segment by segment, so /sub/rg never matches /sub/rg2. The root
// scope "/" is always a candidate since it covers every path. Results are
// ordered by scope depth then assignment ID for deterministic evaluation.
func (r *AssignmentRepository) GetCovering(ctx context.Context, scope models.ScopePath) ([]*models.PolicyAssignment, error) {
	segments := scope.Segments()
	ancestors := make([]string, 0, len(segments)+1)
	ancestors = append(ancestors, "/")
	path := ""
	for _, seg := range segments {
		path += "/" + seg
		ancestors = append(ancestors, path)
	}

	query := `
		SELECT ` + assignmentColumns + `
		FROM policy_assignments
		WHERE enabled = true
			AND scope = ANY($1)
		ORDER BY char_length(scope), id
	`
	return r.queryAssignments(ctx, query, pq.Array(ancestors))
}

// List retrieves all assignments with pagination
func (r *AssignmentRepository) List(ctx context.Context, limit, offset int) ([]*models.PolicyAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM policy_assignments
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryAssignments(ctx, query, limit, offset)
}

// Update updates an assignment
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.PolicyAssignment) error {
	valuesJSON, err := json.Marshal(assignment.ParameterValues)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter values: %w", err)
	}

	query := `
		UPDATE policy_assignments
		SET policy_id = $2,
		    display_name = $3,
		    scope = $4,
		    parameter_values = $5,
		    enabled = $6,
		    updated_at = $7
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		assignment.ID,
		assignment.PolicyID,
		assignment.DisplayName,
		assignment.Scope,
		valuesJSON,
		assignment.Enabled,
		assignment.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("assignment not found: %s: %w", assignment.ID, sql.ErrNoRows)
	}

	r.logger.Debug("assignment updated", zap.String("id", assignment.ID.String()))
	return nil
}

// Delete deletes an assignment
func (r *AssignmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policy_assignments WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("assignment not found: %s: %w", id, sql.ErrNoRows)
	}

	r.logger.Debug("assignment deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *AssignmentRepository) WithTx(tx repositories.Transaction) repositories.AssignmentRepository {
	return &AssignmentRepository{
		db:     r.db,
		logger: r.logger,
	}
}

func (r *AssignmentRepository) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]*models.PolicyAssignment, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]*models.PolicyAssignment, 0)
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	return assignments, nil
}

func scanAssignment(row rowScanner) (*models.PolicyAssignment, error) {
	assignment := &models.PolicyAssignment{}
	var valuesJSON []byte

	err := row.Scan(
		&assignment.ID,
		&assignment.PolicyID,
		&assignment.DisplayName,
		&assignment.Scope,
		&valuesJSON,
		&assignment.Enabled,
		&assignment.CreatedAt,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(valuesJSON) > 0 {
		if err := json.Unmarshal(valuesJSON, &assignment.ParameterValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameter values: %w", err)
		}
	}

	return assignment, nil
}
