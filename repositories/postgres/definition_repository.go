package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"go.uber.org/zap"
)

// DefinitionRepository implements the repositories.DefinitionRepository interface
type DefinitionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *DB, logger *zap.Logger) repositories.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy definition
func (r *DefinitionRepository) Create(ctx context.Context, def *models.PolicyDefinition) error {
	ruleJSON, err := json.Marshal(def.Rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}
	paramsJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO policy_definitions (id, display_name, description, mode, rule, parameters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		def.ID,
		def.DisplayName,
		def.Description,
		def.Mode,
		ruleJSON,
		paramsJSON,
		def.CreatedAt,
		def.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}

	r.logger.Debug("definition created", zap.String("id", def.ID))
	return nil
}

// GetByID retrieves a definition by its stable ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.PolicyDefinition, error) {
	query := `
		SELECT id, display_name, description, mode, rule, parameters, created_at, updated_at
		FROM policy_definitions
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	row := executor.QueryRowContext(ctx, query, id)

	def, err := scanDefinition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("definition not found: %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	return def, nil
}

// List retrieves all definitions with pagination
func (r *DefinitionRepository) List(ctx context.Context, limit, offset int) ([]*models.PolicyDefinition, error) {
	query := `
		SELECT id, display_name, description, mode, rule, parameters, created_at, updated_at
		FROM policy_definitions
		ORDER BY id
		LIMIT $1 OFFSET $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]*models.PolicyDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}

	return defs, nil
}

// Update updates a definition. The ID is immutable.
func (r *DefinitionRepository) Update(ctx context.Context, def *models.PolicyDefinition) error {
	ruleJSON, err := json.Marshal(def.Rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}
	paramsJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		UPDATE policy_definitions
		SET display_name = $2,
		    description = $3,
		    mode = $4,
		    rule = $5,
		    parameters = $6,
		    updated_at = $7
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		def.ID,
		def.DisplayName,
		def.Description,
		def.Mode,
		ruleJSON,
		paramsJSON,
		def.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("definition not found: %s: %w", def.ID, sql.ErrNoRows)
	}

	r.logger.Debug("definition updated", zap.String("id", def.ID))
	return nil
}

// Delete deletes a definition. Assignments referencing it keep their weak
// reference and fail resolution at evaluation time.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM policy_definitions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("definition not found: %s: %w", id, sql.ErrNoRows)
	}

	r.logger.Debug("definition deleted", zap.String("id", id))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *DefinitionRepository) WithTx(tx repositories.Transaction) repositories.DefinitionRepository {
	return &DefinitionRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*models.PolicyDefinition, error) {
	def := &models.PolicyDefinition{}
	var ruleJSON, paramsJSON []byte

	err := row.Scan(
		&def.ID,
		&def.DisplayName,
		&def.Description,
		&def.Mode,
		&ruleJSON,
		&paramsJSON,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ruleJSON, &def.Rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &def.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}

	return def, nil
}
