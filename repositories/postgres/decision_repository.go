package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"go.uber.org/zap"
)

// DecisionRepository implements the repositories.DecisionRepository interface
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, logger *zap.Logger) repositories.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

const decisionColumns = `id, action, resource_type, resource_name, scope, assignment_id, policy_id, reason, details, request_id, ip_address, user_agent, timestamp`

// Insert inserts a new decision record
func (r *DecisionRepository) Insert(ctx context.Context, record *models.DecisionRecord) error {
	query := `
		INSERT INTO decision_records (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.Action,
		record.ResourceType,
		record.ResourceName,
		record.Scope,
		record.AssignmentID,
		record.PolicyID,
		record.Reason,
		record.Details,
		record.RequestID,
		record.IPAddress,
		record.UserAgent,
		record.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert decision record: %w", err)
	}

	return nil
}

// GetByID retrieves a decision record by ID
func (r *DecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	record, err := scanDecision(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decision record not found: %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get decision record: %w", err)
	}

	return record, nil
}

// GetByScope retrieves decision records at or below a scope with pagination
func (r *DecisionRepository) GetByScope(ctx context.Context, scope models.ScopePath, limit, offset int) ([]*models.DecisionRecord, error) {
	// Segment-safe descendant match: exact scope or scope + "/..."
	query := `
		SELECT ` + decisionColumns + `
		FROM decision_records
		WHERE scope = $1 OR scope LIKE $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryDecisions(ctx, query, scope, string(scope)+"/%", limit, offset)
}

// GetByAction retrieves decision records by action type
func (r *DecisionRepository) GetByAction(ctx context.Context, action models.DecisionAction, limit, offset int) ([]*models.DecisionRecord, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decision_records
		WHERE action = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryDecisions(ctx, query, action, limit, offset)
}

// GetByDateRange retrieves decision records within a date range
func (r *DecisionRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.DecisionRecord, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decision_records
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryDecisions(ctx, query, start, end, limit, offset)
}

// GetByRequestID retrieves decision records by request ID
func (r *DecisionRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.DecisionRecord, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decision_records
		WHERE request_id = $1
		ORDER BY timestamp
	`
	return r.queryDecisions(ctx, query, requestID)
}

// WithTx returns a new repository instance bound to the transaction
func (r *DecisionRepository) WithTx(tx repositories.Transaction) repositories.DecisionRepository {
	return &DecisionRepository{
		db:     r.db,
		logger: r.logger,
	}
}

func (r *DecisionRepository) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]*models.DecisionRecord, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.DecisionRecord, 0)
	for rows.Next() {
		record, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decision records: %w", err)
	}

	return records, nil
}

func scanDecision(row rowScanner) (*models.DecisionRecord, error) {
	record := &models.DecisionRecord{}
	var (
		resourceName sql.NullString
		reason       sql.NullString
		details      []byte
		requestID    sql.NullString
		ipAddress    sql.NullString
		userAgent    sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&record.Action,
		&record.ResourceType,
		&resourceName,
		&record.Scope,
		&record.AssignmentID,
		&record.PolicyID,
		&reason,
		&details,
		&requestID,
		&ipAddress,
		&userAgent,
		&record.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	record.ResourceName = resourceName.String
	record.Reason = reason.String
	record.Details = details
	record.RequestID = requestID.String
	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String

	return record, nil
}
