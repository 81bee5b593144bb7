package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/govgate/govgate/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Policy definitions: reusable governance rules
		CREATE TABLE IF NOT EXISTS policy_definitions (
			id VARCHAR(255) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			description TEXT,
			mode VARCHAR(20) NOT NULL,
			rule JSONB NOT NULL,
			parameters JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Policy assignments: definition bound to a scope with parameter values.
		-- policy_id is a weak reference: definitions may be deleted while
		-- assignments referencing them remain, and resolution fails explicitly
		-- at evaluation time.
		CREATE TABLE IF NOT EXISTS policy_assignments (
			id UUID PRIMARY KEY,
			policy_id VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			scope TEXT NOT NULL,
			parameter_values JSONB,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Decision records: admission decisions, audit findings, config errors
		CREATE TABLE IF NOT EXISTS decision_records (
			id UUID PRIMARY KEY,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(255) NOT NULL,
			resource_name VARCHAR(255),
			scope TEXT NOT NULL,
			assignment_id UUID,
			policy_id VARCHAR(255),
			reason TEXT,
			details JSONB,
			request_id VARCHAR(255),
			ip_address VARCHAR(45),
			user_agent TEXT,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_policy_assignments_policy_id ON policy_assignments(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_assignments_scope ON policy_assignments(scope);
		CREATE INDEX IF NOT EXISTS idx_policy_assignments_enabled ON policy_assignments(enabled);

		CREATE INDEX IF NOT EXISTS idx_decision_records_action ON decision_records(action);
		CREATE INDEX IF NOT EXISTS idx_decision_records_scope ON decision_records(scope);
		CREATE INDEX IF NOT EXISTS idx_decision_records_timestamp ON decision_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_decision_records_request_id ON decision_records(request_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitDecisionSchema initializes the decision-record schema only. Use for
// the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitDecisionSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS decision_records (
			id UUID PRIMARY KEY,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(255) NOT NULL,
			resource_name VARCHAR(255),
			scope TEXT NOT NULL,
			assignment_id UUID,
			policy_id VARCHAR(255),
			reason TEXT,
			details JSONB,
			request_id VARCHAR(255),
			ip_address VARCHAR(45),
			user_agent TEXT,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_decision_records_action ON decision_records(action);
		CREATE INDEX IF NOT EXISTS idx_decision_records_scope ON decision_records(scope);
		CREATE INDEX IF NOT EXISTS idx_decision_records_timestamp ON decision_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_decision_records_request_id ON decision_records(request_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize decision schema: %w", err)
	}
	db.logger.Info("decision schema initialized successfully")
	return nil
}
