package postgres

import (
	"context"

	"github.com/govgate/govgate/config"
	"github.com/govgate/govgate/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for decision records
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// InitDecisionSchema initializes the decision-record schema when using a
// separate audit DB.
func (f *RepositoryFactory) InitDecisionSchema(ctx context.Context) error {
	if f.auditDB != nil {
		return f.auditDB.InitDecisionSchema(ctx)
	}
	return nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	decisionDB := f.db
	if f.auditDB != nil {
		decisionDB = f.auditDB
	}
	return &repositories.Repositories{
		Definitions: NewDefinitionRepository(f.db, f.logger),
		Assignments: NewAssignmentRepository(f.db, f.logger),
		Decisions:   NewDecisionRepository(decisionDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// GetAuditDB returns the audit database connection, or nil when decision
// records share the main database.
func (f *RepositoryFactory) GetAuditDB() *DB {
	return f.auditDB
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
