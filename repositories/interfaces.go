package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DefinitionRepository handles policy definition data operations
type DefinitionRepository interface {
	// Create creates a new policy definition
	Create(ctx context.Context, def *models.PolicyDefinition) error

	// GetByID retrieves a definition by its stable ID
	GetByID(ctx context.Context, id string) (*models.PolicyDefinition, error)

	// List retrieves all definitions with pagination
	List(ctx context.Context, limit, offset int) ([]*models.PolicyDefinition, error)

	// Update updates a definition. The ID is immutable.
	Update(ctx context.Context, def *models.PolicyDefinition) error

	// Delete deletes a definition
	Delete(ctx context.Context, id string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) DefinitionRepository
}

// AssignmentRepository handles policy assignment data operations
type AssignmentRepository interface {
	// Create creates a new policy assignment
	Create(ctx context.Context, assignment *models.PolicyAssignment) error

	// GetByID retrieves an assignment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyAssignment, error)

	// GetByPolicyID retrieves all assignments referencing a definition
	GetByPolicyID(ctx context.Context, policyID string) ([]*models.PolicyAssignment, error)

	// GetCovering retrieves all enabled assignments whose scope is an
	// ancestor of (or equal to) the given scope path, ordered by scope
	// depth then assignment ID for deterministic evaluation
	GetCovering(ctx context.Context, scope models.ScopePath) ([]*models.PolicyAssignment, error)

	// List retrieves all assignments with pagination
	List(ctx context.Context, limit, offset int) ([]*models.PolicyAssignment, error)

	// Update updates an assignment
	Update(ctx context.Context, assignment *models.PolicyAssignment) error

	// Delete deletes an assignment
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AssignmentRepository
}

// DecisionRepository handles decision record data operations
type DecisionRepository interface {
	// Insert inserts a new decision record
	Insert(ctx context.Context, record *models.DecisionRecord) error

	// GetByID retrieves a decision record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error)

	// GetByScope retrieves decision records at or below a scope with pagination
	GetByScope(ctx context.Context, scope models.ScopePath, limit, offset int) ([]*models.DecisionRecord, error)

	// GetByAction retrieves decision records by action type
	GetByAction(ctx context.Context, action models.DecisionAction, limit, offset int) ([]*models.DecisionRecord, error)

	// GetByDateRange retrieves decision records within a date range
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.DecisionRecord, error)

	// GetByRequestID retrieves decision records by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.DecisionRecord, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) DecisionRepository
}

// Repositories groups all repository instances
type Repositories struct {
	Definitions DefinitionRepository
	Assignments AssignmentRepository
	Decisions   DecisionRepository
}
