package policy

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"github.com/govgate/govgate/services"
	"go.uber.org/zap"
)

// PolicyService manages policy definitions and assignments and serves
// the resolved assignment sets the admission path evaluates against.
type PolicyService struct {
	definitionRepo repositories.DefinitionRepository
	assignmentRepo repositories.AssignmentRepository
	txManager      repositories.TransactionManager
	cache          *AssignmentCache
	logger         *zap.Logger
}

// NewPolicyService creates a new PolicyService instance
func NewPolicyService(
	definitionRepo repositories.DefinitionRepository,
	assignmentRepo repositories.AssignmentRepository,
	txManager repositories.TransactionManager,
	cache *AssignmentCache,
	logger *zap.Logger,
) *PolicyService {
	return &PolicyService{
		definitionRepo: definitionRepo,
		assignmentRepo: assignmentRepo,
		txManager:      txManager,
		cache:          cache,
		logger:         logger,
	}
}

// CreateDefinition validates and persists a new policy definition
func (s *PolicyService) CreateDefinition(ctx context.Context, def *models.PolicyDefinition) error {
	if err := def.Validate(); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid policy definition", err)
	}

	if _, err := s.definitionRepo.GetByID(ctx, def.ID); err == nil {
		return services.NewDomainError(services.ErrorTypeConflict, "definition ID already exists", nil).WithDetail("id", def.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return services.WrapInternal("failed to check definition existence", err)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.definitionRepo.Create(ctx, def); err != nil {
		return services.WrapInternal("failed to create definition", err)
	}

	s.logger.Info("policy definition created",
		zap.String("id", def.ID),
		zap.String("mode", string(def.Mode)),
		zap.String("effect", string(def.Rule.Effect)))
	return nil
}

// GetDefinition retrieves a definition by its stable ID
func (s *PolicyService) GetDefinition(ctx context.Context, id string) (*models.PolicyDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "policy definition not found", nil).WithDetail("id", id)
		}
		return nil, services.WrapInternal("failed to get definition", err)
	}
	return def, nil
}

// ListDefinitions retrieves definitions with pagination
func (s *PolicyService) ListDefinitions(ctx context.Context, limit, offset int) ([]*models.PolicyDefinition, error) {
	defs, err := s.definitionRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list definitions", err)
	}
	return defs, nil
}

// UpdateDefinition validates and persists changes to a definition. The ID
// is immutable; cached resolutions referencing the definition are dropped.
func (s *PolicyService) UpdateDefinition(ctx context.Context, def *models.PolicyDefinition) error {
	if err := def.Validate(); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid policy definition", err)
	}

	def.UpdatedAt = time.Now()

	if err := s.definitionRepo.Update(ctx, def); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.NewDomainError(services.ErrorTypeNotFound, "policy definition not found", nil).WithDetail("id", def.ID)
		}
		return services.WrapInternal("failed to update definition", err)
	}

	s.cache.InvalidatePolicy(def.ID)
	s.logger.Info("policy definition updated", zap.String("id", def.ID))
	return nil
}

// DeleteDefinition deletes a definition. Assignments referencing it keep
// their weak reference and resolve to an explicit configuration error at
// evaluation time. The delete and the dangling-reference check run in one
// transaction so the check sees the state the delete committed against.
func (s *PolicyService) DeleteDefinition(ctx context.Context, id string) error {
	var dangling int
	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := s.definitionRepo.Delete(txCtx, id); err != nil {
			return err
		}
		remaining, err := s.assignmentRepo.GetByPolicyID(txCtx, id)
		if err != nil {
			return err
		}
		dangling = len(remaining)
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.NewDomainError(services.ErrorTypeNotFound, "policy definition not found", nil).WithDetail("id", id)
		}
		return services.WrapInternal("failed to delete definition", err)
	}

	s.cache.InvalidatePolicy(id)

	if dangling > 0 {
		s.logger.Warn("definition deleted with assignments still referencing it",
			zap.String("id", id),
			zap.Int("dangling_assignments", dangling))
	} else {
		s.logger.Info("policy definition deleted", zap.String("id", id))
	}
	return nil
}

// CreateAssignment validates and persists a new policy assignment. When
// the referenced definition exists, the assignment's parameter values are
// checked against its parameter contract; a missing definition is allowed
// (weak reference) but logged.
func (s *PolicyService) CreateAssignment(ctx context.Context, assignment *models.PolicyAssignment) error {
	if err := assignment.Validate(); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid policy assignment", err)
	}

	def, err := s.definitionRepo.GetByID(ctx, assignment.PolicyID)
	switch {
	case err == nil:
		if err := assignment.ValidateAgainst(def); err != nil {
			return services.NewDomainError(services.ErrorTypeValidation, "invalid parameter values", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		s.logger.Warn("assignment references missing definition",
			zap.String("assignment_id", assignment.ID.String()),
			zap.String("policy_id", assignment.PolicyID))
	default:
		return services.WrapInternal("failed to resolve definition", err)
	}

	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	if err := s.assignmentRepo.Create(ctx, assignment); err != nil {
		return services.WrapInternal("failed to create assignment", err)
	}

	s.cache.InvalidateCovered(assignment.Scope)
	s.logger.Info("policy assignment created",
		zap.String("id", assignment.ID.String()),
		zap.String("policy_id", assignment.PolicyID),
		zap.String("scope", string(assignment.Scope)))
	return nil
}

// GetAssignment retrieves an assignment by ID
func (s *PolicyService) GetAssignment(ctx context.Context, id uuid.UUID) (*models.PolicyAssignment, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "policy assignment not found", nil).WithDetail("id", id.String())
		}
		return nil, services.WrapInternal("failed to get assignment", err)
	}
	return assignment, nil
}

// ListAssignments retrieves assignments with pagination
func (s *PolicyService) ListAssignments(ctx context.Context, limit, offset int) ([]*models.PolicyAssignment, error) {
	assignments, err := s.assignmentRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list assignments", err)
	}
	return assignments, nil
}

// UpdateAssignment validates and persists changes to an assignment
func (s *PolicyService) UpdateAssignment(ctx context.Context, assignment *models.PolicyAssignment) error {
	if err := assignment.Validate(); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid policy assignment", err)
	}

	existing, err := s.assignmentRepo.GetByID(ctx, assignment.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.NewDomainError(services.ErrorTypeNotFound, "policy assignment not found", nil).WithDetail("id", assignment.ID.String())
		}
		return services.WrapInternal("failed to get assignment", err)
	}

	def, err := s.definitionRepo.GetByID(ctx, assignment.PolicyID)
	switch {
	case err == nil:
		if err := assignment.ValidateAgainst(def); err != nil {
			return services.NewDomainError(services.ErrorTypeValidation, "invalid parameter values", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		s.logger.Warn("assignment references missing definition",
			zap.String("assignment_id", assignment.ID.String()),
			zap.String("policy_id", assignment.PolicyID))
	default:
		return services.WrapInternal("failed to resolve definition", err)
	}

	assignment.UpdatedAt = time.Now()

	if err := s.assignmentRepo.Update(ctx, assignment); err != nil {
		return services.WrapInternal("failed to update assignment", err)
	}

	// The assignment may have moved scopes; drop entries under both.
	s.cache.InvalidateCovered(existing.Scope)
	if assignment.Scope != existing.Scope {
		s.cache.InvalidateCovered(assignment.Scope)
	}

	s.logger.Info("policy assignment updated", zap.String("id", assignment.ID.String()))
	return nil
}

// DeleteAssignment deletes an assignment
func (s *PolicyService) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	existing, err := s.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.NewDomainError(services.ErrorTypeNotFound, "policy assignment not found", nil).WithDetail("id", id.String())
		}
		return services.WrapInternal("failed to get assignment", err)
	}

	if err := s.assignmentRepo.Delete(ctx, id); err != nil {
		return services.WrapInternal("failed to delete assignment", err)
	}

	s.cache.InvalidateCovered(existing.Scope)
	s.logger.Info("policy assignment deleted", zap.String("id", id.String()))
	return nil
}

// GetResolvedForScope gathers all enabled assignments covering the given
// scope, resolves their weak definition references and returns them in
// deterministic order (scope depth, then assignment ID). A missing
// definition yields a ResolvedAssignment with a nil Definition; the
// evaluation engine turns that into an explicit configuration error
// rather than dropping the assignment silently.
func (s *PolicyService) GetResolvedForScope(ctx context.Context, scope models.ScopePath) ([]*models.ResolvedAssignment, error) {
	if err := scope.Validate(); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid scope path", err)
	}

	if cached := s.cache.Get(scope); cached != nil {
		s.logger.Debug("cache hit for covering assignments",
			zap.String("scope", string(scope)))
		return cached, nil
	}

	assignments, err := s.assignmentRepo.GetCovering(ctx, scope)
	if err != nil {
		return nil, services.WrapInternal("failed to fetch covering assignments", err)
	}

	// Resolve each distinct definition once per gather.
	definitions := make(map[string]*models.PolicyDefinition)
	resolved := make([]*models.ResolvedAssignment, 0, len(assignments))
	for _, assignment := range assignments {
		def, seen := definitions[assignment.PolicyID]
		if !seen {
			def, err = s.definitionRepo.GetByID(ctx, assignment.PolicyID)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return nil, services.WrapInternal("failed to resolve definition", err)
				}
				def = nil
			}
			definitions[assignment.PolicyID] = def
		}
		resolved = append(resolved, &models.ResolvedAssignment{
			Assignment: assignment,
			Definition: def,
		})
	}

	s.cache.Set(scope, resolved)

	s.logger.Debug("cache miss for covering assignments, fetched from database",
		zap.String("scope", string(scope)),
		zap.Int("count", len(resolved)))

	return resolved, nil
}

// CacheStats returns the assignment cache statistics
func (s *PolicyService) CacheStats() CacheStats {
	return s.cache.Stats()
}
