package policy

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"github.com/govgate/govgate/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockDefinitionRepository is a mock implementation of repositories.DefinitionRepository
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) Create(ctx context.Context, def *models.PolicyDefinition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}

func (m *MockDefinitionRepository) GetByID(ctx context.Context, id string) (*models.PolicyDefinition, error) {
	args := m.Called(ctx, id)
	if def := args.Get(0); def != nil {
		return def.(*models.PolicyDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDefinitionRepository) List(ctx context.Context, limit, offset int) ([]*models.PolicyDefinition, error) {
	args := m.Called(ctx, limit, offset)
	if defs := args.Get(0); defs != nil {
		return defs.([]*models.PolicyDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDefinitionRepository) Update(ctx context.Context, def *models.PolicyDefinition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}

func (m *MockDefinitionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDefinitionRepository) WithTx(tx repositories.Transaction) repositories.DefinitionRepository {
	return m
}

// MockAssignmentRepository is a mock implementation of repositories.AssignmentRepository
type MockAssignmentRepository struct {
	mock.Mock
}

func (m *MockAssignmentRepository) Create(ctx context.Context, assignment *models.PolicyAssignment) error {
	args := m.Called(ctx, assignment)
	return args.Error(0)
}

func (m *MockAssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyAssignment, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*models.PolicyAssignment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAssignmentRepository) GetByPolicyID(ctx context.Context, policyID string) ([]*models.PolicyAssignment, error) {
	args := m.Called(ctx, policyID)
	if as := args.Get(0); as != nil {
		return as.([]*models.PolicyAssignment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAssignmentRepository) GetCovering(ctx context.Context, scope models.ScopePath) ([]*models.PolicyAssignment, error) {
	args := m.Called(ctx, scope)
	if as := args.Get(0); as != nil {
		return as.([]*models.PolicyAssignment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAssignmentRepository) List(ctx context.Context, limit, offset int) ([]*models.PolicyAssignment, error) {
	args := m.Called(ctx, limit, offset)
	if as := args.Get(0); as != nil {
		return as.([]*models.PolicyAssignment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAssignmentRepository) Update(ctx context.Context, assignment *models.PolicyAssignment) error {
	args := m.Called(ctx, assignment)
	return args.Error(0)
}

func (m *MockAssignmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAssignmentRepository) WithTx(tx repositories.Transaction) repositories.AssignmentRepository {
	return m
}

// fakeTxManager satisfies repositories.TransactionManager for tests. It
// invokes the callback against the caller's context directly; the repository
// mocks above never look at the transaction.
type fakeTxManager struct {
	calls int
}

func (m *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, nil
}

func (m *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	m.calls++
	return fn(ctx, nil)
}

func boolPtr(b bool) *bool { return &b }

func testDefinition(id string) *models.PolicyDefinition {
	return models.NewPolicyDefinition(id, id, models.ModeIndexed, models.PolicyRule{
		If:     models.Predicate{Field: "tags.Environment", Exists: boolPtr(false)},
		Effect: models.EffectDeny,
	})
}

func newTestService(t *testing.T) (*PolicyService, *MockDefinitionRepository, *MockAssignmentRepository, *AssignmentCache) {
	t.Helper()
	defRepo := new(MockDefinitionRepository)
	assignRepo := new(MockAssignmentRepository)
	cache := NewAssignmentCache(100, time.Minute)
	svc := NewPolicyService(defRepo, assignRepo, &fakeTxManager{}, cache, zaptest.NewLogger(t))
	return svc, defRepo, assignRepo, cache
}

func notFound(what string) error {
	return fmt.Errorf("%s not found: %w", what, sql.ErrNoRows)
}

func TestCreateDefinition(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a valid definition", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)
		def := testDefinition("require-env-tag")

		defRepo.On("GetByID", ctx, def.ID).Return(nil, notFound("definition"))
		defRepo.On("Create", ctx, def).Return(nil)

		require.NoError(t, svc.CreateDefinition(ctx, def))
		defRepo.AssertExpectations(t)
	})

	t.Run("rejects an invalid definition", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)
		def := testDefinition("bad")
		def.Mode = "Partial"

		err := svc.CreateDefinition(ctx, def)
		assert.True(t, services.IsValidationError(err))
		defRepo.AssertNotCalled(t, "Create")
	})

	t.Run("rejects a duplicate id", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)
		def := testDefinition("require-env-tag")

		defRepo.On("GetByID", ctx, def.ID).Return(testDefinition(def.ID), nil)

		err := svc.CreateDefinition(ctx, def)
		assert.True(t, services.IsConflictError(err))
	})
}

func TestGetDefinition(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)
		def := testDefinition("require-env-tag")
		defRepo.On("GetByID", ctx, def.ID).Return(def, nil)

		got, err := svc.GetDefinition(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def, got)
	})

	t.Run("not found maps to domain error", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)
		defRepo.On("GetByID", ctx, "ghost").Return(nil, notFound("definition"))

		_, err := svc.GetDefinition(ctx, "ghost")
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestUpdateDefinition_InvalidatesCachedResolutions(t *testing.T) {
	ctx := context.Background()
	svc, defRepo, _, cache := newTestService(t)

	def := testDefinition("require-env-tag")
	a := models.NewPolicyAssignment(def.ID, "/subscriptions/s1")
	cache.Set("/subscriptions/s1/resourceGroups/rg1",
		[]*models.ResolvedAssignment{{Assignment: a, Definition: def}})

	defRepo.On("Update", ctx, def).Return(nil)

	require.NoError(t, svc.UpdateDefinition(ctx, def))
	assert.Nil(t, cache.Get("/subscriptions/s1/resourceGroups/rg1"))
}

func TestDeleteDefinition(t *testing.T) {
	ctx := context.Background()

	t.Run("warns on dangling assignments", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		defRepo.On("Delete", ctx, "require-env-tag").Return(nil)
		assignRepo.On("GetByPolicyID", ctx, "require-env-tag").Return(
			[]*models.PolicyAssignment{models.NewPolicyAssignment("require-env-tag", "/subscriptions/s1")}, nil)

		// Weak references: delete succeeds even with assignments still pointing at it
		require.NoError(t, svc.DeleteDefinition(ctx, "require-env-tag"))
		assignRepo.AssertExpectations(t)
	})

	t.Run("delete and dangling check share one transaction", func(t *testing.T) {
		defRepo := new(MockDefinitionRepository)
		assignRepo := new(MockAssignmentRepository)
		txManager := &fakeTxManager{}
		svc := NewPolicyService(defRepo, assignRepo, txManager,
			NewAssignmentCache(100, time.Minute), zaptest.NewLogger(t))

		defRepo.On("Delete", ctx, "require-env-tag").Return(nil)
		assignRepo.On("GetByPolicyID", ctx, "require-env-tag").Return([]*models.PolicyAssignment{}, nil)

		require.NoError(t, svc.DeleteDefinition(ctx, "require-env-tag"))
		assert.Equal(t, 1, txManager.calls)
	})

	t.Run("dangling check failure rolls the delete back", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		defRepo.On("Delete", ctx, "require-env-tag").Return(nil)
		assignRepo.On("GetByPolicyID", ctx, "require-env-tag").Return(nil, fmt.Errorf("connection refused"))

		err := svc.DeleteDefinition(ctx, "require-env-tag")
		assert.True(t, services.IsInternalError(err))
	})

	t.Run("missing definition maps to not found", func(t *testing.T) {
		svc, defRepo, _, _ := newTestService(t)

		defRepo.On("Delete", ctx, "ghost").Return(notFound("definition"))

		err := svc.DeleteDefinition(ctx, "ghost")
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestCreateAssignment(t *testing.T) {
	ctx := context.Background()

	t.Run("validates parameter values against the definition", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		def := testDefinition("with-params")
		def.Rule.If = models.Predicate{Field: "location", In: &models.ValueList{Ref: "regions"}}
		def.Parameters = map[string]models.ParameterSpec{
			"regions": {Type: models.ParameterTypeArray},
		}
		defRepo.On("GetByID", ctx, def.ID).Return(def, nil)

		a := models.NewPolicyAssignment(def.ID, "/subscriptions/s1")
		err := svc.CreateAssignment(ctx, a)
		assert.True(t, services.IsValidationError(err), "missing required parameter")
		assignRepo.AssertNotCalled(t, "Create")

		a.ParameterValues = map[string]models.ParameterValue{
			"regions": {List: []string{"westeurope"}},
		}
		assignRepo.On("Create", ctx, a).Return(nil)
		require.NoError(t, svc.CreateAssignment(ctx, a))
	})

	t.Run("allows a weak reference to a missing definition", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		defRepo.On("GetByID", ctx, "ghost").Return(nil, notFound("definition"))
		a := models.NewPolicyAssignment("ghost", "/subscriptions/s1")
		assignRepo.On("Create", ctx, a).Return(nil)

		require.NoError(t, svc.CreateAssignment(ctx, a))
		assignRepo.AssertExpectations(t)
	})

	t.Run("invalidates covered cache entries", func(t *testing.T) {
		svc, defRepo, assignRepo, cache := newTestService(t)

		cache.Set("/subscriptions/s1/resourceGroups/rg1", []*models.ResolvedAssignment{})
		cache.Set("/subscriptions/s2", []*models.ResolvedAssignment{})

		defRepo.On("GetByID", ctx, "ghost").Return(nil, notFound("definition"))
		a := models.NewPolicyAssignment("ghost", "/subscriptions/s1")
		assignRepo.On("Create", ctx, a).Return(nil)

		require.NoError(t, svc.CreateAssignment(ctx, a))
		// Note: Get returns nil for empty slices too, so check via stats
		assert.Equal(t, 1, cache.Stats().Size)
	})
}

func TestUpdateAssignment_InvalidatesBothScopes(t *testing.T) {
	ctx := context.Background()
	svc, defRepo, assignRepo, cache := newTestService(t)

	existing := models.NewPolicyAssignment("ghost", "/subscriptions/s1")
	moved := *existing
	moved.Scope = "/subscriptions/s2"

	cache.Set("/subscriptions/s1/resourceGroups/rg1", []*models.ResolvedAssignment{{Assignment: existing}})
	cache.Set("/subscriptions/s2/resourceGroups/rg2", []*models.ResolvedAssignment{{Assignment: existing}})
	cache.Set("/subscriptions/s3", []*models.ResolvedAssignment{{Assignment: existing}})

	assignRepo.On("GetByID", ctx, existing.ID).Return(existing, nil)
	defRepo.On("GetByID", ctx, "ghost").Return(nil, notFound("definition"))
	assignRepo.On("Update", ctx, &moved).Return(nil)

	require.NoError(t, svc.UpdateAssignment(ctx, &moved))

	// Entries under the old and new scope are dropped, unrelated scopes kept
	assert.Equal(t, 1, cache.Stats().Size)
	assert.NotNil(t, cache.Get("/subscriptions/s3"))
}

func TestDeleteAssignment(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		svc, _, assignRepo, _ := newTestService(t)
		id := uuid.New()
		assignRepo.On("GetByID", ctx, id).Return(nil, notFound("assignment"))

		err := svc.DeleteAssignment(ctx, id)
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("deletes and invalidates", func(t *testing.T) {
		svc, _, assignRepo, cache := newTestService(t)
		existing := models.NewPolicyAssignment("p", "/subscriptions/s1")
		cache.Set("/subscriptions/s1/resourceGroups/rg1", []*models.ResolvedAssignment{{Assignment: existing}})

		assignRepo.On("GetByID", ctx, existing.ID).Return(existing, nil)
		assignRepo.On("Delete", ctx, existing.ID).Return(nil)

		require.NoError(t, svc.DeleteAssignment(ctx, existing.ID))
		assert.Equal(t, 0, cache.Stats().Size)
	})
}

func TestGetResolvedForScope(t *testing.T) {
	ctx := context.Background()
	scope := models.ScopePath("/subscriptions/s1/resourceGroups/rg1")

	t.Run("resolves each distinct definition once", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		def := testDefinition("require-env-tag")
		a1 := models.NewPolicyAssignment(def.ID, "/subscriptions/s1")
		a2 := models.NewPolicyAssignment(def.ID, scope)

		assignRepo.On("GetCovering", ctx, scope).Return([]*models.PolicyAssignment{a1, a2}, nil)
		defRepo.On("GetByID", ctx, def.ID).Return(def, nil).Once()

		resolved, err := svc.GetResolvedForScope(ctx, scope)
		require.NoError(t, err)
		require.Len(t, resolved, 2)
		assert.Same(t, def, resolved[0].Definition)
		assert.Same(t, def, resolved[1].Definition)
		defRepo.AssertExpectations(t)
	})

	t.Run("missing definition is kept with nil definition", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		a := models.NewPolicyAssignment("ghost", "/subscriptions/s1")
		assignRepo.On("GetCovering", ctx, scope).Return([]*models.PolicyAssignment{a}, nil)
		defRepo.On("GetByID", ctx, "ghost").Return(nil, notFound("definition"))

		resolved, err := svc.GetResolvedForScope(ctx, scope)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Same(t, a, resolved[0].Assignment)
		assert.Nil(t, resolved[0].Definition)
	})

	t.Run("second gather is served from cache", func(t *testing.T) {
		svc, defRepo, assignRepo, _ := newTestService(t)

		def := testDefinition("require-env-tag")
		a := models.NewPolicyAssignment(def.ID, "/subscriptions/s1")
		assignRepo.On("GetCovering", ctx, scope).Return([]*models.PolicyAssignment{a}, nil).Once()
		defRepo.On("GetByID", ctx, def.ID).Return(def, nil).Once()

		first, err := svc.GetResolvedForScope(ctx, scope)
		require.NoError(t, err)
		second, err := svc.GetResolvedForScope(ctx, scope)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assignRepo.AssertExpectations(t)
		assert.Equal(t, uint64(1), svc.CacheStats().Hits)
	})

	t.Run("invalid scope is rejected", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.GetResolvedForScope(ctx, "no-leading-slash")
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("repository failure is an internal error", func(t *testing.T) {
		svc, _, assignRepo, _ := newTestService(t)

		assignRepo.On("GetCovering", ctx, scope).Return(nil, fmt.Errorf("connection refused"))

		_, err := svc.GetResolvedForScope(ctx, scope)
		assert.True(t, services.IsInternalError(err))
	})
}
