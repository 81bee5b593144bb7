package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingDecisionRepo captures inserted records for assertions
type recordingDecisionRepo struct {
	mu        sync.Mutex
	records   []*models.DecisionRecord
	insertErr error
	delay     time.Duration
}

func (r *recordingDecisionRepo) Insert(ctx context.Context, record *models.DecisionRecord) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recordingDecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *recordingDecisionRepo) GetByScope(ctx context.Context, scope models.ScopePath, limit, offset int) ([]*models.DecisionRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *recordingDecisionRepo) GetByAction(ctx context.Context, action models.DecisionAction, limit, offset int) ([]*models.DecisionRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *recordingDecisionRepo) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.DecisionRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *recordingDecisionRepo) GetByRequestID(ctx context.Context, requestID string) ([]*models.DecisionRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *recordingDecisionRepo) WithTx(tx repositories.Transaction) repositories.DecisionRepository {
	return r
}

func (r *recordingDecisionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *recordingDecisionRepo) all() []*models.DecisionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.DecisionRecord, len(r.records))
	copy(out, r.records)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testEvent() *DecisionEvent {
	record := models.NewDecisionRecord(models.DecisionActionAdmissionDenied, "compute/vm", "/subscriptions/s1")
	record.WithReason("denied by policy")
	return &DecisionEvent{Record: record, Priority: 2}
}

func TestAuditService_StartStop(t *testing.T) {
	repo := &recordingDecisionRepo{}
	svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "double start rejected")

	stats := svc.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	require.NoError(t, svc.Stop(time.Second))
}

func TestAuditService_StopWithoutStart(t *testing.T) {
	repo := &recordingDecisionRepo{}
	svc := NewAuditService(repo, zaptest.NewLogger(t), DefaultConfig())

	assert.Error(t, svc.Stop(time.Second))
}

func TestAuditService_LogEvent(t *testing.T) {
	t.Run("event is persisted by a worker", func(t *testing.T) {
		repo := &recordingDecisionRepo{}
		svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 1})
		require.NoError(t, svc.Start())
		defer svc.Stop(time.Second)

		require.NoError(t, svc.LogEvent(testEvent()))

		waitFor(t, func() bool { return repo.count() == 1 })
		assert.Equal(t, models.DecisionActionAdmissionDenied, repo.all()[0].Action)
	})

	t.Run("rejected before start", func(t *testing.T) {
		repo := &recordingDecisionRepo{}
		svc := NewAuditService(repo, zaptest.NewLogger(t), DefaultConfig())

		assert.Error(t, svc.LogEvent(testEvent()))
	})

	t.Run("full buffer drops instead of blocking", func(t *testing.T) {
		repo := &recordingDecisionRepo{delay: 200 * time.Millisecond}
		svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 1, WorkerCount: 1})
		require.NoError(t, svc.Start())
		defer svc.Stop(2 * time.Second)

		// First event occupies the worker, second fills the buffer
		_ = svc.LogEvent(testEvent())
		_ = svc.LogEvent(testEvent())

		err := svc.LogEvent(testEvent())
		if err == nil {
			// Timing-dependent: a worker may have drained the buffer already
			t.Skip("buffer drained before overflow")
		}
		assert.Contains(t, err.Error(), "buffer full")
	})
}

func TestAuditService_LogEventBlocking(t *testing.T) {
	repo := &recordingDecisionRepo{}
	svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, svc.Start())
	defer svc.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, svc.LogEventBlocking(ctx, testEvent()))
	waitFor(t, func() bool { return repo.count() == 1 })
}

func TestAuditService_StopDrainsPending(t *testing.T) {
	repo := &recordingDecisionRepo{}
	svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, svc.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, svc.LogEvent(testEvent()))
	}

	require.NoError(t, svc.Stop(5*time.Second))
	assert.Equal(t, 50, repo.count(), "all queued events persisted before stop returns")
	assert.Equal(t, 0, svc.GetStats().PendingEvents)
}

func TestAuditService_WorkerSurvivesInsertFailure(t *testing.T) {
	repo := &recordingDecisionRepo{insertErr: fmt.Errorf("connection refused")}
	svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, svc.Start())

	require.NoError(t, svc.LogEvent(testEvent()))
	require.NoError(t, svc.LogEvent(testEvent()))

	// Failures are logged, not fatal; stop still drains cleanly
	require.NoError(t, svc.Stop(time.Second))
}

func TestAuditService_ConvenienceRecords(t *testing.T) {
	repo := &recordingDecisionRepo{}
	svc := NewAuditService(repo, zaptest.NewLogger(t), Config{BufferSize: 20, WorkerCount: 1})
	require.NoError(t, svc.Start())

	resource := &models.Resource{
		Type:      "compute/vm",
		Name:      "web-01",
		Tags:      map[string]string{},
		ScopePath: "/subscriptions/s1/resourceGroups/rg1",
	}
	assignmentID := uuid.New()

	require.NoError(t, svc.LogAdmissionAllowed(resource, "req-1", "10.0.0.1", "kubectl"))
	require.NoError(t, svc.LogAdmissionDenied(resource, models.Denial{
		AssignmentID: assignmentID,
		PolicyID:     "require-env-tag",
		Reason:       "denied by policy",
	}, "req-2", "10.0.0.1", "kubectl"))
	require.NoError(t, svc.LogAuditFinding(resource, models.AuditFinding{
		AssignmentID: assignmentID,
		PolicyID:     "audit-owner-tag",
		Reason:       "flagged",
	}, "req-3", "10.0.0.1", "kubectl"))
	require.NoError(t, svc.LogConfigurationError(resource, models.ConfigurationError{
		AssignmentID: assignmentID,
		PolicyID:     "ghost",
		Kind:         models.ConfigErrorMissingDefinition,
		Detail:       "no definition",
	}, "req-4", "10.0.0.1", "kubectl"))

	def := models.NewPolicyDefinition("require-env-tag", "Require Env", models.ModeIndexed, models.PolicyRule{
		If:     models.Predicate{Field: "tags.Environment", Exists: func() *bool { b := false; return &b }()},
		Effect: models.EffectDeny,
	})
	require.NoError(t, svc.LogDefinitionChange(models.DecisionActionDefinitionCreated, def, "req-5"))

	assignment := models.NewPolicyAssignment("require-env-tag", "/subscriptions/s1")
	require.NoError(t, svc.LogAssignmentChange(models.DecisionActionAssignmentCreated, assignment, "req-6"))

	require.NoError(t, svc.Stop(2*time.Second))

	records := repo.all()
	require.Len(t, records, 6)

	byAction := make(map[models.DecisionAction]*models.DecisionRecord)
	for _, r := range records {
		byAction[r.Action] = r
	}

	denied := byAction[models.DecisionActionAdmissionDenied]
	require.NotNil(t, denied)
	assert.Equal(t, "req-2", denied.RequestID)
	assert.Equal(t, "web-01", denied.ResourceName)
	require.NotNil(t, denied.AssignmentID)
	assert.Equal(t, assignmentID, *denied.AssignmentID)
	require.NotNil(t, denied.PolicyID)
	assert.Equal(t, "require-env-tag", *denied.PolicyID)

	cfgErr := byAction[models.DecisionActionConfigError]
	require.NotNil(t, cfgErr)
	assert.Contains(t, string(cfgErr.Details), "missing_definition")

	defChange := byAction[models.DecisionActionDefinitionCreated]
	require.NotNil(t, defChange)
	assert.Equal(t, "policy_definition", defChange.ResourceType)
	assert.Equal(t, models.ScopePath("/"), defChange.Scope)

	assignChange := byAction[models.DecisionActionAssignmentCreated]
	require.NotNil(t, assignChange)
	assert.Equal(t, assignment.Scope, assignChange.Scope)
}
