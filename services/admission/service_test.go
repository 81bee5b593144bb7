package admission

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/services"
	"github.com/govgate/govgate/services/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubSource serves a fixed resolved assignment set
type stubSource struct {
	resolved []*models.ResolvedAssignment
	err      error
	calls    int
}

func (s *stubSource) GetResolvedForScope(ctx context.Context, scope models.ScopePath) ([]*models.ResolvedAssignment, error) {
	s.calls++
	return s.resolved, s.err
}

// recordingSink captures emitted decision records
type recordingSink struct {
	mu           sync.Mutex
	allowed      int
	denials      []models.Denial
	findings     []models.AuditFinding
	configErrors []models.ConfigurationError
	failWith     error
}

func (s *recordingSink) LogAdmissionAllowed(resource *models.Resource, requestID, ipAddress, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.allowed++
	return nil
}

func (s *recordingSink) LogAdmissionDenied(resource *models.Resource, denial models.Denial, requestID, ipAddress, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.denials = append(s.denials, denial)
	return nil
}

func (s *recordingSink) LogAuditFinding(resource *models.Resource, finding models.AuditFinding, requestID, ipAddress, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, finding)
	return nil
}

func (s *recordingSink) LogConfigurationError(resource *models.Resource, cfgErr models.ConfigurationError, requestID, ipAddress, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configErrors = append(s.configErrors, cfgErr)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func denySet(scope models.ScopePath) []*models.ResolvedAssignment {
	def := models.NewPolicyDefinition("require-env-tag", "Require Env", models.ModeIndexed, models.PolicyRule{
		If:     models.Predicate{Field: "tags.Environment", Exists: boolPtr(false)},
		Effect: models.EffectDeny,
	})
	a := models.NewPolicyAssignment(def.ID, scope)
	return []*models.ResolvedAssignment{{Assignment: a, Definition: def}}
}

func auditSet(scope models.ScopePath) []*models.ResolvedAssignment {
	set := denySet(scope)
	set[0].Definition.Rule.Effect = models.EffectAudit
	return set
}

func taggedResource(tags map[string]string) *models.Resource {
	return &models.Resource{
		Type:      "compute/vm",
		Name:      "web-01",
		Tags:      tags,
		ScopePath: "/subscriptions/s1/resourceGroups/rg1",
	}
}

func newService(t *testing.T, source AssignmentSource, sink DecisionSink, opts Options) *AdmissionService {
	t.Helper()
	engine := evaluation.NewEngine(evaluation.Options{}, zaptest.NewLogger(t))
	return NewAdmissionService(source, engine, sink, opts, zaptest.NewLogger(t))
}

func TestReview_Allowed(t *testing.T) {
	source := &stubSource{resolved: denySet("/subscriptions/s1")}
	sink := &recordingSink{}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{"Environment": "prod"}),
		RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, 1, sink.allowed)
	assert.Empty(t, sink.denials)
}

func TestReview_Denied(t *testing.T) {
	source := &stubSource{resolved: denySet("/subscriptions/s1")}
	sink := &recordingSink{}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}),
		RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.Len(t, sink.denials, 1)
	assert.Equal(t, "require-env-tag", sink.denials[0].PolicyID)
	assert.Equal(t, 0, sink.allowed)
}

func TestReview_RootScopedAssignmentDenies(t *testing.T) {
	// An assignment at the root scope applies to every resource, no matter
	// how deep its scope path.
	source := &stubSource{resolved: denySet("/")}
	sink := &recordingSink{}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}),
		RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.Len(t, sink.denials, 1)
	assert.Equal(t, "require-env-tag", sink.denials[0].PolicyID)
}

func TestReview_AuditFindingRecordedButAllowed(t *testing.T) {
	source := &stubSource{resolved: auditSet("/subscriptions/s1")}
	sink := &recordingSink{}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}),
		RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	require.Len(t, sink.findings, 1)
	assert.Equal(t, 1, sink.allowed)
}

func TestReview_ConfigErrorsEmitted(t *testing.T) {
	ghost := models.NewPolicyAssignment("ghost", "/subscriptions/s1")
	source := &stubSource{resolved: []*models.ResolvedAssignment{{Assignment: ghost}}}
	sink := &recordingSink{}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}),
		RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	require.Len(t, sink.configErrors, 1)
	assert.Equal(t, models.ConfigErrorMissingDefinition, sink.configErrors[0].Kind)
}

func TestReview_InvalidResource(t *testing.T) {
	source := &stubSource{}
	svc := newService(t, source, &recordingSink{}, Options{})

	_, err := svc.Review(context.Background(), nil, RequestMeta{})
	assert.True(t, services.IsValidationError(err))

	_, err = svc.Review(context.Background(), &models.Resource{ScopePath: "/s"}, RequestMeta{})
	assert.True(t, services.IsValidationError(err))

	assert.Equal(t, 0, source.calls, "no fetch for invalid input")
}

func TestReview_FetchFailure(t *testing.T) {
	t.Run("fail-closed by default", func(t *testing.T) {
		source := &stubSource{err: fmt.Errorf("connection refused")}
		sink := &recordingSink{}
		svc := newService(t, source, sink, Options{})

		_, err := svc.Review(context.Background(), taggedResource(map[string]string{}), RequestMeta{})
		assert.True(t, services.IsInternalError(err))
		assert.Equal(t, 0, sink.allowed)
	})

	t.Run("fail-open admits and records", func(t *testing.T) {
		source := &stubSource{err: fmt.Errorf("connection refused")}
		sink := &recordingSink{}
		svc := newService(t, source, sink, Options{FailOpen: true})

		result, err := svc.Review(context.Background(), taggedResource(map[string]string{}), RequestMeta{RequestID: "req-1"})
		require.NoError(t, err)

		assert.True(t, result.Allowed)
		assert.Equal(t, 1, sink.allowed)
	})
}

func TestReview_SinkFailureDoesNotAffectDecision(t *testing.T) {
	source := &stubSource{resolved: denySet("/subscriptions/s1")}
	sink := &recordingSink{failWith: fmt.Errorf("buffer full")}
	svc := newService(t, source, sink, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}), RequestMeta{})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestReview_NilSink(t *testing.T) {
	source := &stubSource{resolved: denySet("/subscriptions/s1")}
	svc := newService(t, source, nil, Options{})

	result, err := svc.Review(context.Background(), taggedResource(map[string]string{}), RequestMeta{})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}
