package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/govgate/govgate/models"
	"github.com/govgate/govgate/repositories"
	"go.uber.org/zap"
)

// DecisionEvent represents a decision record queued for persistence
type DecisionEvent struct {
	Record   *models.DecisionRecord
	Priority int // Higher priority events are processed first (for future enhancements)
}

// AuditService persists decision records asynchronously
type AuditService struct {
	decisionRepo repositories.DecisionRepository
	logger       *zap.Logger
	eventChan    chan *DecisionEvent
	workerCount  int
	bufferSize   int
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	mu           sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000, // Buffer up to 10k events
		WorkerCount: 5,     // 5 concurrent workers
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(decisionRepo repositories.DecisionRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		decisionRepo: decisionRepo,
		logger:       logger,
		eventChan:    make(chan *DecisionEvent, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		ctx:          ctx,
		cancel:       cancel,
		started:      false,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	// Start worker goroutines
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// Close the event channel (no more events will be accepted)
	close(s.eventChan)

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *DecisionEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	// Try to send event to channel (non-blocking)
	select {
	case s.eventChan <- event:
		return nil
	default:
		// Channel is full, log warning and drop event
		s.logger.Warn("decision event channel full, dropping event",
			zap.String("action", string(event.Record.Action)),
			zap.String("scope", string(event.Record.Scope)))
		return fmt.Errorf("decision event buffer full")
	}
}

// LogEventBlocking logs an event synchronously (blocking)
// Waits until event is queued or context is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, event *DecisionEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process decision event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Record.Action)),
				zap.String("scope", string(event.Record.Scope)))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent persists a single decision record
func (s *AuditService) processEvent(event *DecisionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.decisionRepo.Insert(ctx, event.Record); err != nil {
		return fmt.Errorf("failed to insert decision record: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for logging common events

// LogAdmissionAllowed records an allowed admission decision
func (s *AuditService) LogAdmissionAllowed(resource *models.Resource, requestID, ipAddress, userAgent string) error {
	record := models.NewDecisionRecord(models.DecisionActionAdmissionAllowed, resource.Type, resource.ScopePath)
	record.WithResourceName(resource.Name)
	record.WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(&DecisionEvent{Record: record, Priority: 1})
}

// LogAdmissionDenied records a denied admission decision. One record is
// written per denial so each blocking assignment is traceable.
func (s *AuditService) LogAdmissionDenied(resource *models.Resource, denial models.Denial, requestID, ipAddress, userAgent string) error {
	record := models.NewDecisionRecord(models.DecisionActionAdmissionDenied, resource.Type, resource.ScopePath)
	record.WithResourceName(resource.Name)
	record.WithAssignment(denial.AssignmentID, denial.PolicyID)
	record.WithReason(denial.Reason)
	record.WithRequest(requestID, ipAddress, userAgent)

	// Denials block real requests; keep them ahead of bookkeeping events.
	return s.LogEvent(&DecisionEvent{Record: record, Priority: 2})
}

// LogAuditFinding records a non-blocking audit finding
func (s *AuditService) LogAuditFinding(resource *models.Resource, finding models.AuditFinding, requestID, ipAddress, userAgent string) error {
	record := models.NewDecisionRecord(models.DecisionActionAuditFinding, resource.Type, resource.ScopePath)
	record.WithResourceName(resource.Name)
	record.WithAssignment(finding.AssignmentID, finding.PolicyID)
	record.WithReason(finding.Reason)
	record.WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(&DecisionEvent{Record: record, Priority: 1})
}

// LogConfigurationError records an assignment excluded from evaluation
// because of its own misconfiguration
func (s *AuditService) LogConfigurationError(resource *models.Resource, cfgErr models.ConfigurationError, requestID, ipAddress, userAgent string) error {
	record := models.NewDecisionRecord(models.DecisionActionConfigError, resource.Type, resource.ScopePath)
	record.WithResourceName(resource.Name)
	record.WithAssignment(cfgErr.AssignmentID, cfgErr.PolicyID)
	record.WithReason(cfgErr.Detail)
	record.WithDetails(map[string]interface{}{
		"kind": cfgErr.Kind,
	})
	record.WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(&DecisionEvent{Record: record, Priority: 2})
}

// LogDefinitionChange records a definition authoring action
func (s *AuditService) LogDefinitionChange(action models.DecisionAction, def *models.PolicyDefinition, requestID string) error {
	record := models.NewDecisionRecord(action, "policy_definition", "/")
	record.PolicyID = &def.ID
	record.WithResourceName(def.DisplayName)
	record.WithDetails(map[string]interface{}{
		"mode":   def.Mode,
		"effect": def.Rule.Effect,
	})
	record.RequestID = requestID

	return s.LogEvent(&DecisionEvent{Record: record, Priority: 1})
}

// LogAssignmentChange records an assignment authoring action
func (s *AuditService) LogAssignmentChange(action models.DecisionAction, assignment *models.PolicyAssignment, requestID string) error {
	record := models.NewDecisionRecord(action, "policy_assignment", assignment.Scope)
	record.WithResourceName(assignment.DisplayName)
	record.WithAssignment(assignment.ID, assignment.PolicyID)
	record.WithDetails(map[string]interface{}{
		"enabled": assignment.Enabled,
	})
	record.RequestID = requestID

	return s.LogEvent(&DecisionEvent{Record: record, Priority: 1})
}
