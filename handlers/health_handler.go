package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/govgate/govgate/services/audit"
	"github.com/govgate/govgate/services/policy"
	"github.com/govgate/govgate/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse represents operational status information
type StatusResponse struct {
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Cache       policy.CacheStats `json:"cache"`
	Audit       audit.Stats       `json:"audit"`
}

// CacheStatsProvider exposes assignment cache statistics
type CacheStatsProvider interface {
	Stats() policy.CacheStats
}

// AuditStatsProvider exposes audit pipeline statistics
type AuditStatsProvider interface {
	GetStats() audit.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	auditDB     *sql.DB
	cacheStats  CacheStatsProvider
	auditStats  AuditStatsProvider
	version     string
	environment string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db, auditDB *sql.DB, cacheStats CacheStatsProvider, auditStats AuditStatsProvider, version, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		auditDB:     auditDB,
		cacheStats:  cacheStats,
		auditStats:  auditStats,
		version:     version,
		environment: environment,
		logger:      logger,
	}
}

// HandleHealth handles GET /health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /health/ready
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx, h.db); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	// Audit store is checked separately when it lives in its own database
	if h.auditDB != nil && h.auditDB != h.db {
		if err := h.checkDatabase(ctx, h.auditDB); err != nil {
			h.logger.Warn("audit database health check failed", zap.Error(err))
			checks["audit_database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["audit_database"] = "healthy"
		}
	}

	if h.auditStats != nil {
		if h.auditStats.GetStats().Started {
			checks["audit_pipeline"] = "running"
		} else {
			checks["audit_pipeline"] = "stopped"
			allHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /health/status
// Reports cache and audit pipeline statistics for operators
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:     h.version,
		Environment: h.environment,
	}
	if h.cacheStats != nil {
		response.Cache = h.cacheStats.Stats()
	}
	if h.auditStats != nil {
		response.Audit = h.auditStats.GetStats()
	}

	_ = utils.WriteOK(w, response)
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil // No database configured
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
