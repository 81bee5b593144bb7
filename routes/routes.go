package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/govgate/govgate/app"
	"github.com/govgate/govgate/handlers"
	"github.com/govgate/govgate/middleware"
)

// Version is the reported service version
const Version = "0.1.0"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health wiring tolerates partially-built dependencies so the route
	// tree can be stood up without live infrastructure
	var mainDB, auditDB *sql.DB
	if deps.DB != nil {
		mainDB = deps.DB.DB
	}
	if deps.RepoFactory != nil {
		if db := deps.RepoFactory.GetAuditDB(); db != nil {
			auditDB = db.DB
		}
	}
	var cacheStats handlers.CacheStatsProvider
	if deps.Cache != nil {
		cacheStats = deps.Cache
	}
	var auditStats handlers.AuditStatsProvider
	if deps.Audit != nil {
		auditStats = deps.Audit
	}

	healthHandler := handlers.NewHealthHandler(
		mainDB, auditDB, cacheStats, auditStats,
		Version, deps.Config.Environment, deps.Logger)
	admissionHandler := handlers.NewAdmissionHandler(deps.Admission, deps.Logger)
	definitionHandler := handlers.NewDefinitionHandler(deps.Policy, deps.Audit, deps.Logger)
	assignmentHandler := handlers.NewAssignmentHandler(deps.Policy, deps.Audit, deps.Logger)
	decisionHandler := handlers.NewDecisionHandler(deps.Decisions, deps.Logger)

	// Health check endpoints
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/ready", healthHandler.HandleReadiness)
	r.Get("/health/status", healthHandler.HandleStatus)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Admission gate (requires authentication)
		r.Route("/admission", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/evaluate", admissionHandler.HandleEvaluate)
		})

		// Policy definition authoring (writes require admin role)
		r.Route("/definitions", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", definitionHandler.HandleList)
			r.Get("/{id}", definitionHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Post("/", definitionHandler.HandleCreate)
				r.Put("/{id}", definitionHandler.HandleUpdate)
				r.Delete("/{id}", definitionHandler.HandleDelete)
			})
		})

		// Policy assignment authoring (writes require admin role)
		r.Route("/assignments", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", assignmentHandler.HandleList)
			r.Get("/{id}", assignmentHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Post("/", assignmentHandler.HandleCreate)
				r.Put("/{id}", assignmentHandler.HandleUpdate)
				r.Delete("/{id}", assignmentHandler.HandleDelete)
			})
		})

		// Decision audit trail (require admin role)
		r.Route("/decisions", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/", decisionHandler.HandleList)
			r.Get("/{id}", decisionHandler.HandleGet)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
