package app

import (
	"context"
	"fmt"

	"github.com/govgate/govgate/auth"
	"github.com/govgate/govgate/config"
	"github.com/govgate/govgate/middleware"
	"github.com/govgate/govgate/repositories"
	"github.com/govgate/govgate/repositories/postgres"
	"github.com/govgate/govgate/services/admission"
	"github.com/govgate/govgate/services/audit"
	"github.com/govgate/govgate/services/evaluation"
	"github.com/govgate/govgate/services/policy"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Definitions repositories.DefinitionRepository
	Assignments repositories.AssignmentRepository
	Decisions   repositories.DecisionRepository
	TxManager   repositories.TransactionManager

	// Services
	Cache     *policy.AssignmentCache
	Policy    *policy.PolicyService
	Engine    *evaluation.Engine
	Audit     *audit.AuditService
	Admission *admission.AdmissionService

	// Auth
	TokenIssuer    *auth.Validator
	AuthMiddleware *middleware.AuthMiddleware

	cacheStop chan struct{}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initServices(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection(s) and schemas
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Decision records may live in a separate audit DB
	if err := factory.InitDecisionSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize decision schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Definitions = repos.Definitions
	d.Assignments = repos.Assignments
	d.Decisions = repos.Decisions
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the cache, policy, evaluation, audit and admission layers
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Cache = policy.NewAssignmentCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	d.cacheStop = make(chan struct{})
	go d.Cache.StartCleanupWorker(cfg.Cache.CleanupInterval, d.cacheStop)

	d.Policy = policy.NewPolicyService(d.Definitions, d.Assignments, d.TxManager, d.Cache, d.Logger)

	d.Engine = evaluation.NewEngine(evaluation.Options{
		StrictParameters:  cfg.Engine.StrictParameters,
		CollectAllDenials: cfg.Engine.CollectAllDenials,
	}, d.Logger)

	d.Audit = audit.NewAuditService(d.Decisions, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})

	d.Admission = admission.NewAdmissionService(
		d.Policy,
		d.Engine,
		d.Audit,
		admission.Options{FailOpen: cfg.Engine.FailOpen},
		d.Logger,
	)

	d.Logger.Info("services initialized",
		zap.Bool("strict_parameters", cfg.Engine.StrictParameters),
		zap.Bool("collect_all_denials", cfg.Engine.CollectAllDenials),
		zap.Bool("fail_open", cfg.Engine.FailOpen))
}

// initAuth wires the JWT validator and auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, protected routes will reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	validator := auth.NewValidator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	d.TokenIssuer = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(&tokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("auth initialized", zap.String("issuer", cfg.Auth.Issuer))
}

// Start starts background workers (audit pipeline)
func (d *Dependencies) Start() error {
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit pipeline: %w", err)
	}
	return nil
}

// tokenValidatorAdapter adapts auth.Validator to middleware.TokenValidator
type tokenValidatorAdapter struct {
	validator *auth.Validator
}

func (a *tokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Sub:    parsed.Sub,
		Email:  parsed.Email,
		Role:   parsed.Role,
		Groups: parsed.Groups,
		Iss:    parsed.Issuer,
		Exp:    parsed.ExpiresAt.Unix(),
		Iat:    parsed.IssuedAt.Unix(),
	}, nil
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the audit pipeline before closing its database
	if d.Audit != nil {
		if err := d.Audit.Stop(d.Config.Audit.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit pipeline: %w", err))
		} else {
			d.Logger.Info("audit pipeline stopped")
		}
	}

	if d.cacheStop != nil {
		close(d.cacheStop)
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
