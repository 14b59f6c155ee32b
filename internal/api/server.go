package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/auth"
	"github.com/secfuse/secfuse/internal/config"
	"github.com/secfuse/secfuse/internal/models"
	"github.com/secfuse/secfuse/internal/notifications"
	"github.com/secfuse/secfuse/internal/queue"
	"github.com/secfuse/secfuse/internal/reports"
	"github.com/secfuse/secfuse/internal/rules"
	"github.com/secfuse/secfuse/internal/scheduler"
	"github.com/secfuse/secfuse/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	queue  *queue.Queue
	http   *http.Server
	logger *slog.Logger

	registry *adapters.Registry

	authService *auth.Service
	userStore   auth.UserStore

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	rulesEngine *rules.Engine
	rulesStore  rules.Store

	reportGenerator *reports.Generator

	notificationService *notifications.Service

	correlator func(ctx context.Context) error
}

// Deps carries the shared components built in main. The store and queue are
// shared with the ingestion workers; the server must not own their lifecycle.
type Deps struct {
	Store    *store.Store
	Queue    *queue.Queue
	Registry *adapters.Registry
	Notifier *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCorrelator enables on-demand correlation recomputes over the API.
func WithCorrelator(recompute func(ctx context.Context) error) ServerOption {
	return func(s *Server) {
		s.correlator = recompute
	}
}

func NewServer(cfg *config.Config, deps Deps, opts ...ServerOption) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Server{
		cfg:                 cfg,
		router:              chi.NewRouter(),
		store:               deps.Store,
		queue:               deps.Queue,
		registry:            deps.Registry,
		notificationService: deps.Notifier,
		logger:              slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(s.store.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.schedulerStore = scheduler.NewPostgresStore(s.store.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)

	s.rulesStore = rules.NewPostgresStore(s.store.DB())
	s.rulesEngine = rules.NewEngine(s.rulesStore, s.store, s.notificationService, s.logger)

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{store: s.store})

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Scheduler exposes the job scheduler so main can register handlers before Run.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// RulesEngine exposes the automation rule engine for the ingestion workers.
func (s *Server) RulesEngine() *rules.Engine {
	return s.rulesEngine
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Post("/ingest", s.ingest)
			r.Get("/sources", s.listSources)

			r.Route("/findings", func(r chi.Router) {
				r.Get("/", s.listFindings)
				r.Get("/{identity}", s.getFinding)
				r.Get("/{identity}/lifecycle", s.getFindingLifecycle)
				r.Get("/{identity}/groups", s.getFindingGroups)
				r.Get("/{identity}/ocsf", s.getFindingOCSF)
				r.Patch("/{identity}/workflow", s.transitionWorkflow)
				r.Patch("/{identity}/verification", s.setVerification)
				r.Post("/{identity}/notes", s.addNote)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", s.listGroups)
				r.Get("/{groupID}", s.getGroup)
			})

			r.Post("/correlate/run", s.runCorrelation)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.listRules)
				r.Get("/{ruleID}", s.getRule)
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/", s.createRule)
					r.Put("/{ruleID}", s.updateRule)
					r.Delete("/{ruleID}", s.deleteRule)
					r.Post("/reload", s.reloadRules)
				})
			})

			r.Route("/diagnostics", func(r chi.Router) {
				r.Get("/cross-references", s.listCrossReferences)
				r.Post("/cross-references/{diagnosticID}/resolve", s.resolveCrossReference)
			})

			r.Route("/queue", func(r chi.Router) {
				r.Get("/stats", s.queueStats)
				r.Get("/dead-letters", s.listDeadLetters)
				r.Get("/workers", s.listWorkers)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/types", s.getReportTypes)
				r.Post("/generate", s.generateReport)
			})

			r.Get("/stats", s.getStats)
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	if err := s.rulesEngine.LoadRules(ctx); err != nil {
		s.logger.Error("failed to load automation rules", "error", err)
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

const reportFetchLimit = 10000

type reportDataProvider struct {
	store *store.Store
}

func (p *reportDataProvider) GetFindings(ctx context.Context, filter reports.FindingsFilter) ([]models.Finding, error) {
	storeFilter := store.Filter{
		MinSeverity:    filter.MinSeverity,
		WorkflowStates: filter.States,
		ScopeAccounts:  filter.AccountIDs,
		Limit:          1000,
	}
	if filter.DateFrom != nil {
		storeFilter.Since = *filter.DateFrom
	}
	if filter.DateTo != nil {
		storeFilter.Until = *filter.DateTo
	}

	var all []models.Finding
	for {
		page, err := p.store.Query(ctx, storeFilter)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Findings...)
		if page.NextCursor == "" || len(all) >= reportFetchLimit {
			break
		}
		storeFilter.Cursor = page.NextCursor
	}
	return all, nil
}

func (p *reportDataProvider) GetGroups(ctx context.Context) ([]models.FindingGroup, error) {
	return p.store.ListGroups(ctx)
}

func (p *reportDataProvider) GetStats(ctx context.Context) (*reports.Stats, error) {
	raw, err := p.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &reports.Stats{SourceCounts: make(map[string]int)}
	for severity, byState := range raw {
		for state, count := range byState {
			stats.TotalFindings += count
			switch severity {
			case models.SeverityCritical.String():
				stats.CriticalFindings += count
			case models.SeverityHigh.String():
				stats.HighFindings += count
			case models.SeverityMedium.String():
				stats.MediumFindings += count
			case models.SeverityLow.String():
				stats.LowFindings += count
			}
			switch models.WorkflowState(state) {
			case models.WorkflowNew:
				stats.NewFindings += count
			case models.WorkflowSuppressed:
				stats.SuppressedCount += count
			case models.WorkflowResolved:
				stats.ResolvedFindings += count
			}
		}
	}

	if sources, err := p.store.SourceCounts(ctx); err == nil {
		stats.SourceCounts = sources
	}

	groups, err := p.store.ListGroups(ctx)
	if err == nil {
		stats.GroupCount = len(groups)
	}

	return stats, nil
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	NextCursor string `json:"next_cursor,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
