package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arelec/be-report-validation/internal/client"
	"github.com/arelec/be-report-validation/internal/handler"
	"github.com/arelec/be-report-validation/internal/platform/config"
	"github.com/arelec/be-report-validation/internal/platform/database"
	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/platform/metrics"
	"github.com/arelec/be-report-validation/internal/repository"
	"github.com/arelec/be-report-validation/internal/service"
	"github.com/arelec/be-report-validation/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Report Validation Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	configRepo := repository.NewWorkflowConfigRepository(db)
	assignmentRepo := repository.NewValidatorAssignmentRepository(db)
	caseRepo := repository.NewValidationCaseRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize event publisher. An empty NATS URL disables publishing.
	publisher, err := client.NewNotificationPublisher(cfg.NATS.URL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()

	// Identity client: remote service when configured, otherwise a static
	// admin list from the environment.
	var identity service.IdentityClient
	if identityURL := os.Getenv("IDENTITY_SERVICE_URL"); identityURL != "" {
		identity = client.NewIdentityHTTPClient(identityURL)
		log.Info().Str("identity_url", identityURL).Msg("Identity service client initialized")
	} else {
		admins := parseAdminIDs(os.Getenv("ADMIN_USER_IDS"))
		identity = client.NewStaticIdentityClient(admins...)
		log.Info().Int("admin_count", len(admins)).Msg("Using static administrator list")
	}

	m := metrics.New()

	// Initialize services
	engine := service.NewWorkflowEngineService(
		configRepo, assignmentRepo, caseRepo, auditRepo,
		identity, publisher, workflow.SystemClock(), m, log,
	)
	admin := service.NewWorkflowAdminService(configRepo, assignmentRepo, caseRepo, log)

	// Expiry sweep worker
	if cfg.Sweep.Enabled {
		sweeper := service.NewExpirySweeper(engine, cfg.Sweep.Interval, cfg.Sweep.ReminderInterval, log)
		go sweeper.Run(ctx)
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(engine, admin, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	httpHandler.Routes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// requestLogger logs each request with method, path, status and duration.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// parseAdminIDs parses a comma-separated list of user ids.
func parseAdminIDs(raw string) []workflow.UserID {
	var out []workflow.UserID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, workflow.UserID(id))
		}
	}
	return out
}
