// Package main provides the Agent Engine entry point: the process that
// hosts the Lifecycle Manager, the Runtime Gateway, and the deployment
// targets backing a live fleet of managed agents.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/agent-core/infrastructure/config"
	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/infrastructure/metrics"
	"github.com/r3e-network/agent-core/infrastructure/middleware"
	"github.com/r3e-network/agent-core/internal/budget"
	"github.com/r3e-network/agent-core/internal/deploy"
	"github.com/r3e-network/agent-core/internal/gateway"
	"github.com/r3e-network/agent-core/internal/lifecycle"
	"github.com/r3e-network/agent-core/internal/permission"
	"github.com/r3e-network/agent-core/internal/persistence/memstore"
	"github.com/r3e-network/agent-core/internal/persistence/pgstore"
	platformdb "github.com/r3e-network/agent-core/internal/platform/database"
)

func main() {
	ctx := context.Background()
	logger := logging.NewFromEnv("engine")

	targetsCfg := config.LoadTargetsConfigOrDefault()

	registry := deploy.NewRegistry()
	if targetsCfg.IsEnabled("container") {
		registry.Register(deploy.NewContainerTarget(logger))
	}
	if targetsCfg.IsEnabled("remote-shell") {
		registry.Register(deploy.NewRemoteShellTarget(logger))
	}
	if baseURL := config.GetEnv("PLATFORM_A_BASE_URL", ""); baseURL != "" && targetsCfg.IsEnabled("platform-a") {
		registry.Register(deploy.NewPlatformATarget(baseURL, config.GetEnv("PLATFORM_A_API_KEY", ""), logger))
	}
	if baseURL := config.GetEnv("PLATFORM_B_BASE_URL", ""); baseURL != "" && targetsCfg.IsEnabled("platform-b") {
		registry.Register(deploy.NewPlatformBTarget(baseURL, config.GetEnv("PLATFORM_B_API_KEY", ""), logger))
	}
	logger.WithFields(map[string]interface{}{"targets": targetsCfg.EnabledTargets()}).Info("deployment targets registered")

	enforcer := budget.New()
	permissions := permission.NewResolver(logger)

	var metricsCollector *metrics.Metrics
	if metrics.Enabled() {
		metricsCollector = metrics.Init("engine")
	}

	manager := lifecycle.NewManager(logger, registry, enforcer, permissions, metricsCollector)

	if err := wirePersistence(ctx, manager, logger); err != nil {
		log.Fatalf("failed to wire persistence: %v", err)
	}

	cronRunner := cron.New()
	if err := manager.StartBirthdayScheduler(cronRunner); err != nil {
		log.Fatalf("failed to start birthday scheduler: %v", err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	gw := gateway.New(manager, logger, nil)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)

	if metricsCollector != nil {
		router.Use(middleware.MetricsMiddleware("engine", metricsCollector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:         config.SplitAndTrimCSV(config.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"Content-Type", "Authorization", "X-Trace-ID"},
		ExposedHeaders:         []string{"X-Trace-ID"},
		AllowCredentials:       true,
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusOK,
		RejectDisallowedOrigin: true,
	}).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	rateLimiter := middleware.NewRateLimiterWithWindow(requestsPerMinute(), time.Minute, requestsPerMinute(), logger)
	stopRateLimit := rateLimiter.StartCleanup(5 * time.Minute)
	defer stopRateLimit()
	router.Use(rateLimiter.Handler)

	router.PathPrefix("/runtime").Handler(http.StripPrefix("/runtime", gw.Router()))
	registerEngineRoutes(router, manager, permissions)

	router.HandleFunc("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	ready := true
	router.HandleFunc("/readyz", middleware.ReadinessHandler(&ready)).Methods(http.MethodGet)

	port := config.GetEnv("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE streams hold the connection open indefinitely
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.OnShutdown(func() {
		gw.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
	})
	shutdown.ListenForSignals()

	log.Printf("engine listening on port %s", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	shutdown.Wait()
}

// wirePersistence selects pgstore when DATABASE_URL is set, falling back to
// an in-memory store for local development and tests.
func wirePersistence(ctx context.Context, manager *lifecycle.Manager, logger *logging.Logger) error {
	dsn := config.GetEnv("DATABASE_URL", "")
	if dsn == "" {
		logger.WithFields(map[string]interface{}{}).Warn("DATABASE_URL not set, using in-memory persistence")
		return manager.SetPersistence(ctx, memstore.New())
	}

	db, err := platformdb.Open(ctx, dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(config.GetEnvInt("DATABASE_MAX_CONNS", 10))
	db.SetConnMaxLifetime(30 * time.Minute)

	return manager.SetPersistence(ctx, pgstore.NewWithDB(db))
}

func requestsPerMinute() int {
	raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_REQUESTS_PER_MINUTE"))
	if raw == "" {
		return 600
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 600
	}
	return parsed
}

// registerEngineRoutes mounts the agent-management and permission-check
// surface distinct from the session-streaming Runtime Gateway.
func registerEngineRoutes(router *mux.Router, manager *lifecycle.Manager, permissions *permission.Resolver) {
	api := router.PathPrefix("/api/engine").Subrouter()
	api.HandleFunc("/agents", listAgentsHandler(manager)).Methods(http.MethodGet)
	api.HandleFunc("/agents", createAgentHandler(manager)).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}", getAgentHandler(manager)).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", updateAgentHandler(manager)).Methods(http.MethodPatch)
	api.HandleFunc("/agents/{id}", deleteAgentHandler(manager)).Methods(http.MethodDelete)
	api.HandleFunc("/agents/{id}/deploy", deployAgentHandler(manager)).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/stop", stopAgentHandler(manager)).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/restart", restartAgentHandler(manager)).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/alerts", listAlertsHandler(manager)).Methods(http.MethodGet)
	api.HandleFunc("/journal/{id}", journalHandler(manager)).Methods(http.MethodGet)
	api.HandleFunc("/targets/{name}/drain", drainTargetHandler(manager)).Methods(http.MethodPost)
	api.HandleFunc("/permissions/check", checkPermissionHandler(permissions)).Methods(http.MethodGet)

	// Out-of-scope surfaces named in SPEC_FULL.md's non-goals: acknowledged,
	// not implemented.
	for _, path := range []string{
		"/messages/{path:.*}",
		"/tasks/{path:.*}",
		"/guardrails/{path:.*}",
		"/compliance/reports/{path:.*}",
	} {
		api.HandleFunc(path, notImplementedHandler).Methods(
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
