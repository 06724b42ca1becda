package cmd

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"knoweasy/config"
	"knoweasy/handlers"
	"knoweasy/logger"
	"knoweasy/metrics"
	"knoweasy/middleware"
	"knoweasy/models"
	"knoweasy/routes"
	"knoweasy/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket hub and attempt sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg := config.Load()
	log := logger.NewLogger(serviceName, cfg.LogLevel)

	db, err := openDB(cfg, log, cfg.AutoMigrate)
	if err != nil {
		log.WithError(err).Error("Failed to initialize database")
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable; test cache and parent links will fail until it recovers")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, "tests")

	var attemptService *services.AttemptService
	hub := services.NewHub(services.AttemptLookupFunc(func(ctx context.Context, id uint) (*models.Attempt, error) {
		return attemptService.GetAttempt(ctx, id)
	}), log.Entry)
	attemptService = services.NewAttemptService(db, attemptPolicy(cfg),
		services.WithMetrics(m),
		services.WithLogger(log.Entry),
		services.WithPublisher(hub),
	)
	testService := services.NewTestService(db, services.NewRedisTestCache(redisClient, cfg.TestCacheTTL, log.Entry))
	resultService := services.NewResultService(db, services.NewRedisParentDirectory(redisClient))
	sweeper := services.NewSweeper(attemptService, cfg.Attempts.SweepInterval, log.Entry)

	go hub.Run(ctx)
	go sweeper.Run(ctx)
	go recordPoolStats(ctx, m, sqlDB.Stats)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(m.Middleware())

	routes.SetupRoutes(router, routes.Handlers{
		Tests:    handlers.NewTestHandler(testService),
		Attempts: handlers.NewAttemptHandler(attemptService, resultService, hub, originChecker(cfg.AllowedOrigins)),
		Parents:  handlers.NewParentHandler(resultService),
		Admin:    handlers.NewAdminHandler(testService, attemptService),
	}, registry, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              cfg.BindAddress + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("Server failed")
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func recordPoolStats(ctx context.Context, m *metrics.Metrics, stats func() sql.DBStats) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		m.RecordDBPoolStats(stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// originChecker applies the CORS allow-list to websocket upgrades.
func originChecker(allowed []string) func(r *http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
