package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/database"
	"github.com/stemsi/examroom/internal/grading"
	"github.com/stemsi/examroom/internal/handler"
	"github.com/stemsi/examroom/internal/logger"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/middleware"
	"github.com/stemsi/examroom/internal/repository"
	"github.com/stemsi/examroom/internal/router"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/unlock"
	"github.com/stemsi/examroom/internal/validator"
	"github.com/stemsi/examroom/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Exam Room")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	m := metrics.New(true)

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)
	dashboardRepo := repository.NewDashboardRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	gate := unlock.NewGate(unlock.NewRedisStore(rdb, config.CacheKey.UnlockPrefix()))
	feed := service.NewRedisFeed(rdb)

	authService := service.NewAuthService(cfg, rdb, userRepo)
	userService := service.NewUserService(userRepo, authService, cfg.AllowRegistration)
	examService := service.NewExamService(examRepo, questionRepo)
	sessionService := service.NewExamSessionService(
		examRepo, questionRepo, submissionRepo, gate, feed, m, service.SessionConfigFrom(cfg), log,
	)
	resultService := service.NewResultService(submissionRepo, examRepo, questionRepo)
	engine := grading.NewEngine(submissionRepo, questionRepo, log)
	gradingService := service.NewGradingService(engine, submissionRepo, userRepo, m, log)
	monitorService := service.NewMonitorService(monitorRepo, sessionService)
	dashboardService := service.NewDashboardService(dashboardRepo, sessionService)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService),
		StudentPortal: handler.NewStudentPortalHandler(sessionService, resultService),
		User:          handler.NewUserHandler(userService),
		Exam:          handler.NewExamHandler(examService),
		Grading:       handler.NewGradingHandler(gradingService),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Dashboard:     handler.NewDashboardHandler(dashboardService),
		Monitor:       handler.NewMonitorHandler(rdb, examService, monitorService, log),
		System:        handler.NewSystemHandler(pool, rdb, sessionService, log),
	}

	limiters := &router.Limiters{
		Login:  middleware.NewRateLimiter(cfg.LoginRatePerMinute),
		Unlock: middleware.NewRateLimiter(cfg.UnlockRatePerMinute).ByUser(),
	}
	stopLimiters := make(chan struct{})
	go limiters.Login.Run(stopLimiters)
	go limiters.Unlock.Run(stopLimiters)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	violationWorker := worker.NewViolationWorker(worker.NewRedisQueue(rdb), monitorRepo, log)
	go func() {
		violationWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, m, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Submit every running attempt while the stores are still up.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+5*time.Second)
	if err := sessionService.Shutdown(sessionCtx); err != nil {
		log.Error().Err(err).Msg("Some attempts were not submitted")
	}
	sessionCancel()

	// 2. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(stopLimiters)

	// 3. Stop background workers and wait for the buffer to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Violation worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
