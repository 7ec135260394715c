package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/database"
	"github.com/mnrworld/exam-backend/internal/handler"
	"github.com/mnrworld/exam-backend/internal/logger"
	"github.com/mnrworld/exam-backend/internal/middleware"
	"github.com/mnrworld/exam-backend/internal/monitoring"
	"github.com/mnrworld/exam-backend/internal/questionbank"
	"github.com/mnrworld/exam-backend/internal/repository"
	"github.com/mnrworld/exam-backend/internal/router"
	"github.com/mnrworld/exam-backend/internal/service"
	"github.com/mnrworld/exam-backend/internal/validator"
	"github.com/mnrworld/exam-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("attempt_policy", string(cfg.AttemptPolicy)).
		Msg("Starting exam backend")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	monitoring.Init()

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

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool, cfg.AttemptPolicy)

	// ─── Question Bank ─────────────────────────────────────────────────
	if cfg.QuestionAPIKey == "" {
		log.Warn().Msg("QUESTION_API_KEY is empty; the question bank will likely reject requests")
	}
	questionClient := questionbank.NewClient(cfg.QuestionAPIBaseURL, cfg.QuestionAPIKey, cfg.QuestionAPITimeout, log)
	questions := questionbank.NewCachedSource(questionClient, rdb, cfg.QuestionCacheTTL, log)

	// ─── Initialize Services ──────────────────────────────────────────
	attemptQueue := worker.NewAttemptQueue(rdb)
	recorder := service.NewAttemptRecorder(attemptRepo, attemptQueue, log)

	authService := service.NewAuthService(cfg, rdb, studentRepo, log)
	sessionService := service.NewExamSessionService(
		examRepo,
		studentRepo,
		questions,
		recorder,
		service.SessionConfigFromConfig(cfg),
		log,
	)
	resultService := service.NewResultService(attemptRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		StudentPortal: handler.NewStudentPortalHandler(sessionService, resultService, log),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(pool, rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	retryWorker := worker.NewAttemptRetryWorker(attemptRepo, rdb, log)
	go func() {
		defer close(workerDone)
		retryWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	loginLimiter := middleware.NewRateLimiter(cfg.LoginRatePerMinute, time.Minute)
	defer loginLimiter.Stop()

	r := router.SetupRouter(authService, handlers, loginLimiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop running sessions; this also closes their WebSocket streams.
	sessionService.Shutdown()

	// 3. Stop the retry worker and let it flush its batch.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Retry worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
