package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/service"
)

const healthCheckTimeout = 2 * time.Second

// SystemHandler reports service health.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  *service.ExamSessionService
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessions *service.ExamSessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Checks         map[string]string `json:"checks"`
	ActiveSessions int               `json:"active_sessions"`
	RetryQueue     int64             `json:"retry_queue"`
	Goroutines     int               `json:"goroutines"`
	GoVersion      string            `json:"go_version"`
}

// Health godoc
// GET /health
// Pings Postgres and Redis. Returns 503 if either is down.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Checks:     map[string]string{"postgres": "ok", "redis": "ok"},
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}
	if h.sessions != nil {
		report.ActiveSessions = h.sessions.ActiveCount()
	}

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			report.Checks["postgres"] = err.Error()
			report.Status = "degraded"
		}
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		report.Checks["redis"] = err.Error()
		report.Status = "degraded"
	} else {
		report.RetryQueue, _ = h.rdb.LLen(ctx, config.WorkerKey.PersistAttemptsQueue).Result()
	}

	status := http.StatusOK
	if report.Status != "ok" {
		h.log.Warn().Interface("checks", report.Checks).Msg("Health check degraded")
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
