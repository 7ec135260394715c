package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/monitoring"
	"github.com/mnrworld/exam-backend/internal/repository"
)

// AttemptStore persists attempts.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a *model.AttemptResult) error
}

// RetryQueue holds attempts that could not be stored yet.
type RetryQueue interface {
	Enqueue(ctx context.Context, a *model.AttemptResult) error
}

// AttemptRecorder writes attempts to the store and hands failed writes to
// the retry queue. The original error is still returned so the student is
// told the result is pending.
type AttemptRecorder struct {
	store AttemptStore
	queue RetryQueue
	log   zerolog.Logger
}

// NewAttemptRecorder creates a new AttemptRecorder.
func NewAttemptRecorder(store AttemptStore, queue RetryQueue, log zerolog.Logger) *AttemptRecorder {
	return &AttemptRecorder{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "attempt_recorder").Logger(),
	}
}

// RecordAttempt implements examsession.Recorder.
func (r *AttemptRecorder) RecordAttempt(ctx context.Context, a *model.AttemptResult) error {
	err := r.store.RecordAttempt(ctx, a)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrAttemptExists) {
		r.log.Info().
			Str("exam_id", a.ExamID).
			Str("student_id", a.StudentID).
			Msg("Earlier attempt already recorded, keeping it")
		return nil
	}

	monitoring.PersistenceFailures.Inc()

	if r.queue == nil {
		return err
	}
	if qerr := r.queue.Enqueue(context.WithoutCancel(ctx), a); qerr != nil {
		r.log.Error().Err(qerr).Str("attempt_id", a.ID.String()).Msg("Failed to queue attempt for retry")
		return errors.Join(err, fmt.Errorf("queue for retry: %w", qerr))
	}
	r.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Attempt queued for retry")
	return err
}
