package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/monitoring"
	"github.com/mnrworld/exam-backend/internal/repository"
)

const (
	AttemptBatchSize    = 50
	AttemptBatchTimeout = 2 * time.Second
	AttemptPollTimeout  = 1 * time.Second
)

// AttemptQueue is the Redis list that holds attempts waiting to be stored.
type AttemptQueue struct {
	rdb *redis.Client
}

// NewAttemptQueue creates a new AttemptQueue.
func NewAttemptQueue(rdb *redis.Client) *AttemptQueue {
	return &AttemptQueue{rdb: rdb}
}

// Enqueue appends an attempt to the retry queue.
func (q *AttemptQueue) Enqueue(ctx context.Context, a *model.AttemptResult) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, raw).Err()
}

// BatchStore writes attempts to the database.
type BatchStore interface {
	RecordAttempt(ctx context.Context, a *model.AttemptResult) error
	RecordBatch(ctx context.Context, attempts []*model.AttemptResult) error
}

// AttemptRetryWorker drains the retry queue into the database in batches.
type AttemptRetryWorker struct {
	store BatchStore
	rdb   *redis.Client
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
	backoff      time.Duration
}

func NewAttemptRetryWorker(store BatchStore, rdb *redis.Client, log zerolog.Logger) *AttemptRetryWorker {
	return &AttemptRetryWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "attempt_retry_worker").Logger(),
		batchSize:    AttemptBatchSize,
		batchTimeout: AttemptBatchTimeout,
		pollTimeout:  AttemptPollTimeout,
		backoff:      5 * time.Second,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *AttemptRetryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptRetryWorker started")

	batch := make([]*model.AttemptResult, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			if w.flushSafe(ctx, batch) > 0 {
				w.pause(ctx)
			}
			batch = batch[:0]
			lastFlush = time.Now()
		}
		monitoring.RetryQueueDepth.Set(float64(len(batch)))

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.PersistAttemptsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					w.pause(ctx)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var a model.AttemptResult
			if err := json.Unmarshal([]byte(item[1]), &a); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &a)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-attempt fallback
// ----------------------------------------------------------------

// flushSafe stores the batch and returns how many attempts went back to the queue.
func (w *AttemptRetryWorker) flushSafe(ctx context.Context, batch []*model.AttemptResult) int {
	if len(batch) == 0 {
		return 0
	}

	err := w.store.RecordBatch(ctx, batch)
	if err == nil {
		w.log.Info().Int("attempts", len(batch)).Msg("Queued attempts stored")
		return 0
	}
	w.log.Warn().Err(err).Msg("batch insert failed, using fallback")

	requeued := 0
	for _, a := range batch {
		err := w.store.RecordAttempt(ctx, a)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrAttemptExists):
			w.log.Info().Str("attempt_id", a.ID.String()).Msg("Earlier attempt already stored, dropping")
		default:
			w.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("persistSingle failed, requeueing")
			raw, _ := json.Marshal(a)
			if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistAttemptsQueue, raw).Err(); err != nil {
				w.log.Error().Err(err).RawJSON("attempt", raw).Msg("Requeue failed, attempt lost")
				continue
			}
			requeued++
		}
	}
	return requeued
}

func (w *AttemptRetryWorker) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.backoff):
	}
}
