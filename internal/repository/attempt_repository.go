package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/model"
)

// AttemptRepository stores submitted attempts in student_exams.
// Inserts are idempotent on the attempt id, so a retried insert of an
// attempt that already landed is a no-op.
type AttemptRepository struct {
	pool   *pgxpool.Pool
	policy config.AttemptPolicy
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, policy config.AttemptPolicy) *AttemptRepository {
	return &AttemptRepository{pool: pool, policy: policy}
}

const insertAttemptSQL = `
	INSERT INTO student_exams
		(id, exam_id, student_id, score, correct_answers, wrong_answers, unattempted, submitted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

const insertFirstAttemptSQL = `
	INSERT INTO student_exams
		(id, exam_id, student_id, score, correct_answers, wrong_answers, unattempted, submitted_at)
	SELECT $1::uuid, $2::text, $3::text, $4::float8, $5::int, $6::int, $7::int, $8::timestamptz
	WHERE NOT EXISTS (
		SELECT 1 FROM student_exams WHERE exam_id = $2::text AND student_id = $3::text
	)
	ON CONFLICT (id) DO NOTHING`

// lockAttemptSQL serializes first attempts for one exam and student until
// the surrounding transaction ends.
const lockAttemptSQL = `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`

func attemptArgs(a *model.AttemptResult) []any {
	return []any{a.ID, a.ExamID, a.StudentID, a.Score,
		a.CorrectCount, a.WrongCount, a.UnattemptedCount, a.SubmittedAt}
}

// RecordAttempt inserts one attempt. Under the first_only policy a second
// attempt for the same exam and student is rejected with ErrAttemptExists.
func (r *AttemptRepository) RecordAttempt(ctx context.Context, a *model.AttemptResult) error {
	if r.policy != config.AttemptPolicyFirstOnly {
		if _, err := r.pool.Exec(ctx, insertAttemptSQL, attemptArgs(a)...); err != nil {
			return fmt.Errorf("%w: insert attempt: %w", ErrPersistenceUnavailable, err)
		}
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistenceUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockAttemptSQL, a.ExamID, a.StudentID); err != nil {
		return fmt.Errorf("%w: lock attempt: %w", ErrPersistenceUnavailable, err)
	}

	tag, err := tx.Exec(ctx, insertFirstAttemptSQL, attemptArgs(a)...)
	if err != nil {
		return fmt.Errorf("%w: insert attempt: %w", ErrPersistenceUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistenceUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptExists
	}
	return nil
}

// RecordBatch inserts many attempts in one round trip. Under first_only,
// attempts shadowed by an earlier one are skipped silently, and the batch
// takes the same per-(exam, student) locks as RecordAttempt.
func (r *AttemptRepository) RecordBatch(ctx context.Context, attempts []*model.AttemptResult) error {
	if len(attempts) == 0 {
		return nil
	}
	if r.policy != config.AttemptPolicyFirstOnly {
		batch := &pgx.Batch{}
		for _, a := range attempts {
			batch.Queue(insertAttemptSQL, attemptArgs(a)...)
		}
		return sendBatch(ctx, r.pool, batch)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistenceUnavailable, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	// Locks go first and in a fixed order so two batches cannot deadlock.
	for _, k := range attemptKeys(attempts) {
		batch.Queue(lockAttemptSQL, k.examID, k.studentID)
	}
	for _, a := range attempts {
		batch.Queue(insertFirstAttemptSQL, attemptArgs(a)...)
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func sendBatch(ctx context.Context, conn batchSender, batch *pgx.Batch) error {
	br := conn.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%w: batch insert: %w", ErrPersistenceUnavailable, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: batch insert: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

type attemptKey struct {
	examID    string
	studentID string
}

// attemptKeys returns the distinct (exam, student) pairs of attempts, sorted.
func attemptKeys(attempts []*model.AttemptResult) []attemptKey {
	seen := make(map[attemptKey]struct{}, len(attempts))
	keys := make([]attemptKey, 0, len(attempts))
	for _, a := range attempts {
		k := attemptKey{examID: a.ExamID, studentID: a.StudentID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].examID != keys[j].examID {
			return keys[i].examID < keys[j].examID
		}
		return keys[i].studentID < keys[j].studentID
	})
	return keys
}

// ListFirstAttempts returns the earliest attempt per exam for a student,
// newest exams first, with the total number of distinct exams.
func (r *AttemptRepository) ListFirstAttempts(ctx context.Context, studentID string, limit, offset int) ([]model.AttemptSummary, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT exam_id) FROM student_exams WHERE student_id = $1`, studentID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count attempts: %w", ErrPersistenceUnavailable, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.exam_id, f.student_id, f.score, f.correct_answers,
		        f.wrong_answers, f.unattempted, f.submitted_at, COALESCE(e.name, '')
		 FROM (
			SELECT DISTINCT ON (exam_id) *
			FROM student_exams
			WHERE student_id = $1
			ORDER BY exam_id, submitted_at ASC, id
		 ) AS f
		 LEFT JOIN exams e ON e.id = f.exam_id
		 ORDER BY f.submitted_at DESC
		 LIMIT $2 OFFSET $3`, studentID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list attempts: %w", ErrPersistenceUnavailable, err)
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Score, &s.CorrectCount,
			&s.WrongCount, &s.UnattemptedCount, &s.SubmittedAt, &s.ExamName); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
