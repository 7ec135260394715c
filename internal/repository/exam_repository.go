package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnrworld/exam-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its id.
func (r *ExamRepository) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, batch_id, duration_minutes,
		        COALESCE(negative_marks_per_wrong, 0), COALESCE(file_id, ''), created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.BatchID, &e.DurationMinutes,
		&e.NegativeMarksPerWrong, &e.QuestionSourceRef, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	return e, nil
}
