package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnrworld/exam-backend/internal/model"
)

// StudentRepository handles student accounts and batch enrollment.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `uid, name, roll, COALESCE(pass_hash, ''), COALESCE(enrolled_batches, '{}'), created_at`

func scanStudent(row pgx.Row) (*model.Student, error) {
	s := &model.Student{}
	err := row.Scan(&s.ID, &s.Name, &s.Roll, &s.PasswordHash, &s.EnrolledBatches, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a student by uid.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM users WHERE uid = $1`, id))
}

// GetByRoll retrieves a student by roll number.
func (r *StudentRepository) GetByRoll(ctx context.Context, roll string) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM users WHERE roll = $1`, roll))
}

// UpdatePasswordHash replaces a student's bcrypt password hash.
func (r *StudentRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET pass_hash = $1 WHERE uid = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// IsEnrolled reports whether the student's enrolled batches contain batchID.
// An unknown student is simply not enrolled.
func (r *StudentRepository) IsEnrolled(ctx context.Context, studentID, batchID string) (bool, error) {
	var enrolled bool
	err := r.pool.QueryRow(ctx,
		`SELECT $2::text = ANY(COALESCE(enrolled_batches, '{}'))
		 FROM users WHERE uid = $1`, studentID, batchID,
	).Scan(&enrolled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}
