package service

import (
	"context"
	"fmt"

	"github.com/mnrworld/exam-backend/internal/model"
)

// AttemptLister reads a student's recorded attempts.
type AttemptLister interface {
	ListFirstAttempts(ctx context.Context, studentID string, limit, offset int) ([]model.AttemptSummary, int, error)
}

// ResultService serves the student's results page. Only the first attempt
// of each exam is listed.
type ResultService struct {
	attempts AttemptLister
}

// NewResultService creates a new ResultService.
func NewResultService(attempts AttemptLister) *ResultService {
	return &ResultService{attempts: attempts}
}

const (
	defaultResultsPerPage = 20
	maxResultsPerPage     = 100
)

// ResultPage is one page of a student's results.
type ResultPage struct {
	Results []model.AttemptSummary
	Total   int
	Page    int
	PerPage int
}

// ListResults returns one page of first attempts and the number of exams taken.
func (s *ResultService) ListResults(ctx context.Context, studentID string, page, perPage int) (*ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxResultsPerPage {
		perPage = defaultResultsPerPage
	}

	results, total, err := s.attempts.ListFirstAttempts(ctx, studentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if results == nil {
		results = []model.AttemptSummary{}
	}
	return &ResultPage{Results: results, Total: total, Page: page, PerPage: perPage}, nil
}
