package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/middleware"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/response"
	"github.com/mnrworld/exam-backend/internal/service"
	"github.com/mnrworld/exam-backend/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam taking, results).
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	resultService  *service.ResultService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	sessionService *service.ExamSessionService,
	resultService *service.ResultService,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		resultService:  resultService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Checks enrollment, loads the questions and starts the countdown. Calling it
// again while the session runs returns the same session.
func (h *StudentPortalHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.Start(c.Request.Context(), claims.UserID, examID, req.Layout)
	if err != nil {
		h.log.Warn().Err(err).Str("student_id", claims.UserID).Str("exam_id", examID).Msg("Start session failed")
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns progress, remaining time and the current page. After submission it
// returns the graded outcome for a while.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	state, err := h.sessionService.State(claims.UserID, examID, nil)
	if err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// GoToPage godoc
// GET /api/v1/student/exams/:exam_id/session/pages/:page
// Moves to a zero-based page; out of range values are clamped.
func (h *StudentPortalHandler) GoToPage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"page": "page must be a number"})
		return
	}

	state, err := h.sessionService.SetPage(claims.UserID, examID, page)
	if err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// SelectAnswer godoc
// PUT /api/v1/student/exams/:exam_id/session/answers/:question_id
func (h *StudentPortalHandler) SelectAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.sessionService.SelectAnswer(claims.UserID, examID, questionID, *req.OptionIndex)
	if err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"question_id":  questionID,
		"option_index": *req.OptionIndex,
		"status":       status,
	})
}

// ToggleReview godoc
// POST /api/v1/student/exams/:exam_id/session/review/:question_id
func (h *StudentPortalHandler) ToggleReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")

	status, err := h.sessionService.ToggleReview(claims.UserID, examID, questionID)
	if err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"question_id": questionID,
		"status":      status,
	})
}

// GetReview godoc
// GET /api/v1/student/exams/:exam_id/session/review
// Returns the status grid in presentation order.
func (h *StudentPortalHandler) GetReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	entries, err := h.sessionService.Review(claims.UserID, examID)
	if err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": entries})
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/session/submit
// Grades the exam. If the timer submits at the same moment, the caller gets
// the timer's outcome.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	outcome, err := h.sessionService.Submit(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// Client went away while another submission was finishing.
			state, stateErr := h.sessionService.State(claims.UserID, examID, nil)
			if stateErr == nil {
				response.Success(c, http.StatusAccepted, gin.H{"session": state})
				return
			}
		}
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"outcome": outcome})
}

// AbandonSession godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Stops the session without recording a result.
func (h *StudentPortalHandler) AbandonSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	if err := h.sessionService.Abandon(claims.UserID, examID); err != nil {
		failWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ListResults godoc
// GET /api/v1/student/results?page=&per_page=
// Lists the first attempt of every exam the student has taken.
func (h *StudentPortalHandler) ListResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q model.ResultsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.resultService.ListResults(c.Request.Context(), claims.UserID, q.Page, q.PerPage)
	if err != nil {
		h.log.Error().Err(err).Str("student_id", claims.UserID).Msg("List results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, res.Results, &response.Pagination{
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.Total,
		TotalPages: (res.Total + res.PerPage - 1) / res.PerPage,
	})
}

func examIDParam(c *gin.Context) (string, bool) {
	examID := c.Param("exam_id")
	if examID == "" || len(examID) > 64 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return examID, true
}
