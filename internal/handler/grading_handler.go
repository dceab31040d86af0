package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/validator"
)

// GradingHandler handles submission review and manual grading.
type GradingHandler struct {
	gradingService *service.GradingService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradingService *service.GradingService) *GradingHandler {
	return &GradingHandler{gradingService: gradingService}
}

// ListSubmissions godoc
// GET /api/v1/admin/exams/:id/submissions?status=submitted
// Lists an exam's submissions with student names, optionally by status.
func (h *GradingHandler) ListSubmissions(c *gin.Context) {
	examID, ok := validator.UUIDParam(c, "id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status := model.SubmissionStatus(c.Query("status"))
	if status != "" && status != model.SubmissionStatusSubmitted && status != model.SubmissionStatusGraded {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"status": "status must be one of [submitted graded]",
		})
		return
	}

	page, perPage := response.PageParams(c)
	subs, total, err := h.gradingService.ListSubmissions(c.Request.Context(), examID, status, page, perPage)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": subs}, response.NewPagination(page, perPage, total))
}

// OpenSubmission godoc
// GET /api/v1/admin/submissions/:id/grading
// Returns the submission with objective answers auto-graded and the
// manual answers awaiting a rubric score.
func (h *GradingHandler) OpenSubmission(c *gin.Context) {
	id, ok := validator.UUIDParam(c, "id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.gradingService.Open(c.Request.Context(), id)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GradeSubmission godoc
// POST /api/v1/admin/submissions/:id/grade
// Applies manual scores and notes, then finalizes. A graded submission
// cannot be graded again.
func (h *GradingHandler) GradeSubmission(c *gin.Context) {
	id, ok := validator.UUIDParam(c, "id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeSubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.gradingService.Grade(c.Request.Context(), id, &req)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
