package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus moves one way: submitted -> graded.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	SubmissionStatusGraded    SubmissionStatus = "graded"
)

// Submission is the record of one finished attempt.
type Submission struct {
	ID         uuid.UUID        `json:"id"`
	ExamID     uuid.UUID        `json:"exam_id"`
	StudentID  int              `json:"student_id"`
	Answers    []Answer         `json:"answers"`
	Violations int              `json:"violations"`
	Status     SubmissionStatus `json:"status"`
	Score      int              `json:"score"`
	CreatedAt  time.Time        `json:"created_at"`
	GradedAt   *time.Time       `json:"graded_at,omitempty"`
}

// Graded reports whether the submission has been finalized.
func (s *Submission) Graded() bool {
	return s.Status == SubmissionStatusGraded
}

// SubmissionSummary is a submission row for listings, joined with the student's name.
type SubmissionSummary struct {
	ID          uuid.UUID        `json:"id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	StudentID   int              `json:"student_id"`
	StudentName string           `json:"student_name"`
	Violations  int              `json:"violations"`
	Status      SubmissionStatus `json:"status"`
	Score       int              `json:"score"`
	CreatedAt   time.Time        `json:"created_at"`
}

// GradeSubmissionRequest carries the grader's manual rubric choices.
type GradeSubmissionRequest struct {
	Scores map[string]int    `json:"scores" binding:"omitempty,dive,keys,uuid,endkeys,oneof=0 10"`
	Notes  map[string]string `json:"notes" binding:"omitempty,dive,keys,uuid,endkeys,max=2000"`
}
