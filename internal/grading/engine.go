package grading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/model"
)

// SubmissionStore reads submissions and applies the final grade.
type SubmissionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	// Finalize writes answers, score and status in one statement and returns
	// ErrAlreadyGraded when the stored submission is no longer "submitted".
	Finalize(ctx context.Context, s *model.Submission) error
}

// QuestionStore lists the questions of an exam.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// Engine loads submissions into grading sheets and persists the result.
type Engine struct {
	submissions SubmissionStore
	questions   QuestionStore
	now         func() time.Time
	log         zerolog.Logger
}

func NewEngine(submissions SubmissionStore, questions QuestionStore, log zerolog.Logger) *Engine {
	return &Engine{
		submissions: submissions,
		questions:   questions,
		now:         time.Now,
		log:         log.With().Str("component", "grading").Logger(),
	}
}

// Load opens a submission for grading with its objective answers scored.
func (e *Engine) Load(ctx context.Context, submissionID uuid.UUID) (*Sheet, error) {
	sub, err := e.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	questions, err := e.questions.ListByExam(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	sheet := NewSheet(sub, questions)
	if n := sheet.Unresolved(); n > 0 {
		e.log.Warn().
			Str("submission_id", submissionID.String()).
			Int("unresolved", n).
			Msg("Answers reference missing questions and are excluded from scoring")
	}
	return sheet, nil
}

// Finalize stores the sheet as graded and returns the final percentage.
func (e *Engine) Finalize(ctx context.Context, sheet *Sheet) (int, error) {
	final, err := sheet.Final(e.now())
	if err != nil {
		return 0, err
	}
	if err := e.submissions.Finalize(ctx, final); err != nil {
		return 0, fmt.Errorf("finalize submission: %w", err)
	}
	sheet.submission = final

	e.log.Info().
		Str("submission_id", final.ID.String()).
		Int("score", final.Score).
		Msg("Submission graded")
	return final.Score, nil
}
