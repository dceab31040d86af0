package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/grading"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/model"
)

// SubmissionLister pages through an exam's submissions.
type SubmissionLister interface {
	ListByExamPaginated(ctx context.Context, examID uuid.UUID, status model.SubmissionStatus, limit, offset int) ([]model.SubmissionSummary, int, error)
}

// GradingStudent identifies whose work is being graded.
type GradingStudent struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// GradingItem is one answer as shown to a grader, with the answer key.
type GradingItem struct {
	QuestionID    uuid.UUID          `json:"question_id"`
	Type          model.QuestionType `json:"type"`
	QuestionText  string             `json:"question_text"`
	Options       []string           `json:"options,omitempty"`
	ItemsToMatch  *model.MatchItems  `json:"items_to_match,omitempty"`
	CorrectAnswer string             `json:"correct_answer,omitempty"`
	StudentAnswer json.RawMessage    `json:"student_answer"`
	Score         int                `json:"score"`
	Note          string             `json:"note,omitempty"`
	Manual        bool               `json:"manual"`
}

// GradingView is a submission opened for grading.
type GradingView struct {
	SubmissionID  uuid.UUID              `json:"submission_id"`
	ExamID        uuid.UUID              `json:"exam_id"`
	Student       GradingStudent         `json:"student"`
	Status        model.SubmissionStatus `json:"status"`
	Graded        bool                   `json:"graded"`
	Violations    int                    `json:"violations"`
	Items         []GradingItem          `json:"items"`
	RawScore      int                    `json:"raw_score"`
	MaxScore      int                    `json:"max_score"`
	Percent       int                    `json:"percent"`
	PendingManual int                    `json:"pending_manual"`
	Unresolved    int                    `json:"unresolved"`
}

// GradeResult is returned after a submission is finalized.
type GradeResult struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Score        int       `json:"score"`
}

// GradingService exposes the grading engine to administrators.
type GradingService struct {
	engine      *grading.Engine
	submissions SubmissionLister
	users       UserReader
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(engine *grading.Engine, submissions SubmissionLister, users UserReader, m *metrics.Metrics, log zerolog.Logger) *GradingService {
	return &GradingService{
		engine:      engine,
		submissions: submissions,
		users:       users,
		metrics:     m,
		log:         log.With().Str("component", "grading_service").Logger(),
	}
}

// ListSubmissions pages through an exam's submissions, optionally by status.
func (s *GradingService) ListSubmissions(ctx context.Context, examID uuid.UUID, status model.SubmissionStatus, page, perPage int) ([]model.SubmissionSummary, int, error) {
	subs, total, err := s.submissions.ListByExamPaginated(ctx, examID, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	if subs == nil {
		subs = []model.SubmissionSummary{}
	}
	return subs, total, nil
}

// Open loads a submission with objective answers already scored.
func (s *GradingService) Open(ctx context.Context, submissionID uuid.UUID) (*GradingView, error) {
	sheet, err := s.engine.Load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sheet)
}

// Grade applies the grader's manual scores and notes, then finalizes.
// Nothing is stored unless every entry is valid.
func (s *GradingService) Grade(ctx context.Context, submissionID uuid.UUID, req *model.GradeSubmissionRequest) (*GradeResult, error) {
	sheet, err := s.engine.Load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sheet.Graded() {
		return nil, grading.ErrAlreadyGraded
	}

	for key, score := range req.Scores {
		qid, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", grading.ErrUnknownQuestion, key)
		}
		if err := sheet.SetManualScore(qid, score); err != nil {
			return nil, err
		}
	}
	for key, note := range req.Notes {
		qid, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", grading.ErrUnknownQuestion, key)
		}
		if err := sheet.SetNote(qid, note); err != nil {
			return nil, err
		}
	}

	score, err := s.engine.Finalize(ctx, sheet)
	if err != nil {
		return nil, err
	}
	s.metrics.SubmissionsGraded.Inc()
	return &GradeResult{SubmissionID: submissionID, Score: score}, nil
}

func (s *GradingService) view(ctx context.Context, sheet *grading.Sheet) (*GradingView, error) {
	sub := sheet.Submission()
	student := GradingStudent{ID: sub.StudentID}
	if u, err := s.users.GetByID(ctx, sub.StudentID); err == nil {
		student.DisplayName = u.DisplayName
		student.Email = u.Email
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("get student: %w", err)
	}

	items := sheet.Items()
	out := make([]GradingItem, 0, len(items))
	for _, it := range items {
		raw, err := model.EncodeStudentAnswer(it.Answer.StudentAnswer)
		if err != nil {
			return nil, err
		}
		out = append(out, GradingItem{
			QuestionID:    it.Question.ID,
			Type:          it.Question.Type,
			QuestionText:  it.Question.QuestionText,
			Options:       it.Question.Options,
			ItemsToMatch:  it.Question.ItemsToMatch,
			CorrectAnswer: it.Question.CorrectAnswer,
			StudentAnswer: raw,
			Score:         it.Answer.Score,
			Note:          it.Answer.Note,
			Manual:        it.Question.Type.ManuallyGraded(),
		})
	}

	return &GradingView{
		SubmissionID:  sub.ID,
		ExamID:        sub.ExamID,
		Student:       student,
		Status:        sub.Status,
		Graded:        sheet.Graded(),
		Violations:    sub.Violations,
		Items:         out,
		RawScore:      sheet.RawScore(),
		MaxScore:      sheet.MaxScore(),
		Percent:       sheet.Percent(),
		PendingManual: sheet.PendingManual(),
		Unresolved:    sheet.Unresolved(),
	}, nil
}
