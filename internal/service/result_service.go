package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/grading"
	"github.com/stemsi/examroom/internal/model"
)

// SubmissionReader reads stored submissions.
type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error)
}

// StudentResult is one row of a student's result list.
type StudentResult struct {
	SubmissionID uuid.UUID              `json:"submission_id"`
	ExamID       uuid.UUID              `json:"exam_id"`
	ExamTitle    string                 `json:"exam_title"`
	Status       model.SubmissionStatus `json:"status"`
	Score        *int                   `json:"score,omitempty"`
	Violations   int                    `json:"violations"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	GradedAt     *time.Time             `json:"graded_at,omitempty"`
}

// ResultView is a student's own submission. Score and items appear once graded.
type ResultView struct {
	StudentResult
	Items []grading.ReviewItem `json:"items,omitempty"`
}

// ResultService serves results to the student who submitted them.
type ResultService struct {
	submissions SubmissionReader
	exams       ExamReader
	questions   QuestionReader
}

// NewResultService creates a new ResultService.
func NewResultService(submissions SubmissionReader, exams ExamReader, questions QuestionReader) *ResultService {
	return &ResultService{submissions: submissions, exams: exams, questions: questions}
}

// List returns every submission of the student, newest first.
func (s *ResultService) List(ctx context.Context, studentID int) ([]StudentResult, error) {
	subs, err := s.submissions.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	titles := make(map[uuid.UUID]string)
	out := make([]StudentResult, 0, len(subs))
	for i := range subs {
		title, ok := titles[subs[i].ExamID]
		if !ok {
			title, err = s.examTitle(ctx, subs[i].ExamID)
			if err != nil {
				return nil, err
			}
			titles[subs[i].ExamID] = title
		}
		out = append(out, summarize(&subs[i], title))
	}
	return out, nil
}

// Get returns one submission of the student. Another student's submission
// reads as not found.
func (s *ResultService) Get(ctx context.Context, studentID int, submissionID uuid.UUID) (*ResultView, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.StudentID != studentID {
		return nil, model.ErrNotFound
	}

	title, err := s.examTitle(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}
	view := &ResultView{StudentResult: summarize(sub, title)}
	if !sub.Graded() {
		return view, nil
	}

	questions, err := s.questions.ListByExam(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	view.Items, err = grading.Review(sub, questions)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *ResultService) examTitle(ctx context.Context, examID uuid.UUID) (string, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get exam: %w", err)
	}
	return exam.Title, nil
}

func summarize(sub *model.Submission, title string) StudentResult {
	r := StudentResult{
		SubmissionID: sub.ID,
		ExamID:       sub.ExamID,
		ExamTitle:    title,
		Status:       sub.Status,
		Violations:   sub.Violations,
		SubmittedAt:  sub.CreatedAt,
		GradedAt:     sub.GradedAt,
	}
	if sub.Graded() {
		score := sub.Score
		r.Score = &score
	}
	return r
}
