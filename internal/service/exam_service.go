package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

// TokenAlphabet omits characters that are easy to misread (I, O, 0, 1).
const (
	TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	TokenLength   = 8
)

// ExamStore is the exam persistence used for authoring.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error)
	Create(ctx context.Context, e *model.Exam) error
	Update(ctx context.Context, e *model.Exam) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateToken(ctx context.Context, id uuid.UUID, token string) error
}

// QuestionStore is the question persistence used for authoring.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	Create(ctx context.Context, q *model.Question) error
	Update(ctx context.Context, q *model.Question) error
	Delete(ctx context.Context, examID, id uuid.UUID) error
}

// ExamDetail is an exam with its full questions, for administrators.
type ExamDetail struct {
	model.Exam
	Questions []model.Question `json:"questions"`
}

// ExamService handles exam authoring.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore) *ExamService {
	return &ExamService{exams: exams, questions: questions}
}

// GenerateToken returns a random redemption token.
func GenerateToken() (string, error) {
	var b strings.Builder
	b.Grow(TokenLength)
	size := big.NewInt(int64(len(TokenAlphabet)))
	for i := 0; i < TokenLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b.WriteByte(TokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Create stores a new exam authored by adminID.
func (s *ExamService) Create(ctx context.Context, adminID int, req *model.CreateExamRequest) (*model.Exam, error) {
	token, err := resolveToken(req.Token, req.OpenAccess)
	if err != nil {
		return nil, err
	}

	exam := &model.Exam{
		Title:             strings.TrimSpace(req.Title),
		DurationInMinutes: req.DurationInMinutes,
		OpenTime:          req.OpenTime,
		CloseTime:         req.CloseTime,
		Token:             token,
		CreatedBy:         adminID,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return exam, nil
}

// Update replaces the exam's title, duration and window. Attempts already
// running keep the duration they started with.
func (s *ExamService) Update(ctx context.Context, examID uuid.UUID, req *model.UpdateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		ID:                examID,
		Title:             strings.TrimSpace(req.Title),
		DurationInMinutes: req.DurationInMinutes,
		OpenTime:          req.OpenTime,
		CloseTime:         req.CloseTime,
	}
	if err := s.exams.Update(ctx, exam); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return exam, nil
}

// Delete removes an exam with its questions and submissions.
func (s *ExamService) Delete(ctx context.Context, examID uuid.UUID) error {
	if err := s.exams.Delete(ctx, examID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete exam: %w", err)
	}
	return nil
}

// SetToken replaces the token of an exam and returns the new value.
func (s *ExamService) SetToken(ctx context.Context, examID uuid.UUID, req *model.UpdateTokenRequest) (string, error) {
	token, err := resolveToken(req.Token, req.OpenAccess)
	if err != nil {
		return "", err
	}
	if err := s.exams.UpdateToken(ctx, examID, token); err != nil {
		return "", fmt.Errorf("update token: %w", err)
	}
	return token, nil
}

func resolveToken(requested string, openAccess bool) (string, error) {
	if openAccess {
		return "", nil
	}
	if t := strings.ToUpper(strings.TrimSpace(requested)); t != "" {
		return t, nil
	}
	return GenerateToken()
}

// GetByID returns one exam.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// GetDetail returns an exam together with its questions and answer keys.
func (s *ExamService) GetDetail(ctx context.Context, id uuid.UUID) (*ExamDetail, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return &ExamDetail{Exam: *exam, Questions: questions}, nil
}

// List returns a page of exams and the total count.
func (s *ExamService) List(ctx context.Context, page, perPage int) ([]model.Exam, int, error) {
	exams, total, err := s.exams.ListPaginated(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, total, nil
}

// AddQuestion validates a question for its type and appends it to the exam.
func (s *ExamService) AddQuestion(ctx context.Context, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}

	q, err := buildQuestion(examID, req)
	if err != nil {
		return nil, err
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// UpdateQuestion replaces a question of the exam. Submitted answers are
// graded against the new key.
func (s *ExamService) UpdateQuestion(ctx context.Context, examID, questionID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	q, err := buildQuestion(examID, req)
	if err != nil {
		return nil, err
	}
	q.ID = questionID
	if err := s.questions.Update(ctx, q); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

// DeleteQuestion removes a question of the exam. Answers already submitted
// for it stay in their submissions but no longer count towards the score.
func (s *ExamService) DeleteQuestion(ctx context.Context, examID, questionID uuid.UUID) error {
	if err := s.questions.Delete(ctx, examID, questionID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}

// buildQuestion normalizes the answer key for the question type and validates it.
func buildQuestion(examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	q := &model.Question{
		ExamID:        examID,
		Type:          req.Type,
		QuestionText:  strings.TrimSpace(req.QuestionText),
		Options:       req.Options,
		CorrectAnswer: strings.TrimSpace(req.CorrectAnswer),
		ItemsToMatch:  req.ItemsToMatch,
		OrderNum:      req.OrderNum,
	}
	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		q.CorrectAnswer = strings.ToUpper(q.CorrectAnswer)
		q.ItemsToMatch = nil
	case model.QuestionTypeTrueFalse:
		q.CorrectAnswer = strings.ToLower(q.CorrectAnswer)
		q.Options, q.ItemsToMatch = nil, nil
	case model.QuestionTypeMatching:
		q.Options, q.CorrectAnswer = nil, ""
	default:
		q.Options, q.ItemsToMatch, q.CorrectAnswer = nil, nil, ""
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// IsValidationError reports whether err came from question validation.
func IsValidationError(err error) bool {
	return errors.Is(err, model.ErrInvalidQuestion) || errors.Is(err, model.ErrInvalidQuestionType)
}
