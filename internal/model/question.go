package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multipleChoice"
	QuestionTypeTrueFalse      QuestionType = "trueFalse"
	QuestionTypeMatching       QuestionType = "matching"
	QuestionTypeShortAnswer    QuestionType = "shortAnswer"
	QuestionTypeEssay          QuestionType = "essay"
)

// PointsPerQuestion is the fixed weight of every question regardless of type.
const PointsPerQuestion = 10

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse, QuestionTypeMatching,
		QuestionTypeShortAnswer, QuestionTypeEssay:
		return true
	}
	return false
}

// ManuallyGraded reports whether answers of this type need a human grader.
func (t QuestionType) ManuallyGraded() bool {
	return t == QuestionTypeShortAnswer || t == QuestionTypeEssay
}

// MatchItems holds the two columns of a matching question.
// Left[i] is the correct match for Right[i].
type MatchItems struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
}

// Question represents a single exam question.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Type          QuestionType `json:"type"`
	QuestionText  string       `json:"question_text"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	ItemsToMatch  *MatchItems  `json:"items_to_match,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// QuestionForStudent is a question without its answer key, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID    `json:"id"`
	Type         QuestionType `json:"type"`
	QuestionText string       `json:"question_text"`
	Options      []string     `json:"options,omitempty"`
	ItemsToMatch *MatchItems  `json:"items_to_match,omitempty"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		Type:         q.Type,
		QuestionText: q.QuestionText,
		Options:      q.Options,
		ItemsToMatch: q.ItemsToMatch,
	}
}

// OptionLabel returns the letter label for a zero-based index: 0 -> "A", 1 -> "B".
func OptionLabel(index int) string {
	return string(rune('A' + index))
}

// LabelIndex is the inverse of OptionLabel. It returns -1 for anything that
// is not a single upper-case letter.
func LabelIndex(label string) int {
	if len(label) != 1 || label[0] < 'A' || label[0] > 'Z' {
		return -1
	}
	return int(label[0] - 'A')
}

var (
	ErrInvalidQuestionType = errors.New("invalid question type")
	ErrInvalidQuestion     = errors.New("invalid question content for type")
)

// Validate checks the type-specific fields of a question.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.QuestionText) == "" {
		return fmt.Errorf("%w: question text is required", ErrInvalidQuestion)
	}

	switch q.Type {
	case QuestionTypeMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: multiple choice needs at least two options", ErrInvalidQuestion)
		}
		if len(q.Options) > 26 {
			return fmt.Errorf("%w: at most 26 options are supported", ErrInvalidQuestion)
		}
		idx := LabelIndex(q.CorrectAnswer)
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("%w: correct answer %q does not label an option", ErrInvalidQuestion, q.CorrectAnswer)
		}
	case QuestionTypeTrueFalse:
		if q.CorrectAnswer != "true" && q.CorrectAnswer != "false" {
			return fmt.Errorf("%w: correct answer must be \"true\" or \"false\"", ErrInvalidQuestion)
		}
	case QuestionTypeMatching:
		if q.ItemsToMatch == nil || len(q.ItemsToMatch.Right) == 0 {
			return fmt.Errorf("%w: matching needs items to match", ErrInvalidQuestion)
		}
		if len(q.ItemsToMatch.Left) != len(q.ItemsToMatch.Right) {
			return fmt.Errorf("%w: left and right columns differ in length", ErrInvalidQuestion)
		}
	case QuestionTypeShortAnswer, QuestionTypeEssay:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidQuestionType, q.Type)
	}
	return nil
}

// AddQuestionRequest is the payload for adding a question to an exam, and
// for replacing one.
type AddQuestionRequest struct {
	Type          QuestionType `json:"type" binding:"required,oneof=multipleChoice trueFalse matching shortAnswer essay"`
	QuestionText  string       `json:"question_text" binding:"required,min=1,max=2000"`
	Options       []string     `json:"options" binding:"omitempty,max=26,dive,max=500"`
	CorrectAnswer string       `json:"correct_answer" binding:"omitempty,max=2000"`
	ItemsToMatch  *MatchItems  `json:"items_to_match" binding:"omitempty"`
	OrderNum      int          `json:"order_num" binding:"min=0"`
}
