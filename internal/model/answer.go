package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StudentAnswer is a student's response to one question. It is a closed set
// of variants, one per QuestionType; code that needs to branch on the variant
// implements AnswerVisitor so a new variant breaks the build until handled.
type StudentAnswer interface {
	QuestionType() QuestionType
	Accept(v AnswerVisitor)
}

// AnswerVisitor dispatches over every StudentAnswer variant.
type AnswerVisitor interface {
	VisitChoice(a ChoiceAnswer)
	VisitTrueFalse(a TrueFalseAnswer)
	VisitMatching(a MatchingAnswer)
	VisitShortAnswer(a ShortAnswerText)
	VisitEssay(a EssayText)
}

// ChoiceAnswer is the selected option label of a multiple choice question.
type ChoiceAnswer struct{ Label string }

// TrueFalseAnswer holds "true" or "false".
type TrueFalseAnswer struct{ Value string }

// MatchingAnswer holds one guess per right-hand item, indexed like Right.
// An empty string means the item was left blank.
type MatchingAnswer struct{ Guesses []string }

// ShortAnswerText is the free text of a short answer question.
type ShortAnswerText struct{ Text string }

// EssayText is the free text of an essay question.
type EssayText struct{ Text string }

func (ChoiceAnswer) QuestionType() QuestionType    { return QuestionTypeMultipleChoice }
func (TrueFalseAnswer) QuestionType() QuestionType { return QuestionTypeTrueFalse }
func (MatchingAnswer) QuestionType() QuestionType  { return QuestionTypeMatching }
func (ShortAnswerText) QuestionType() QuestionType { return QuestionTypeShortAnswer }
func (EssayText) QuestionType() QuestionType       { return QuestionTypeEssay }

func (a ChoiceAnswer) Accept(v AnswerVisitor)    { v.VisitChoice(a) }
func (a TrueFalseAnswer) Accept(v AnswerVisitor) { v.VisitTrueFalse(a) }
func (a MatchingAnswer) Accept(v AnswerVisitor)  { v.VisitMatching(a) }
func (a ShortAnswerText) Accept(v AnswerVisitor) { v.VisitShortAnswer(a) }
func (a EssayText) Accept(v AnswerVisitor)       { v.VisitEssay(a) }

// Verdict is the outcome of checking an answer against its question.
type Verdict int

const (
	VerdictIncorrect Verdict = iota
	VerdictCorrect
	VerdictManual
)

// Check applies the question's correctness predicate to a. A nil answer
// counts as unanswered. Free-text questions always return VerdictManual.
func (q *Question) Check(a StudentAnswer) Verdict {
	if q.Type.ManuallyGraded() {
		return VerdictManual
	}
	if a == nil || a.QuestionType() != q.Type {
		return VerdictIncorrect
	}
	c := &checker{q: q}
	a.Accept(c)
	if c.correct {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

type checker struct {
	q       *Question
	correct bool
}

func (c *checker) VisitChoice(a ChoiceAnswer) {
	c.correct = a.Label == c.q.CorrectAnswer
}

func (c *checker) VisitTrueFalse(a TrueFalseAnswer) {
	c.correct = a.Value == c.q.CorrectAnswer
}

// VisitMatching is all-or-nothing: every right item must be matched with its
// left counterpart. A guess may be the left item itself or its letter label;
// a literal match wins over the label reading.
func (c *checker) VisitMatching(a MatchingAnswer) {
	items := c.q.ItemsToMatch
	if items == nil || len(items.Right) == 0 {
		return
	}
	for i := range items.Right {
		if i >= len(a.Guesses) || i >= len(items.Left) {
			return
		}
		if a.Guesses[i] == items.Left[i] {
			continue
		}
		if resolveGuess(a.Guesses[i], items.Left) != items.Left[i] {
			return
		}
	}
	c.correct = true
}

func (c *checker) VisitShortAnswer(ShortAnswerText) {}
func (c *checker) VisitEssay(EssayText)             {}

func resolveGuess(guess string, left []string) string {
	if idx := LabelIndex(guess); idx >= 0 && idx < len(left) {
		return left[idx]
	}
	return guess
}

// Answer is one graded (or gradable) record inside a submission.
type Answer struct {
	QuestionID    uuid.UUID
	Type          QuestionType
	StudentAnswer StudentAnswer
	Score         int
	Note          string
}

type answerJSON struct {
	QuestionID    uuid.UUID       `json:"question_id"`
	Type          QuestionType    `json:"type"`
	StudentAnswer json.RawMessage `json:"student_answer"`
	Score         int             `json:"score"`
	Note          string          `json:"note,omitempty"`
}

// MarshalJSON writes the variant as a string, a list of strings or null.
func (a Answer) MarshalJSON() ([]byte, error) {
	raw, err := EncodeStudentAnswer(a.StudentAnswer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerJSON{
		QuestionID:    a.QuestionID,
		Type:          a.Type,
		StudentAnswer: raw,
		Score:         a.Score,
		Note:          a.Note,
	})
}

// UnmarshalJSON decodes the variant using the stored type tag.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var aj answerJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}
	sa, err := DecodeStudentAnswer(aj.Type, aj.StudentAnswer)
	if err != nil {
		return fmt.Errorf("answer %s: %w", aj.QuestionID, err)
	}
	*a = Answer{
		QuestionID:    aj.QuestionID,
		Type:          aj.Type,
		StudentAnswer: sa,
		Score:         aj.Score,
		Note:          aj.Note,
	}
	return nil
}

// EncodeStudentAnswer renders a variant in its wire shape.
func EncodeStudentAnswer(a StudentAnswer) (json.RawMessage, error) {
	if a == nil {
		return json.RawMessage("null"), nil
	}
	enc := &encoder{}
	a.Accept(enc)
	return json.Marshal(enc.v)
}

type encoder struct{ v any }

func (e *encoder) VisitChoice(a ChoiceAnswer)         { e.v = a.Label }
func (e *encoder) VisitTrueFalse(a TrueFalseAnswer)   { e.v = a.Value }
func (e *encoder) VisitMatching(a MatchingAnswer)     { e.v = a.Guesses }
func (e *encoder) VisitShortAnswer(a ShortAnswerText) { e.v = a.Text }
func (e *encoder) VisitEssay(a EssayText)             { e.v = a.Text }

// DecodeStudentAnswer parses the wire shape of an answer for a question of
// type t. JSON null or an empty body decodes to a nil (unanswered) answer.
func DecodeStudentAnswer(t QuestionType, raw json.RawMessage) (StudentAnswer, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if t == QuestionTypeMatching {
		var guesses []*string
		if err := json.Unmarshal(trimmed, &guesses); err != nil {
			return nil, fmt.Errorf("matching answer must be a list of strings: %w", err)
		}
		out := make([]string, len(guesses))
		for i, g := range guesses {
			if g != nil {
				out[i] = *g
			}
		}
		return MatchingAnswer{Guesses: out}, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("%s answer must be a string: %w", t, err)
	}
	return NewTextAnswer(t, s)
}

// NewTextAnswer builds the variant for a string-valued question type.
func NewTextAnswer(t QuestionType, s string) (StudentAnswer, error) {
	switch t {
	case QuestionTypeMultipleChoice:
		return ChoiceAnswer{Label: strings.ToUpper(strings.TrimSpace(s))}, nil
	case QuestionTypeTrueFalse:
		v := strings.ToLower(strings.TrimSpace(s))
		if v != "true" && v != "false" {
			return nil, fmt.Errorf("true/false answer must be \"true\" or \"false\", got %q", s)
		}
		return TrueFalseAnswer{Value: v}, nil
	case QuestionTypeShortAnswer:
		return ShortAnswerText{Text: s}, nil
	case QuestionTypeEssay:
		return EssayText{Text: s}, nil
	case QuestionTypeMatching:
		return nil, fmt.Errorf("matching answers are not plain strings")
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidQuestionType, t)
}
