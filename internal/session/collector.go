package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

// Collector holds the latest response per question for one attempt.
// It is not safe for concurrent use; the Controller serializes access.
type Collector struct {
	questions map[uuid.UUID]*model.Question
	order     []uuid.UUID
	answers   map[uuid.UUID]model.StudentAnswer
}

// NewCollector prepares an empty answer sheet for the given questions.
// Display order is the order of questions.
func NewCollector(questions []model.Question) *Collector {
	c := &Collector{
		questions: make(map[uuid.UUID]*model.Question, len(questions)),
		order:     make([]uuid.UUID, 0, len(questions)),
		answers:   make(map[uuid.UUID]model.StudentAnswer, len(questions)),
	}
	for i := range questions {
		q := &questions[i]
		if _, dup := c.questions[q.ID]; dup {
			continue
		}
		c.questions[q.ID] = q
		c.order = append(c.order, q.ID)
	}
	return c
}

// Record replaces the answer for a question. A nil answer clears it.
func (c *Collector) Record(questionID uuid.UUID, a model.StudentAnswer) error {
	q, ok := c.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if a == nil {
		delete(c.answers, questionID)
		return nil
	}
	if a.QuestionType() != q.Type {
		return fmt.Errorf("%w: question %s is %s, got %s", ErrAnswerMismatch, questionID, q.Type, a.QuestionType())
	}

	if m, isMatch := a.(model.MatchingAnswer); isMatch {
		right := matchWidth(q)
		if len(m.Guesses) > right {
			return fmt.Errorf("%w: %d guesses for %d items", ErrAnswerMismatch, len(m.Guesses), right)
		}
		guesses := make([]string, right)
		for i, g := range m.Guesses {
			guesses[i] = normalizeGuess(g)
		}
		a = model.MatchingAnswer{Guesses: guesses}
	}

	c.answers[questionID] = a
	return nil
}

// RecordMatch sets the guess for a single right-hand item of a matching question.
func (c *Collector) RecordMatch(questionID uuid.UUID, rightIndex int, guess string) error {
	q, ok := c.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if q.Type != model.QuestionTypeMatching {
		return fmt.Errorf("%w: question %s is %s", ErrAnswerMismatch, questionID, q.Type)
	}
	right := matchWidth(q)
	if rightIndex < 0 || rightIndex >= right {
		return fmt.Errorf("%w: item %d out of range", ErrAnswerMismatch, rightIndex)
	}

	guesses := make([]string, right)
	if prev, ok := c.answers[questionID].(model.MatchingAnswer); ok {
		copy(guesses, prev.Guesses)
	}
	guesses[rightIndex] = normalizeGuess(guess)
	c.answers[questionID] = model.MatchingAnswer{Guesses: guesses}
	return nil
}

// Get returns the current answer for a question, or nil.
func (c *Collector) Get(questionID uuid.UUID) model.StudentAnswer {
	return c.answers[questionID]
}

// Answered counts questions with a recorded response.
func (c *Collector) Answered() int {
	return len(c.answers)
}

// Answers returns a copy of the current answers.
func (c *Collector) Answers() AnswerSet {
	out := make(AnswerSet, len(c.answers))
	for k, v := range c.answers {
		out[k] = v
	}
	return out
}

// Materialize builds one Answer record per question, in display order.
// Unanswered questions are included with a nil StudentAnswer.
func (c *Collector) Materialize() []model.Answer {
	out := make([]model.Answer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, model.Answer{
			QuestionID:    id,
			Type:          c.questions[id].Type,
			StudentAnswer: c.answers[id],
		})
	}
	return out
}

func matchWidth(q *model.Question) int {
	if q.ItemsToMatch == nil {
		return 0
	}
	return len(q.ItemsToMatch.Right)
}

func normalizeGuess(g string) string {
	g = strings.TrimSpace(g)
	if len(g) == 1 {
		return strings.ToUpper(g)
	}
	return g
}
