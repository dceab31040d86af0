package grading

import (
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

var (
	ErrAlreadyGraded   = model.ErrAlreadyGraded
	ErrNotManual       = errors.New("question is graded automatically")
	ErrInvalidScore    = errors.New("manual score must be 0 or 10")
	ErrUnknownQuestion = errors.New("question is not part of this submission")
)

// Index maps question IDs to questions.
type Index map[uuid.UUID]*model.Question

func NewIndex(questions []model.Question) Index {
	idx := make(Index, len(questions))
	for i := range questions {
		idx[questions[i].ID] = &questions[i]
	}
	return idx
}

// AutoGrade scores the objective answers in place: 10 when the question's
// predicate holds, 0 otherwise. Manually graded answers and answers whose
// question is missing keep their score. Running it twice is a no-op.
func AutoGrade(answers []model.Answer, questions Index) {
	for i := range answers {
		q, ok := questions[answers[i].QuestionID]
		if !ok || q.Type.ManuallyGraded() {
			continue
		}
		switch q.Check(answers[i].StudentAnswer) {
		case model.VerdictCorrect:
			answers[i].Score = model.PointsPerQuestion
		default:
			answers[i].Score = 0
		}
	}
}

// Totals sums the scores and the attainable maximum over resolved answers.
func Totals(answers []model.Answer, questions Index) (raw, maxScore int) {
	for _, a := range answers {
		if _, ok := questions[a.QuestionID]; !ok {
			continue
		}
		raw += a.Score
		maxScore += model.PointsPerQuestion
	}
	return raw, maxScore
}

// Percent is round(100 * raw / maxScore), or 0 when maxScore is 0.
func Percent(raw, maxScore int) int {
	if maxScore <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(raw) / float64(maxScore)))
}
