package grading

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

// Item pairs a resolved answer with its question.
type Item struct {
	Answer   model.Answer
	Question *model.Question
}

// Sheet is a submission opened for grading. Objective answers are scored
// when the sheet is built; manual answers wait for SetManualScore.
type Sheet struct {
	submission *model.Submission
	questions  Index
	answers    []model.Answer
}

// NewSheet copies the submission's answers and auto-grades them unless the
// submission is already final.
func NewSheet(sub *model.Submission, questions []model.Question) *Sheet {
	answers := make([]model.Answer, len(sub.Answers))
	copy(answers, sub.Answers)

	s := &Sheet{submission: sub, questions: NewIndex(questions), answers: answers}
	if !sub.Graded() {
		AutoGrade(s.answers, s.questions)
	}
	return s
}

// Submission returns the submission as loaded.
func (s *Sheet) Submission() *model.Submission { return s.submission }

// Graded reports whether the submission is final.
func (s *Sheet) Graded() bool { return s.submission.Graded() }

// Items lists the answers whose question could be resolved, in submission order.
func (s *Sheet) Items() []Item {
	items := make([]Item, 0, len(s.answers))
	for _, a := range s.answers {
		if q, ok := s.questions[a.QuestionID]; ok {
			items = append(items, Item{Answer: a, Question: q})
		}
	}
	return items
}

// Unresolved counts answers that reference a missing question.
func (s *Sheet) Unresolved() int {
	n := 0
	for _, a := range s.answers {
		if _, ok := s.questions[a.QuestionID]; !ok {
			n++
		}
	}
	return n
}

// PendingManual counts free-text answers that still score 0 without a note.
func (s *Sheet) PendingManual() int {
	n := 0
	for _, it := range s.Items() {
		if it.Question.Type.ManuallyGraded() && it.Answer.Score == 0 && it.Answer.Note == "" {
			n++
		}
	}
	return n
}

// MaxScore is 10 points per resolved answer.
func (s *Sheet) MaxScore() int {
	_, maxScore := Totals(s.answers, s.questions)
	return maxScore
}

// RawScore sums the current points over resolved answers.
func (s *Sheet) RawScore() int {
	raw, _ := Totals(s.answers, s.questions)
	return raw
}

// Percent previews the final score.
func (s *Sheet) Percent() int {
	if s.Graded() {
		return s.submission.Score
	}
	return Percent(Totals(s.answers, s.questions))
}

// SetManualScore applies the two-option rubric to a free-text answer.
func (s *Sheet) SetManualScore(questionID uuid.UUID, score int) error {
	if s.Graded() {
		return ErrAlreadyGraded
	}
	if score != 0 && score != model.PointsPerQuestion {
		return ErrInvalidScore
	}
	a, q, err := s.find(questionID)
	if err != nil {
		return err
	}
	if !q.Type.ManuallyGraded() {
		return fmt.Errorf("%w: %s", ErrNotManual, q.Type)
	}
	a.Score = score
	return nil
}

// SetNote attaches grader feedback to a free-text answer. It is shown to the
// student with the result.
func (s *Sheet) SetNote(questionID uuid.UUID, note string) error {
	if s.Graded() {
		return ErrAlreadyGraded
	}
	a, q, err := s.find(questionID)
	if err != nil {
		return err
	}
	if !q.Type.ManuallyGraded() {
		return fmt.Errorf("%w: %s", ErrNotManual, q.Type)
	}
	a.Note = note
	return nil
}

// Final builds the graded submission: the answers as scored on the sheet,
// unresolved answers untouched, and the percentage score.
func (s *Sheet) Final(now time.Time) (*model.Submission, error) {
	if s.Graded() {
		return nil, ErrAlreadyGraded
	}
	out := *s.submission
	out.Answers = make([]model.Answer, len(s.answers))
	copy(out.Answers, s.answers)
	out.Score = Percent(Totals(s.answers, s.questions))
	out.Status = model.SubmissionStatusGraded
	out.GradedAt = &now
	return &out, nil
}

func (s *Sheet) find(questionID uuid.UUID) (*model.Answer, *model.Question, error) {
	q, ok := s.questions[questionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	for i := range s.answers {
		if s.answers[i].QuestionID == questionID {
			return &s.answers[i], q, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
}
