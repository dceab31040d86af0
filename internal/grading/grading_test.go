package grading

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mcQuestion(correct string) model.Question {
	return model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeMultipleChoice,
		QuestionText:  "Pick one",
		Options:       []string{"w", "x", "y", "z"},
		CorrectAnswer: correct,
	}
}

func answerFor(q model.Question, a model.StudentAnswer) model.Answer {
	return model.Answer{QuestionID: q.ID, Type: q.Type, StudentAnswer: a}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 0))
	assert.Equal(t, 0, Percent(10, 0))
	assert.Equal(t, 50, Percent(10, 20))
	assert.Equal(t, 33, Percent(10, 30))
	assert.Equal(t, 67, Percent(20, 30))
	assert.Equal(t, 100, Percent(30, 30))
	// 12.5 rounds half away from zero
	assert.Equal(t, 13, Percent(10, 80))
}

func TestAutoGradeIsIdempotent(t *testing.T) {
	q1, q2 := mcQuestion("A"), mcQuestion("B")
	tf := model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, QuestionText: "?", CorrectAnswer: "true"}
	answers := []model.Answer{
		answerFor(q1, model.ChoiceAnswer{Label: "A"}),
		answerFor(q2, model.ChoiceAnswer{Label: "C"}),
		answerFor(tf, model.TrueFalseAnswer{Value: "true"}),
	}
	idx := NewIndex([]model.Question{q1, q2, tf})

	AutoGrade(answers, idx)
	first := []int{answers[0].Score, answers[1].Score, answers[2].Score}
	AutoGrade(answers, idx)

	assert.Equal(t, []int{10, 0, 10}, first)
	assert.Equal(t, first, []int{answers[0].Score, answers[1].Score, answers[2].Score})
}

func TestAutoGradeMatchingHasNoPartialCredit(t *testing.T) {
	q := model.Question{ID: uuid.New(), Type: model.QuestionTypeMatching, QuestionText: "Capitals", ItemsToMatch: &model.MatchItems{
		Left:  []string{"Paris", "Rome", "Berlin"},
		Right: []string{"France", "Italy", "Germany"},
	}}
	idx := NewIndex([]model.Question{q})

	for _, guesses := range [][]string{{"A", "B", "C"}, {"A", "B", "B"}, {"A", "", "C"}, {"C", "B", "A"}} {
		answers := []model.Answer{answerFor(q, model.MatchingAnswer{Guesses: guesses})}
		AutoGrade(answers, idx)
		assert.Contains(t, []int{0, 10}, answers[0].Score)
	}

	answers := []model.Answer{answerFor(q, model.MatchingAnswer{Guesses: []string{"A", "B", "B"}})}
	AutoGrade(answers, idx)
	assert.Equal(t, 0, answers[0].Score)
}

func TestAutoGradeKeepsManualScores(t *testing.T) {
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, QuestionText: "Discuss"}
	answers := []model.Answer{{QuestionID: essay.ID, Type: essay.Type, StudentAnswer: model.EssayText{Text: "..."}, Score: 10}}

	AutoGrade(answers, NewIndex([]model.Question{essay}))
	assert.Equal(t, 10, answers[0].Score)
}

func TestSheetEndToEnd(t *testing.T) {
	q1, q2 := mcQuestion("A"), mcQuestion("B")
	sub := &model.Submission{
		ID:     uuid.New(),
		Status: model.SubmissionStatusSubmitted,
		Answers: []model.Answer{
			answerFor(q1, model.ChoiceAnswer{Label: "A"}),
			answerFor(q2, model.ChoiceAnswer{Label: "C"}),
		},
	}

	sheet := NewSheet(sub, []model.Question{q1, q2})
	items := sheet.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 10, items[0].Answer.Score)
	assert.Equal(t, 0, items[1].Answer.Score)
	assert.Equal(t, 20, sheet.MaxScore())
	assert.Equal(t, 10, sheet.RawScore())

	final, err := sheet.Final(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, final.Score)
	assert.Equal(t, model.SubmissionStatusGraded, final.Status)
	assert.NotNil(t, final.GradedAt)

	// the loaded submission is not modified
	assert.Equal(t, model.SubmissionStatusSubmitted, sub.Status)
	assert.Zero(t, sub.Answers[0].Score)
}

func TestSheetManualScoring(t *testing.T) {
	mc := mcQuestion("A")
	short := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, QuestionText: "Powerhouse of the cell?"}
	sub := &model.Submission{
		Status: model.SubmissionStatusSubmitted,
		Answers: []model.Answer{
			answerFor(mc, model.ChoiceAnswer{Label: "B"}),
			answerFor(short, model.ShortAnswerText{Text: "mitochondria"}),
		},
	}
	sheet := NewSheet(sub, []model.Question{mc, short})
	assert.Equal(t, 1, sheet.PendingManual())

	assert.ErrorIs(t, sheet.SetManualScore(short.ID, 5), ErrInvalidScore)
	assert.ErrorIs(t, sheet.SetManualScore(mc.ID, 10), ErrNotManual)
	assert.ErrorIs(t, sheet.SetManualScore(uuid.New(), 10), ErrUnknownQuestion)
	assert.ErrorIs(t, sheet.SetNote(mc.ID, "Look at option A"), ErrNotManual)

	require.NoError(t, sheet.SetManualScore(short.ID, 10))
	require.NoError(t, sheet.SetNote(short.ID, "Exactly right"))
	assert.Equal(t, 0, sheet.PendingManual())
	assert.Equal(t, 50, sheet.Percent())

	final, err := sheet.Final(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, final.Score)
	assert.Equal(t, "Exactly right", final.Answers[1].Note)
	assert.Equal(t, 10, final.Answers[1].Score)
}

func TestSheetGradedIsImmutable(t *testing.T) {
	short := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, QuestionText: "?"}
	sub := &model.Submission{
		Status:  model.SubmissionStatusGraded,
		Score:   0,
		Answers: []model.Answer{answerFor(short, model.ShortAnswerText{Text: "x"})},
	}
	sheet := NewSheet(sub, []model.Question{short})

	assert.ErrorIs(t, sheet.SetManualScore(short.ID, 10), ErrAlreadyGraded)
	assert.ErrorIs(t, sheet.SetNote(short.ID, "late"), ErrAlreadyGraded)
	_, err := sheet.Final(time.Now())
	assert.ErrorIs(t, err, ErrAlreadyGraded)
	assert.Equal(t, 0, sub.Answers[0].Score)
	assert.Empty(t, sub.Answers[0].Note)
}

func TestSheetUnresolvedAnswersAreExcluded(t *testing.T) {
	q := mcQuestion("A")
	ghost := model.Answer{QuestionID: uuid.New(), Type: model.QuestionTypeMultipleChoice, StudentAnswer: model.ChoiceAnswer{Label: "A"}, Score: 10}
	sub := &model.Submission{
		Status:  model.SubmissionStatusSubmitted,
		Answers: []model.Answer{answerFor(q, model.ChoiceAnswer{Label: "A"}), ghost},
	}
	sheet := NewSheet(sub, []model.Question{q})

	assert.Equal(t, 1, sheet.Unresolved())
	assert.Len(t, sheet.Items(), 1)
	assert.Equal(t, 10, sheet.MaxScore())

	final, err := sheet.Final(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, final.Score)
	require.Len(t, final.Answers, 2)
	assert.Equal(t, ghost, final.Answers[1])
}

func TestSheetWithoutQuestionsScoresZero(t *testing.T) {
	sheet := NewSheet(&model.Submission{Status: model.SubmissionStatusSubmitted}, nil)
	assert.Equal(t, 0, sheet.MaxScore())

	final, err := sheet.Final(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, final.Score)
}

func TestReview(t *testing.T) {
	mc := mcQuestion("A")
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, QuestionText: "Discuss"}
	sub := &model.Submission{
		Status: model.SubmissionStatusGraded,
		Answers: []model.Answer{
			{QuestionID: mc.ID, Type: mc.Type, StudentAnswer: model.ChoiceAnswer{Label: "C"}, Score: 0},
			{QuestionID: essay.ID, Type: essay.Type, StudentAnswer: model.EssayText{Text: "..."}, Score: 0, Note: "Too short"},
			{QuestionID: uuid.New(), Type: model.QuestionTypeEssay},
		},
	}

	items, err := Review(sub, []model.Question{mc, essay})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.False(t, items[0].Correct)
	assert.JSONEq(t, `"C"`, string(items[0].StudentAnswer))
	assert.JSONEq(t, `"A"`, string(items[0].CorrectAnswer))

	assert.Nil(t, items[1].CorrectAnswer)
	assert.Equal(t, "Too short", items[1].Note)
}
