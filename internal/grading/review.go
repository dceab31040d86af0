package grading

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

// ReviewItem is one line of a student's graded result.
type ReviewItem struct {
	QuestionID    uuid.UUID          `json:"question_id"`
	Type          model.QuestionType `json:"type"`
	QuestionText  string             `json:"question_text"`
	Options       []string           `json:"options,omitempty"`
	ItemsToMatch  *model.MatchItems  `json:"items_to_match,omitempty"`
	StudentAnswer json.RawMessage    `json:"student_answer"`
	Score         int                `json:"score"`
	Correct       bool               `json:"correct"`
	// CorrectAnswer is set only for objective questions answered wrongly.
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// Review renders a graded submission for the student. Answers whose
// question is gone are skipped.
func Review(sub *model.Submission, questions []model.Question) ([]ReviewItem, error) {
	idx := NewIndex(questions)
	items := make([]ReviewItem, 0, len(sub.Answers))

	for _, a := range sub.Answers {
		q, ok := idx[a.QuestionID]
		if !ok {
			continue
		}
		raw, err := model.EncodeStudentAnswer(a.StudentAnswer)
		if err != nil {
			return nil, err
		}
		item := ReviewItem{
			QuestionID:    q.ID,
			Type:          q.Type,
			QuestionText:  q.QuestionText,
			Options:       q.Options,
			ItemsToMatch:  q.ItemsToMatch,
			StudentAnswer: raw,
			Score:         a.Score,
			Correct:       a.Score == model.PointsPerQuestion,
			Note:          a.Note,
		}
		if !item.Correct && !q.Type.ManuallyGraded() {
			key, err := answerKey(q)
			if err != nil {
				return nil, err
			}
			item.CorrectAnswer = key
		}
		items = append(items, item)
	}
	return items, nil
}

func answerKey(q *model.Question) (json.RawMessage, error) {
	if q.Type == model.QuestionTypeMatching {
		if q.ItemsToMatch == nil {
			return nil, nil
		}
		return json.Marshal(q.ItemsToMatch.Left)
	}
	return json.Marshal(q.CorrectAnswer)
}
