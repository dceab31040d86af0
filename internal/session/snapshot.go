package session

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

// AnswerSet maps question IDs to the current response.
type AnswerSet map[uuid.UUID]model.StudentAnswer

// MarshalJSON renders every answer in its wire shape, keyed by question ID.
func (s AnswerSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s))
	for id, a := range s {
		raw, err := model.EncodeStudentAnswer(a)
		if err != nil {
			return nil, err
		}
		out[id.String()] = raw
	}
	return json.Marshal(out)
}

// Snapshot is the view a student client renders.
type Snapshot struct {
	State            State     `json:"state"`
	SecondsRemaining int       `json:"seconds_remaining"`
	Violations       int       `json:"violations"`
	Warning          *string   `json:"warning"`
	Answers          AnswerSet `json:"answers"`
	Reason           Reason    `json:"reason,omitempty"`
}
