package model

import (
	"time"

	"github.com/google/uuid"
)

// Violation is one counted focus-loss event during an attempt.
type Violation struct {
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	Count      int       `json:"count"`
	RecordedAt time.Time `json:"recorded_at"`
}
