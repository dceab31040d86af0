package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/session"
)

// ProgressReader supplies the stored side of exam monitoring.
type ProgressReader interface {
	GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int, error)
	GetSubmittedStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error)
}

// StudentProgress is one student's row on the monitor.
type StudentProgress struct {
	StudentID        int           `json:"student_id"`
	State            session.State `json:"state"`
	SecondsRemaining int           `json:"seconds_remaining"`
	Answered         int           `json:"answered"`
	Violations       int           `json:"violations"`
	Submitted        bool          `json:"submitted"`
}

// ExamProgress is the monitor snapshot for one exam.
type ExamProgress struct {
	Students        []StudentProgress `json:"students"`
	TotalInProgress int               `json:"total_in_progress"`
	TotalSubmitted  int               `json:"total_submitted"`
	TotalViolations int               `json:"total_violations"`
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	progress ProgressReader
	sessions *ExamSessionService
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(progress ProgressReader, sessions *ExamSessionService) *MonitorService {
	return &MonitorService{progress: progress, sessions: sessions}
}

// GetProgress merges running attempts with stored violations and submissions.
// Stored data is fetched concurrently; violation counts are best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	var (
		violations    map[int]int
		submitted     []int
		violationsErr error
		submittedErr  error
		wg            sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		submitted, submittedErr = s.progress.GetSubmittedStudentIDs(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		violations, violationsErr = s.progress.GetViolationCounts(ctx, examID)
	}()
	wg.Wait()

	if submittedErr != nil {
		return nil, submittedErr
	}
	if violationsErr != nil {
		violations = map[int]int{}
	}

	rows := make(map[int]*StudentProgress)
	row := func(sid int) *StudentProgress {
		r, ok := rows[sid]
		if !ok {
			r = &StudentProgress{StudentID: sid}
			rows[sid] = r
		}
		return r
	}

	for _, sid := range submitted {
		r := row(sid)
		r.Submitted = true
		r.State = session.StateTerminated
	}
	for sid, n := range violations {
		row(sid).Violations = n
	}
	for _, live := range s.sessions.LiveAttempts(examID) {
		r := row(live.StudentID)
		if !r.Submitted {
			r.State = live.State
		}
		r.SecondsRemaining = live.SecondsRemaining
		r.Answered = live.Answered
		if live.Violations > r.Violations {
			r.Violations = live.Violations
		}
	}

	out := &ExamProgress{Students: make([]StudentProgress, 0, len(rows))}
	for _, r := range rows {
		switch {
		case r.Submitted:
			out.TotalSubmitted++
		case r.State == session.StateActive || r.State == session.StateTerminating:
			out.TotalInProgress++
		}
		out.TotalViolations += r.Violations
		out.Students = append(out.Students, *r)
	}
	sort.Slice(out.Students, func(i, j int) bool { return out.Students[i].StudentID < out.Students[j].StudentID })
	return out, nil
}
