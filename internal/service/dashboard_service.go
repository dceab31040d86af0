package service

import (
	"context"

	"github.com/stemsi/examroom/internal/repository"
)

// DashboardData consolidates all metrics for the admin dashboard.
type DashboardData struct {
	TotalStudents      int                              `json:"total_students"`
	TotalExams         int                              `json:"total_exams"`
	PendingGrading     int                              `json:"pending_grading"`
	GradedSubmissions  int                              `json:"graded_submissions"`
	LiveAttempts       int                              `json:"live_attempts"`
	RecentExamProgress []repository.DashboardExamResult `json:"recent_exams"`
}

// DashboardService handles admin dashboard business logic.
type DashboardService struct {
	repo     *repository.DashboardRepository
	sessions *ExamSessionService
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo *repository.DashboardRepository, sessions *ExamSessionService) *DashboardService {
	return &DashboardService{repo: repo, sessions: sessions}
}

// GetDashboardData gathers the summary counts and per-exam grading progress.
func (s *DashboardService) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	students, exams, pending, graded, err := s.repo.GetSummaryCounts(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.GetExamResults(ctx, 5)
	if err != nil {
		return nil, err
	}

	return &DashboardData{
		TotalStudents:      students,
		TotalExams:         exams,
		PendingGrading:     pending,
		GradedSubmissions:  graded,
		LiveAttempts:       s.sessions.ActiveCount(),
		RecentExamProgress: recent,
	}, nil
}
