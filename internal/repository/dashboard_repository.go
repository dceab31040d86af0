package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examroom/internal/model"
)

// DashboardRepository handles admin dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetSummaryCounts retrieves the high-level metrics for the dashboard.
func (r *DashboardRepository) GetSummaryCounts(ctx context.Context) (students, exams, pending, graded int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users WHERE role = $1),
			(SELECT COUNT(*) FROM exams),
			(SELECT COUNT(*) FROM submissions WHERE status = $2),
			(SELECT COUNT(*) FROM submissions WHERE status = $3)`,
		model.RoleStudent, model.SubmissionStatusSubmitted, model.SubmissionStatusGraded,
	).Scan(&students, &exams, &pending, &graded)
	return
}

// DashboardExamResult summarizes one exam's submissions.
type DashboardExamResult struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	CloseTime    *time.Time `json:"close_time"`
	Submissions  int        `json:"submissions"`
	Pending      int        `json:"pending"`
	AverageScore *float64   `json:"average_score"`
}

// GetExamResults returns the N most recently created exams with grading progress.
// The average only covers graded submissions.
func (r *DashboardRepository) GetExamResults(ctx context.Context, limit int) ([]DashboardExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
			e.id,
			e.title,
			e.close_time,
			COUNT(s.id),
			COUNT(s.id) FILTER (WHERE s.status = $1),
			AVG(s.score) FILTER (WHERE s.status = $2)
		 FROM exams e
		 LEFT JOIN submissions s ON s.exam_id = e.id
		 GROUP BY e.id
		 ORDER BY e.created_at DESC
		 LIMIT $3`,
		model.SubmissionStatusSubmitted, model.SubmissionStatusGraded, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []DashboardExamResult{}
	for rows.Next() {
		var d DashboardExamResult
		if err := rows.Scan(&d.ID, &d.Title, &d.CloseTime, &d.Submissions, &d.Pending, &d.AverageScore); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
