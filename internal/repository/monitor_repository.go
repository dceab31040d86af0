package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examroom/internal/model"
)

// MonitorRepository reads what proctors need to watch an exam: recorded
// violations and who has already submitted.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetViolationCounts returns the highest recorded violation count per student.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, MAX(count)
		 FROM exam_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var sid, count int
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// GetSubmittedStudentIDs returns the students who have a submission for the exam.
func (r *MonitorRepository) GetSubmittedStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT student_id FROM submissions WHERE exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertViolations bulk-loads violation events with COPY.
func (r *MonitorRepository) InsertViolations(ctx context.Context, events []model.Violation) (int64, error) {
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"exam_id", "student_id", "count", "recorded_at"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.ExamID, e.StudentID, e.Count, e.RecordedAt}, nil
		}),
	)
}

// InsertViolation writes a single event; used when a COPY batch fails.
func (r *MonitorRepository) InsertViolation(ctx context.Context, e model.Violation) error {
	recorded := e.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (exam_id, student_id, count, recorded_at) VALUES ($1, $2, $3, $4)`,
		e.ExamID, e.StudentID, e.Count, recorded)
	return err
}
