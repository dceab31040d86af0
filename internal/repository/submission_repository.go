package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examroom/internal/model"
)

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, exam_id, student_id, answers, violations, status, score, created_at, graded_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	var raw []byte
	if err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &raw, &s.Violations,
		&s.Status, &s.Score, &s.CreatedAt, &s.GradedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of submission %s: %w", s.ID, err)
	}
	return s, nil
}

func encodeAnswers(answers []model.Answer) ([]byte, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	return json.Marshal(answers)
}

// Create inserts a submitted attempt and fills in its ID and timestamp.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	raw, err := encodeAnswers(s.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if s.Status == "" {
		s.Status = model.SubmissionStatusSubmitted
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, student_id, answers, violations, status, score)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		s.ExamID, s.StudentID, raw, s.Violations, s.Status, s.Score,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetByID retrieves a submission with its answers.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// Finalize writes the graded answers and score in one statement. The update
// only applies while the row is still submitted, so two graders racing on the
// same submission cannot both win.
func (r *SubmissionRepository) Finalize(ctx context.Context, s *model.Submission) error {
	raw, err := encodeAnswers(s.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET answers = $2, score = $3, status = $4, graded_at = $5
		 WHERE id = $1 AND status = $6`,
		s.ID, raw, s.Score, model.SubmissionStatusGraded, s.GradedAt, model.SubmissionStatusSubmitted,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE id = $1)`, s.ID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return model.ErrNotFound
	}
	return model.ErrAlreadyGraded
}

// ExistsForStudent reports whether the student already submitted the exam.
func (r *SubmissionRepository) ExistsForStudent(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&exists)
	return exists, err
}

// ListByExamPaginated returns submission summaries for an exam, oldest first,
// joined with the student's display name.
func (r *SubmissionRepository) ListByExamPaginated(ctx context.Context, examID uuid.UUID, status model.SubmissionStatus, limit, offset int) ([]model.SubmissionSummary, int, error) {
	where := `WHERE s.exam_id = $1`
	args := []any{examID}
	if status != "" {
		where += ` AND s.status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions s `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT s.id, s.exam_id, s.student_id, u.display_name, s.violations, s.status, s.score, s.created_at
		 FROM submissions s
		 JOIN users u ON u.id = s.student_id
		 %s
		 ORDER BY s.created_at
		 LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.SubmissionSummary
	for rows.Next() {
		var s model.SubmissionSummary
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StudentName,
			&s.Violations, &s.Status, &s.Score, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListByStudent returns every submission a student made, newest first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE student_id = $1
		 ORDER BY created_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
