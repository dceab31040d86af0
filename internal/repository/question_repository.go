package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examroom/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, type, question_text, options, correct_answer, items_to_match, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Type, &q.QuestionText, &q.Options,
			&q.CorrectAnswer, &q.ItemsToMatch, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// nullableKeys returns the JSONB columns of q, with empty values as NULL.
func nullableKeys(q *model.Question) (options, items any) {
	if len(q.Options) > 0 {
		options = q.Options
	}
	if q.ItemsToMatch != nil {
		items = q.ItemsToMatch
	}
	return options, items
}

// Create inserts a new question. Empty options and match items are stored as NULL.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	options, items := nullableKeys(q)
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, type, question_text, options, correct_answer, items_to_match, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		q.ExamID, q.Type, q.QuestionText, options, q.CorrectAnswer, items, q.OrderNum,
	).Scan(&q.ID)
}

// Update replaces a question of the given exam.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	options, items := nullableKeys(q)
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions
		 SET type = $1, question_text = $2, options = $3, correct_answer = $4, items_to_match = $5, order_num = $6
		 WHERE id = $7 AND exam_id = $8`,
		q.Type, q.QuestionText, options, q.CorrectAnswer, items, q.OrderNum, q.ID, q.ExamID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Delete removes a question of the given exam. Stored answers to it are kept.
func (r *QuestionRepository) Delete(ctx context.Context, examID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1 AND exam_id = $2`, id, examID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
