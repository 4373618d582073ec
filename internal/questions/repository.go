package questions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/apperr"
)

const questionColumns = `id, room_id, question_text, student_tag, upvotes, upvoted_by, status,
	is_reported, reported_by, report_count, created_at, answered_at`

// Repository handles question persistence in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new question.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (` + questionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query, q.ID, q.RoomID, q.Text, q.StudentTag, q.Upvotes,
		q.UpvotedBy.Slice(), string(q.Status), q.IsReported, q.ReportedBy.Slice(), q.ReportCount,
		q.CreatedAt, q.AnsweredAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	const query = `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "get question")
	}
	return q, nil
}

// ListByRoom returns the room's questions ordered by upvotes, newest first on ties.
func (r *Repository) ListByRoom(ctx context.Context, roomID uuid.UUID, includeRejected bool) ([]*models.Question, error) {
	const query = `SELECT ` + questionColumns + ` FROM questions
		WHERE room_id = $1 AND ($2 OR status <> 'rejected')
		ORDER BY upvotes DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, query, roomID, includeRejected)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var list []*models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// Update locks the row, applies fn and writes the result in one transaction.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn func(q *models.Question) error) (*models.Question, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT ` + questionColumns + ` FROM questions WHERE id = $1 FOR UPDATE`
	q, err := scanQuestion(tx.QueryRow(ctx, sel, id))
	if err != nil {
		return nil, notFound(err, "lock question")
	}
	if err := fn(q); err != nil {
		return nil, err
	}

	const upd = `UPDATE questions SET upvotes = $2, upvoted_by = $3, status = $4, is_reported = $5,
		reported_by = $6, report_count = $7, answered_at = $8 WHERE id = $1`
	_, err = tx.Exec(ctx, upd, q.ID, q.Upvotes, q.UpvotedBy.Slice(), string(q.Status), q.IsReported,
		q.ReportedBy.Slice(), q.ReportCount, q.AnsweredAt)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return q, nil
}

// Delete removes the question permanently.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("question not found")
	}
	return nil
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var (
		q          models.Question
		status     string
		upvotedBy  []string
		reportedBy []string
	)
	err := row.Scan(&q.ID, &q.RoomID, &q.Text, &q.StudentTag, &q.Upvotes, &upvotedBy, &status,
		&q.IsReported, &reportedBy, &q.ReportCount, &q.CreatedAt, &q.AnsweredAt)
	if err != nil {
		return nil, err
	}
	q.Status = models.QuestionStatus(status)
	q.UpvotedBy = models.NewTagSet(upvotedBy...)
	q.ReportedBy = models.NewTagSet(reportedBy...)
	return &q, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("question not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}
