package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/apperr"
)

const roomColumns = `id, room_name, room_code, lecturer_id, lecturer_name, questions_visible,
	status, question_count, archive_key, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Repository handles room persistence in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a room.
func (r *Repository) Create(ctx context.Context, room *models.Room) error {
	const query = `INSERT INTO rooms (` + roomColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, room.ID, room.Name, room.Code, room.LecturerID, room.LecturerName,
		room.QuestionsVisible, string(room.Status), room.QuestionCount, room.ArchiveKey,
		room.CreatedAt, room.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.Conflict("room code %s is already in use", room.Code)
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetByID returns a room by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	room, err := scanRoom(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "get room")
	}
	return room, nil
}

// GetByCode returns a room by its public code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE room_code = $1`
	room, err := scanRoom(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		return nil, notFound(err, "get room by code")
	}
	return room, nil
}

// ListByLecturer returns the lecturer's rooms, newest first.
func (r *Repository) ListByLecturer(ctx context.Context, lecturerID uuid.UUID) ([]*models.Room, error) {
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE lecturer_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, lecturerID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var list []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		list = append(list, room)
	}
	return list, rows.Err()
}

// Update locks the room row, applies fn and writes the mutable fields back.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn func(room *models.Room) error) (*models.Room, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1 FOR UPDATE`
	room, err := scanRoom(tx.QueryRow(ctx, sel, id))
	if err != nil {
		return nil, notFound(err, "lock room")
	}
	if err := fn(room); err != nil {
		return nil, err
	}

	const upd = `UPDATE rooms SET room_name = $2, questions_visible = $3, status = $4, archive_key = $5,
		updated_at = NOW() WHERE id = $1 RETURNING updated_at`
	err = tx.QueryRow(ctx, upd, room.ID, room.Name, room.QuestionsVisible, string(room.Status), room.ArchiveKey).
		Scan(&room.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return room, nil
}

// AdjustQuestionCount adds delta to question_count, never going below zero.
func (r *Repository) AdjustQuestionCount(ctx context.Context, id uuid.UUID, delta int) error {
	const query = `UPDATE rooms SET question_count = GREATEST(question_count + $2, 0) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust question count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("room not found")
	}
	return nil
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var (
		room   models.Room
		status string
	)
	err := row.Scan(&room.ID, &room.Name, &room.Code, &room.LecturerID, &room.LecturerName,
		&room.QuestionsVisible, &status, &room.QuestionCount, &room.ArchiveKey,
		&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return nil, err
	}
	room.Status = models.RoomStatus(status)
	return &room, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("room not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}
