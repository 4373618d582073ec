package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/pkg/apperr"
)

const (
	// codeAlphabet omits 0, O, 1 and I.
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength     = 6
	codeGenRetries = 5
)

// Lecturers resolves a lecturer's display name.
type Lecturers interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ArchiveQueue schedules a room snapshot.
type ArchiveQueue interface {
	EnqueueRoomArchive(ctx context.Context, roomID uuid.UUID) error
}

// ArchivePresigner turns an archive key into a time-limited download URL.
type ArchivePresigner interface {
	PresignArchive(ctx context.Context, key string) (string, error)
}

// CreateInput is a lecturer's new room. Code is optional.
type CreateInput struct {
	Name string `validate:"required,max=100"`
	Code string `validate:"omitempty,alphanum,min=4,max=10"`
}

// JoinResult is what a student receives on joining: the room and an anonymous tag.
type JoinResult struct {
	Room       *models.Room `json:"room"`
	StudentTag string       `json:"studentTag"`
}

// Service manages rooms on behalf of lecturers and admits students.
type Service struct {
	store     Store
	lecturers Lecturers
	tags      TagIssuer
	hub       realtime.Broadcaster
	archives  ArchiveQueue
	presigner ArchivePresigner
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithArchiveQueue enqueues an archive job whenever a room is closed.
func WithArchiveQueue(q ArchiveQueue) Option {
	return func(s *Service) { s.archives = q }
}

// WithArchivePresigner enables archive download links.
func WithArchivePresigner(p ArchivePresigner) Option {
	return func(s *Service) { s.presigner = p }
}

// NewService creates the room service.
func NewService(store Store, lecturers Lecturers, tags TagIssuer, hub realtime.Broadcaster, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		lecturers: lecturers,
		tags:      tags,
		hub:       hub,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new active room owned by lecturerID. Without a custom code a random
// one is generated.
func (s *Service) Create(ctx context.Context, lecturerID uuid.UUID, in CreateInput) (*models.Room, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = NormalizeCode(in.Code)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	lecturer, err := s.lecturers.GetByID(ctx, lecturerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	room := &models.Room{
		ID:               uuid.New(),
		Name:             in.Name,
		Code:             in.Code,
		LecturerID:       lecturer.ID,
		LecturerName:     lecturer.FullName,
		QuestionsVisible: true,
		Status:           models.RoomActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if room.Code != "" {
		if err := s.store.Create(ctx, room); err != nil {
			return nil, err
		}
		return room, nil
	}

	for i := 0; i < codeGenRetries; i++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		room.Code = code
		err = s.store.Create(ctx, room)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
	}
	return nil, errors.New("could not allocate a unique room code")
}

// Join admits a student into an active room and issues their anonymous tag.
func (s *Service) Join(ctx context.Context, code string) (*JoinResult, error) {
	room, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.IsClosed() {
		return nil, apperr.Conflict("room is closed")
	}
	n, err := s.tags.Next(ctx, room.Code)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Room: room, StudentTag: StudentTag(n)}, nil
}

// GetByCode looks a room up by its public code, case-insensitively.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validation("roomCode is required")
	}
	return s.store.GetByCode(ctx, code)
}

// GetByID returns a room.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.store.GetByID(ctx, id)
}

// ListMine returns the lecturer's rooms, newest first.
func (s *Service) ListMine(ctx context.Context, lecturerID uuid.UUID) ([]*models.Room, error) {
	return s.store.ListByLecturer(ctx, lecturerID)
}

// SetVisibility shows or hides the question list for students.
func (s *Service) SetVisibility(ctx context.Context, id, requester uuid.UUID, visible bool) (*models.Room, error) {
	room, err := s.store.Update(ctx, id, func(r *models.Room) error {
		if !r.OwnedBy(requester) {
			return forbidden()
		}
		r.QuestionsVisible = visible
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(room.Code, realtime.EventVisibilityChanged, map[string]interface{}{
		"roomId":           room.ID,
		"questionsVisible": room.QuestionsVisible,
	})
	return room, nil
}

// Close stops the room accepting questions and schedules an archive snapshot.
func (s *Service) Close(ctx context.Context, id, requester uuid.UUID) (*models.Room, error) {
	room, err := s.setStatus(ctx, id, requester, models.RoomClosed)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(room.Code, realtime.EventRoomClosed, map[string]interface{}{"roomId": room.ID})

	if s.archives != nil {
		if err := s.archives.EnqueueRoomArchive(ctx, room.ID); err != nil {
			s.logger.Error("enqueue room archive", zap.String("room_id", room.ID.String()), zap.Error(err))
		}
	}
	return room, nil
}

// Reopen lets a closed room accept questions again.
func (s *Service) Reopen(ctx context.Context, id, requester uuid.UUID) (*models.Room, error) {
	room, err := s.setStatus(ctx, id, requester, models.RoomActive)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(room.Code, realtime.EventRoomReopened, map[string]interface{}{"roomId": room.ID})
	return room, nil
}

// ArchiveURL returns a download link for the room's latest archive.
func (s *Service) ArchiveURL(ctx context.Context, id, requester uuid.UUID) (string, error) {
	if s.presigner == nil {
		return "", apperr.Unavailable("archive storage is not configured")
	}
	room, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !room.OwnedBy(requester) {
		return "", forbidden()
	}
	if room.ArchiveKey == "" {
		return "", apperr.NotFound("room has no archive yet")
	}
	return s.presigner.PresignArchive(ctx, room.ArchiveKey)
}

func (s *Service) setStatus(ctx context.Context, id, requester uuid.UUID, status models.RoomStatus) (*models.Room, error) {
	return s.store.Update(ctx, id, func(r *models.Room) error {
		if !r.OwnedBy(requester) {
			return forbidden()
		}
		if r.Status == status {
			return apperr.Conflict("room is already %s", status)
		}
		r.Status = status
		return nil
	})
}

// GenerateCode returns a random room code drawn from an unambiguous alphabet.
func GenerateCode() (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode trims and uppercases a room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func forbidden() error {
	return apperr.Forbidden("only the room's lecturer can manage it")
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid input")
	}
	switch fe := verrs[0]; fe.Field() {
	case "Name":
		if fe.Tag() == "max" {
			return apperr.Validation("roomName must be at most 100 characters")
		}
		return apperr.Validation("roomName is required")
	case "Code":
		return apperr.Validation("roomCode must be 4 to 10 letters or digits")
	}
	return apperr.Validation("invalid input")
}
