package rooms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/apperr"
)

// Store persists rooms. Create fails with a conflict when the code is taken.
type Store interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	ListByLecturer(ctx context.Context, lecturerID uuid.UUID) ([]*models.Room, error)
	Update(ctx context.Context, id uuid.UUID, fn func(room *models.Room) error) (*models.Room, error)
	AdjustQuestionCount(ctx context.Context, id uuid.UUID, delta int) error
}

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*models.Room
	codes map[string]uuid.UUID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[uuid.UUID]*models.Room),
		codes: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[room.Code]; taken {
		return apperr.Conflict("room code %s is already in use", room.Code)
	}
	cp := *room
	s.rooms[room.ID] = &cp
	s.codes[room.Code] = room.ID
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room not found")
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, apperr.NotFound("room not found")
	}
	cp := *s.rooms[id]
	return &cp, nil
}

// ListByLecturer returns the lecturer's rooms, newest first.
func (s *MemoryStore) ListByLecturer(_ context.Context, lecturerID uuid.UUID) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Room
	for _, r := range s.rooms {
		if r.LecturerID == lecturerID {
			cp := *r
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, fn func(room *models.Room) error) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room not found")
	}
	work := *r
	if err := fn(&work); err != nil {
		return nil, err
	}
	work.UpdatedAt = time.Now().UTC()
	s.rooms[id] = &work
	out := work
	return &out, nil
}

// AdjustQuestionCount adds delta to the room's question count, never going below zero.
func (s *MemoryStore) AdjustQuestionCount(_ context.Context, id uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return apperr.NotFound("room not found")
	}
	r.QuestionCount += delta
	if r.QuestionCount < 0 {
		r.QuestionCount = 0
	}
	return nil
}
