package questions

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/apperr"
)

// Store persists questions. Update runs fn against the current record as one atomic
// read-modify-write; if fn returns an error nothing is written.
type Store interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID, includeRejected bool) ([]*models.Question, error)
	Update(ctx context.Context, id uuid.UUID, fn func(q *models.Question) error) (*models.Question, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*models.Question
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory question store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{questions: make(map[uuid.UUID]*models.Question)}
}

// Create stores a copy of q.
func (s *MemoryStore) Create(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q.Clone()
	return nil
}

// GetByID returns a copy of the question.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, apperr.NotFound("question not found")
	}
	return q.Clone(), nil
}

// ListByRoom returns the room's questions ordered by upvotes, newest first on ties.
func (s *MemoryStore) ListByRoom(_ context.Context, roomID uuid.UUID, includeRejected bool) ([]*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Question
	for _, q := range s.questions {
		if q.RoomID != roomID {
			continue
		}
		if !includeRejected && q.Status == models.StatusRejected {
			continue
		}
		list = append(list, q.Clone())
	}
	SortForListing(list)
	return list, nil
}

// Update applies fn to a working copy under the store lock and commits it on success.
func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, fn func(q *models.Question) error) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.questions[id]
	if !ok {
		return nil, apperr.NotFound("question not found")
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.questions[id] = work
	return work.Clone(), nil
}

// Delete removes the question.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return apperr.NotFound("question not found")
	}
	delete(s.questions, id)
	return nil
}

// SortForListing orders by upvotes descending, then createdAt descending.
func SortForListing(list []*models.Question) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Upvotes != list[j].Upvotes {
			return list[i].Upvotes > list[j].Upvotes
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
