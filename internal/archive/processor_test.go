package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/questions"
	"github.com/qbox-app/backend/internal/rooms"
	"github.com/qbox-app/backend/pkg/queue"
)

type fakeUploader struct {
	mu   sync.Mutex
	docs map[string][]byte
	err  error
}

func (f *fakeUploader) UploadArchive(_ context.Context, key string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.docs == nil {
		f.docs = make(map[string][]byte)
	}
	f.docs[key] = doc
	return nil
}

// fakeQueue hands out jobs once, then blocks until ctx is cancelled.
type fakeQueue struct {
	jobs    chan *queue.Job
	retried chan *queue.Job
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case job := <-f.jobs:
		return job, queue.QueueArchives, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (f *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	f.retried <- job
	return nil
}

func archiveJob(t *testing.T, roomID uuid.UUID) *queue.Job {
	payload, err := json.Marshal(queue.RoomArchivePayload{RoomID: roomID})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeRoomArchive, Payload: payload}
}

type env struct {
	rooms     *rooms.MemoryStore
	questions *questions.MemoryStore
	room      *models.Room
}

func newEnv(t *testing.T) *env {
	ctx := context.Background()
	e := &env{rooms: rooms.NewMemoryStore(), questions: questions.NewMemoryStore()}
	e.room = &models.Room{ID: uuid.New(), Name: "Networks", Code: "NET301", LecturerID: uuid.New(), Status: models.RoomClosed}
	require.NoError(t, e.rooms.Create(ctx, e.room))

	for i, status := range []models.QuestionStatus{models.StatusPending, models.StatusAnswered, models.StatusRejected} {
		require.NoError(t, e.questions.Create(ctx, &models.Question{
			ID:         uuid.New(),
			RoomID:     e.room.ID,
			Text:       "question " + string(status),
			StudentTag: "Student #1",
			UpvotedBy:  models.NewTagSet(),
			ReportedBy: models.NewTagSet(),
			Status:     status,
			CreatedAt:  time.Date(2024, 3, 1, 10, i, 0, 0, time.UTC),
		}))
	}
	return e
}

func TestProcessor_Process(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	up := &fakeUploader{}
	p := NewProcessor(e.rooms, e.questions, up, nil, nil)
	p.now = func() time.Time { return time.Unix(1709290000, 0) }

	req.NoError(p.Process(context.Background(), archiveJob(t, e.room.ID)))

	key := "archives/NET301/" + e.room.ID.String() + "-1709290000.json"
	req.Contains(up.docs, key)

	var doc Document
	req.NoError(json.Unmarshal(up.docs[key], &doc))
	req.Equal(e.room.ID, doc.Room.ID)
	req.Len(doc.Questions, 3, "rejected questions are archived too")

	room, err := e.rooms.GetByID(context.Background(), e.room.ID)
	req.NoError(err)
	req.Equal(key, room.ArchiveKey)
}

func TestProcessor_ProcessErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p := NewProcessor(e.rooms, e.questions, &fakeUploader{}, nil, nil)
	err := p.Process(ctx, &queue.Job{Type: "email"})
	assert.ErrorContains(t, err, "unknown job type")

	err = p.Process(ctx, archiveJob(t, uuid.New()))
	assert.ErrorContains(t, err, "load room")

	failing := NewProcessor(e.rooms, e.questions, &fakeUploader{err: errors.New("access denied")}, nil, nil)
	err = failing.Process(ctx, archiveJob(t, e.room.ID))
	assert.ErrorContains(t, err, "access denied")

	room, err := e.rooms.GetByID(ctx, e.room.ID)
	require.NoError(t, err)
	assert.Empty(t, room.ArchiveKey)
}

func TestProcessor_RunRetriesFailedJobs(t *testing.T) {
	e := newEnv(t)
	q := &fakeQueue{jobs: make(chan *queue.Job, 2), retried: make(chan *queue.Job, 1)}
	up := &fakeUploader{}
	p := NewProcessor(e.rooms, e.questions, up, q, nil)
	p.backoff = time.Millisecond

	bad := archiveJob(t, uuid.New())
	q.jobs <- bad
	q.jobs <- archiveJob(t, e.room.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case job := <-q.retried:
		assert.Equal(t, bad.ID, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("failed job was not retried")
	}

	require.Eventually(t, func() bool {
		room, err := e.rooms.GetByID(context.Background(), e.room.ID)
		return err == nil && room.ArchiveKey != ""
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
