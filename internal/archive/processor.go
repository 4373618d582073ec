// Package archive snapshots closed rooms to object storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/queue"
	"github.com/qbox-app/backend/pkg/storage"
)

// RoomStore loads a room and records where its archive went.
type RoomStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	Update(ctx context.Context, id uuid.UUID, fn func(room *models.Room) error) (*models.Room, error)
}

// QuestionLister lists every question in a room.
type QuestionLister interface {
	ListByRoom(ctx context.Context, roomID uuid.UUID, includeRejected bool) ([]*models.Question, error)
}

// Uploader stores an archive document under key.
type Uploader interface {
	UploadArchive(ctx context.Context, key string, doc []byte) error
}

// JobQueue is the source of archive jobs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Document is the JSON body written for a room.
type Document struct {
	Room       *models.Room       `json:"room"`
	Questions  []*models.Question `json:"questions"`
	ArchivedAt time.Time          `json:"archivedAt"`
}

// Processor handles room archive jobs: load room and questions, upload JSON, store the key.
type Processor struct {
	rooms     RoomStore
	questions QuestionLister
	uploader  Uploader
	queue     JobQueue
	logger    *zap.Logger
	now       func() time.Time
	backoff   time.Duration
}

// NewProcessor creates a room archive processor.
func NewProcessor(rooms RoomStore, questions QuestionLister, uploader Uploader, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		rooms:     rooms,
		questions: questions,
		uploader:  uploader,
		queue:     q,
		logger:    logger,
		now:       time.Now,
		backoff:   queue.RetryBackoff,
	}
}

// Process executes one room archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRoomArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RoomArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	room, err := p.rooms.GetByID(ctx, payload.RoomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", payload.RoomID, err)
	}
	list, err := p.questions.ListByRoom(ctx, room.ID, true)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if list == nil {
		list = []*models.Question{}
	}

	at := p.now().UTC()
	doc, err := json.Marshal(Document{Room: room, Questions: list, ArchivedAt: at})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	key := storage.ArchiveKey(room.Code, room.ID.String(), at)
	if err := p.uploader.UploadArchive(ctx, key, doc); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	_, err = p.rooms.Update(ctx, room.ID, func(r *models.Room) error {
		r.ArchiveKey = key
		return nil
	})
	if err != nil {
		return fmt.Errorf("store archive key: %w", err)
	}

	p.logger.Info("room archived", zap.String("room_id", room.ID.String()), zap.String("s3_key", key),
		zap.Int("questions", len(list)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
