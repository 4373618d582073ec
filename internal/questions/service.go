package questions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/pkg/apperr"
)

// RoomStore is the slice of the room registry the lifecycle engine needs.
type RoomStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	AdjustQuestionCount(ctx context.Context, id uuid.UUID, delta int) error
}

// Censor rewrites question text before it is stored.
type Censor interface {
	Censor(text string) string
}

// CreateInput is a student's new question.
type CreateInput struct {
	Text       string    `validate:"required,max=500"`
	RoomID     uuid.UUID `validate:"required"`
	StudentTag string    `validate:"required,max=64"`
}

// ListOptions controls List. StudentTag, when set, annotates each entry for that student.
type ListOptions struct {
	IncludeRejected bool
	StudentTag      string
}

// QuestionView is a question as seen by one student.
type QuestionView struct {
	*models.Question
	Upvoted bool `json:"upvoted"`
	Mine    bool `json:"mine"`
}

// ListResult is the room's ordered question list plus its visibility flag.
type ListResult struct {
	Count            int             `json:"count"`
	Questions        []*QuestionView `json:"questions"`
	QuestionsVisible bool            `json:"questionsVisible"`
}

// UpvoteResult is the question after a toggle and whether the caller's upvote is active.
type UpvoteResult struct {
	*models.Question
	Upvoted bool `json:"upvoted"`
}

// Service is the question lifecycle engine. Every mutation is validated against the
// stores, applied atomically to one question, then broadcast to the question's room.
type Service struct {
	store    Store
	rooms    RoomStore
	hub      realtime.Broadcaster
	censor   Censor
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the lifecycle engine. censor and logger may be nil.
func NewService(store Store, rooms RoomStore, hub realtime.Broadcaster, censor Censor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		rooms:    rooms,
		hub:      hub,
		censor:   censor,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Create posts a new pending question into an active room.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.StudentTag = strings.TrimSpace(in.StudentTag)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	room, err := s.rooms.GetByID(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if room.IsClosed() {
		return nil, apperr.Conflict("room is closed")
	}

	text := in.Text
	if s.censor != nil {
		text = s.censor.Censor(text)
	}
	q := &models.Question{
		ID:         uuid.New(),
		RoomID:     room.ID,
		Text:       text,
		StudentTag: in.StudentTag,
		UpvotedBy:  models.NewTagSet(),
		Status:     models.StatusPending,
		ReportedBy: models.NewTagSet(),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}
	if err := s.rooms.AdjustQuestionCount(ctx, room.ID, 1); err != nil {
		s.logger.Error("increment question count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}

	s.hub.Broadcast(room.Code, realtime.EventNewQuestion, q)
	return q, nil
}

// List returns the room's questions, most upvoted first and newest first on ties.
func (s *Service) List(ctx context.Context, roomID uuid.UUID, opts ListOptions) (*ListResult, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListByRoom(ctx, roomID, opts.IncludeRejected)
	if err != nil {
		return nil, err
	}
	SortForListing(list)

	tag := strings.TrimSpace(opts.StudentTag)
	views := lo.Map(list, func(q *models.Question, _ int) *QuestionView {
		v := &QuestionView{Question: q}
		if tag != "" {
			v.Upvoted = q.UpvotedBy.Has(tag)
			v.Mine = q.StudentTag == tag
		}
		return v
	})
	return &ListResult{
		Count:            len(views),
		Questions:        views,
		QuestionsVisible: room.QuestionsVisible,
	}, nil
}

// ToggleUpvote flips studentTag's upvote on the question.
func (s *Service) ToggleUpvote(ctx context.Context, id uuid.UUID, studentTag string) (*UpvoteResult, error) {
	tag, err := requireTag(studentTag)
	if err != nil {
		return nil, err
	}
	var upvoted bool
	q, err := s.store.Update(ctx, id, func(q *models.Question) error {
		upvoted = q.ToggleUpvote(tag)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(ctx, q.RoomID, realtime.EventQuestionUpvoteUpdate, eventData{"questionId": q.ID, "upvotes": q.Upvotes})
	return &UpvoteResult{Question: q, Upvoted: upvoted}, nil
}

// Report flags the question once per studentTag. Reports are not broadcast.
func (s *Service) Report(ctx context.Context, id uuid.UUID, studentTag string) (*models.Question, error) {
	tag, err := requireTag(studentTag)
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, id, func(q *models.Question) error {
		if !q.AddReport(tag) {
			return apperr.Conflict("question already reported by this student")
		}
		return nil
	})
}

// MarkAnswered sets the question answered. Repeating it moves answeredAt forward.
func (s *Service) MarkAnswered(ctx context.Context, id, requester uuid.UUID) (*models.Question, error) {
	room, err := s.authorize(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	q, err := s.store.Update(ctx, id, func(q *models.Question) error {
		at := s.now().UTC()
		q.Status = models.StatusAnswered
		q.AnsweredAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.hub.Broadcast(room.Code, realtime.EventQuestionMarkedAnswered, eventData{"questionId": q.ID})
	return q, nil
}

// Reject hides the question from the default listing without deleting it.
func (s *Service) Reject(ctx context.Context, id, requester uuid.UUID) (*models.Question, error) {
	return s.setStatus(ctx, id, requester, models.StatusRejected, realtime.EventQuestionRemoved)
}

// Restore returns the question to pending from any status.
func (s *Service) Restore(ctx context.Context, id, requester uuid.UUID) (*models.Question, error) {
	return s.setStatus(ctx, id, requester, models.StatusPending, realtime.EventQuestionRestored)
}

// Purge deletes the question permanently and decrements the room's question count.
func (s *Service) Purge(ctx context.Context, id, requester uuid.UUID) error {
	room, err := s.authorize(ctx, id, requester)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.rooms.AdjustQuestionCount(ctx, room.ID, -1); err != nil {
		s.logger.Error("decrement question count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}

	s.hub.Broadcast(room.Code, realtime.EventQuestionPermanentDelete, eventData{"questionId": id})
	return nil
}

func (s *Service) setStatus(ctx context.Context, id, requester uuid.UUID, status models.QuestionStatus, event string) (*models.Question, error) {
	room, err := s.authorize(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	q, err := s.store.Update(ctx, id, func(q *models.Question) error {
		q.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.hub.Broadcast(room.Code, event, eventData{"questionId": q.ID})
	return q, nil
}

// authorize loads the question's room and checks requester owns it.
func (s *Service) authorize(ctx context.Context, id, requester uuid.UUID) (*models.Room, error) {
	q, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, q.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.OwnedBy(requester) {
		return nil, apperr.Forbidden("only the room's lecturer can manage its questions")
	}
	return room, nil
}

// broadcast resolves the room code for roomID. A lookup failure drops the event.
func (s *Service) broadcast(ctx context.Context, roomID uuid.UUID, event string, payload interface{}) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		s.logger.Warn("resolve room for broadcast", zap.String("room_id", roomID.String()),
			zap.String("event", event), zap.Error(err))
		return
	}
	s.hub.Broadcast(room.Code, event, payload)
}

// eventData is a small JSON event payload.
type eventData = map[string]interface{}

func requireTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", apperr.Validation("studentTag is required")
	}
	return tag, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid input")
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Text":
		if fe.Tag() == "max" {
			return apperr.Validation("question text must be at most %d characters", models.MaxQuestionLength)
		}
		return apperr.Validation("question text is required")
	case "RoomID":
		return apperr.Validation("roomId is required")
	case "StudentTag":
		if fe.Tag() == "max" {
			return apperr.Validation("studentTag is too long")
		}
		return apperr.Validation("studentTag is required")
	}
	return apperr.Validation("invalid %s", fe.Field())
}
