package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/internal/rooms"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type handlerEnv struct {
	router   *gin.Engine
	rooms    *rooms.MemoryStore
	room     *models.Room
	lecturer uuid.UUID
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	gin.SetMode(gin.TestMode)
	env := &handlerEnv{rooms: rooms.NewMemoryStore(), lecturer: uuid.New()}
	env.room = &models.Room{
		ID:               uuid.New(),
		Name:             "Algorithms",
		Code:             "DSA202",
		LecturerID:       env.lecturer,
		QuestionsVisible: true,
		Status:           models.RoomActive,
	}
	require.NoError(t, env.rooms.Create(context.Background(), env.room))

	svc := NewService(NewMemoryStore(), env.rooms, realtime.NewHub(nil, nil, nil), nil, nil)
	h := NewHandler(svc)

	env.router = gin.New()
	// Stand-in for the JWT middleware: X-User carries the caller id.
	priv := env.router.Group("", func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-User"))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(middleware.ContextUserID, id)
	})
	h.Register(env.router, priv)
	return env
}

func (e *handlerEnv) do(t *testing.T, method, path string, body interface{}, user uuid.UUID) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		r.Header.Set("X-User", user.String())
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func (e *handlerEnv) create(t *testing.T, text, tag string) *models.Question {
	code, body := e.do(t, http.MethodPost, "/questions", gin.H{
		"questionText": text, "roomId": e.room.ID.String(), "studentTag": tag,
	}, uuid.Nil)
	require.Equal(t, http.StatusCreated, code, body.Error)
	var q models.Question
	require.NoError(t, json.Unmarshal(body.Data, &q))
	return &q
}

func TestHandler_CreateAndList(t *testing.T) {
	req := require.New(t)
	env := newHandlerEnv(t)

	q := env.create(t, "What is dynamic programming?", "Student #1")
	req.Equal(models.StatusPending, q.Status)
	req.Equal("What is dynamic programming?", q.Text)

	code, body := env.do(t, http.MethodGet, "/rooms/"+env.room.ID.String()+"/questions?studentTag=Student%20%231", nil, uuid.Nil)
	req.Equal(http.StatusOK, code)
	var list struct {
		Count     int `json:"count"`
		Questions []struct {
			ID   uuid.UUID `json:"id"`
			Mine bool      `json:"mine"`
		} `json:"questions"`
		QuestionsVisible bool `json:"questionsVisible"`
	}
	req.NoError(json.Unmarshal(body.Data, &list))
	req.Equal(1, list.Count)
	req.True(list.Questions[0].Mine)
	req.True(list.QuestionsVisible)
}

func TestHandler_CreateErrors(t *testing.T) {
	req := require.New(t)
	env := newHandlerEnv(t)

	code, body := env.do(t, http.MethodPost, "/questions", gin.H{"roomId": env.room.ID.String(), "studentTag": "Student #1"}, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)
	req.False(body.Success)

	code, _ = env.do(t, http.MethodPost, "/questions", gin.H{
		"questionText": "Hello?", "roomId": uuid.NewString(), "studentTag": "Student #1",
	}, uuid.Nil)
	req.Equal(http.StatusNotFound, code)

	_, err := env.rooms.Update(context.Background(), env.room.ID, func(r *models.Room) error {
		r.Status = models.RoomClosed
		return nil
	})
	req.NoError(err)
	code, body = env.do(t, http.MethodPost, "/questions", gin.H{
		"questionText": "Hello?", "roomId": env.room.ID.String(), "studentTag": "Student #1",
	}, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)
	req.Equal("room is closed", body.Error)
}

func TestHandler_UpvoteAndReport(t *testing.T) {
	req := require.New(t)
	env := newHandlerEnv(t)
	q := env.create(t, "Is merge sort stable?", "Student #1")
	path := "/questions/" + q.ID.String()

	code, body := env.do(t, http.MethodPut, path+"/upvote", gin.H{"studentTag": "Student #2"}, uuid.Nil)
	req.Equal(http.StatusOK, code)
	var up struct {
		Upvotes int  `json:"upvotes"`
		Upvoted bool `json:"upvoted"`
	}
	req.NoError(json.Unmarshal(body.Data, &up))
	req.Equal(1, up.Upvotes)
	req.True(up.Upvoted)

	code, _ = env.do(t, http.MethodPut, path+"/upvote", gin.H{}, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPut, path+"/report", gin.H{"studentTag": "Student #2"}, uuid.Nil)
	req.Equal(http.StatusOK, code)
	code, body = env.do(t, http.MethodPut, path+"/report", gin.H{"studentTag": "Student #2"}, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)
	req.False(body.Success)

	code, _ = env.do(t, http.MethodPut, "/questions/"+uuid.NewString()+"/upvote", gin.H{"studentTag": "Student #2"}, uuid.Nil)
	req.Equal(http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodPut, "/questions/not-a-uuid/upvote", gin.H{"studentTag": "Student #2"}, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)
}

func TestHandler_LecturerActions(t *testing.T) {
	req := require.New(t)
	env := newHandlerEnv(t)
	q := env.create(t, "Will this be on the exam?", "Student #3")
	path := "/questions/" + q.ID.String()

	code, _ := env.do(t, http.MethodPut, path+"/answer", nil, uuid.New())
	req.Equal(http.StatusForbidden, code)

	code, body := env.do(t, http.MethodPut, path+"/answer", nil, env.lecturer)
	req.Equal(http.StatusOK, code)
	var answered models.Question
	req.NoError(json.Unmarshal(body.Data, &answered))
	req.Equal(models.StatusAnswered, answered.Status)
	req.NotNil(answered.AnsweredAt)

	code, body = env.do(t, http.MethodDelete, path, nil, env.lecturer)
	req.Equal(http.StatusOK, code)
	var rejected models.Question
	req.NoError(json.Unmarshal(body.Data, &rejected))
	req.Equal(models.StatusRejected, rejected.Status)

	code, _ = env.do(t, http.MethodPut, path+"/restore", nil, env.lecturer)
	req.Equal(http.StatusOK, code)

	code, body = env.do(t, http.MethodDelete, path+"/permanent", nil, env.lecturer)
	req.Equal(http.StatusOK, code)
	req.JSONEq(`{"id":"`+q.ID.String()+`","deleted":true}`, string(body.Data))

	code, _ = env.do(t, http.MethodDelete, path+"/permanent", nil, env.lecturer)
	req.Equal(http.StatusNotFound, code)
}

func TestHandler_ListIncludeRejected(t *testing.T) {
	req := require.New(t)
	env := newHandlerEnv(t)
	q := env.create(t, "Off-topic question", "Student #4")
	code, _ := env.do(t, http.MethodDelete, "/questions/"+q.ID.String(), nil, env.lecturer)
	req.Equal(http.StatusOK, code)

	base := "/rooms/" + env.room.ID.String() + "/questions"
	count := func(query string) int {
		code, body := env.do(t, http.MethodGet, base+query, nil, uuid.Nil)
		req.Equal(http.StatusOK, code)
		var list struct {
			Count int `json:"count"`
		}
		req.NoError(json.Unmarshal(body.Data, &list))
		return list.Count
	}
	req.Equal(0, count(""))
	req.Equal(1, count("?includeRejected=true"))
	req.Equal(1, count("?includeRejected=1"))

	code, body := env.do(t, http.MethodGet, base+"?includeRejected=yes", nil, uuid.Nil)
	req.Equal(http.StatusBadRequest, code)
	req.Equal("includeRejected must be true or false", body.Error)
}
