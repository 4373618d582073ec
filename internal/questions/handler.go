package questions

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/pkg/response"
)

// CreateRequest is the body for POST /questions.
type CreateRequest struct {
	QuestionText string `json:"questionText"`
	RoomID       string `json:"roomId"`
	StudentTag   string `json:"studentTag"`
}

// TagRequest is the body for the upvote and report endpoints.
type TagRequest struct {
	StudentTag string `json:"studentTag"`
}

// Handler exposes the question lifecycle over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a questions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the public routes on pub and the lecturer routes on priv.
func (h *Handler) Register(pub, priv gin.IRoutes) {
	pub.POST("/questions", h.Create)
	pub.GET("/rooms/:id/questions", h.ListByRoom)
	pub.PUT("/questions/:id/upvote", h.Upvote)
	pub.PUT("/questions/:id/report", h.Report)

	priv.PUT("/questions/:id/answer", h.Answer)
	priv.DELETE("/questions/:id", h.Reject)
	priv.PUT("/questions/:id/restore", h.Restore)
	priv.DELETE("/questions/:id/permanent", h.Purge)
}

// Create handles POST /questions (a student asks).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	roomID, err := uuid.Parse(req.RoomID)
	if err != nil && req.RoomID != "" {
		response.BadRequest(c, "invalid room id")
		return
	}

	q, err := h.svc.Create(c.Request.Context(), CreateInput{
		Text:       req.QuestionText,
		RoomID:     roomID,
		StudentTag: req.StudentTag,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// ListByRoom handles GET /rooms/:id/questions.
func (h *Handler) ListByRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	includeRejected, err := strconv.ParseBool(c.DefaultQuery("includeRejected", "false"))
	if err != nil {
		response.BadRequest(c, "includeRejected must be true or false")
		return
	}

	res, err := h.svc.List(c.Request.Context(), roomID, ListOptions{
		IncludeRejected: includeRejected,
		StudentTag:      c.Query("studentTag"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Upvote handles PUT /questions/:id/upvote (toggle).
func (h *Handler) Upvote(c *gin.Context) {
	questionID, req, ok := bindTag(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleUpvote(c.Request.Context(), questionID, req.StudentTag)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Report handles PUT /questions/:id/report.
func (h *Handler) Report(c *gin.Context) {
	questionID, req, ok := bindTag(c)
	if !ok {
		return
	}
	q, err := h.svc.Report(c.Request.Context(), questionID, req.StudentTag)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Answer handles PUT /questions/:id/answer (lecturer marks answered).
func (h *Handler) Answer(c *gin.Context) {
	questionID, userID, ok := lecturerTarget(c)
	if !ok {
		return
	}
	q, err := h.svc.MarkAnswered(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Reject handles DELETE /questions/:id (soft removal).
func (h *Handler) Reject(c *gin.Context) {
	questionID, userID, ok := lecturerTarget(c)
	if !ok {
		return
	}
	q, err := h.svc.Reject(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Restore handles PUT /questions/:id/restore.
func (h *Handler) Restore(c *gin.Context) {
	questionID, userID, ok := lecturerTarget(c)
	if !ok {
		return
	}
	q, err := h.svc.Restore(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Purge handles DELETE /questions/:id/permanent.
func (h *Handler) Purge(c *gin.Context) {
	questionID, userID, ok := lecturerTarget(c)
	if !ok {
		return
	}
	if err := h.svc.Purge(c.Request.Context(), questionID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": questionID, "deleted": true})
}

func bindTag(c *gin.Context) (uuid.UUID, TagRequest, bool) {
	var req TagRequest
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return questionID, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return questionID, req, false
	}
	return questionID, req, true
}

func lecturerTarget(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := c.Get(middleware.ContextUserID)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, uuid.Nil, false
	}
	return questionID, userID.(uuid.UUID), true
}
