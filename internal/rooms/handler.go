package rooms

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/pkg/response"
)

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	RoomName string `json:"roomName" binding:"required"`
	RoomCode string `json:"roomCode"`
}

// JoinRequest is the body for POST /rooms/join.
type JoinRequest struct {
	RoomCode string `json:"roomCode" binding:"required"`
}

// VisibilityRequest is the body for PATCH /rooms/:id/visibility.
type VisibilityRequest struct {
	QuestionsVisible *bool `json:"questionsVisible" binding:"required"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a rooms handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the public routes on pub and the lecturer routes on priv.
func (h *Handler) Register(pub, priv gin.IRoutes) {
	pub.POST("/rooms/join", h.Join)
	pub.GET("/rooms/code/:code", h.GetByCode)

	priv.POST("/rooms", h.Create)
	priv.GET("/rooms/mine", h.ListMine)
	priv.PATCH("/rooms/:id/visibility", h.SetVisibility)
	priv.POST("/rooms/:id/close", h.Close)
	priv.POST("/rooms/:id/reopen", h.Reopen)
	priv.GET("/rooms/:id/archive-url", h.ArchiveURL)
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	room, err := h.svc.Create(c.Request.Context(), userID, CreateInput{Name: req.RoomName, Code: req.RoomCode})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, room)
}

// ListMine handles GET /rooms/mine.
func (h *Handler) ListMine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.svc.ListMine(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"count": len(list), "rooms": list})
}

// Join handles POST /rooms/join (a student enters a room by code).
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Join(c.Request.Context(), req.RoomCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// GetByCode handles GET /rooms/code/:code.
func (h *Handler) GetByCode(c *gin.Context) {
	room, err := h.svc.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, room)
}

// SetVisibility handles PATCH /rooms/:id/visibility.
func (h *Handler) SetVisibility(c *gin.Context) {
	roomID, userID, ok := ownerTarget(c)
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	room, err := h.svc.SetVisibility(c.Request.Context(), roomID, userID, *req.QuestionsVisible)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, room)
}

// Close handles POST /rooms/:id/close.
func (h *Handler) Close(c *gin.Context) {
	roomID, userID, ok := ownerTarget(c)
	if !ok {
		return
	}
	room, err := h.svc.Close(c.Request.Context(), roomID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, room)
}

// Reopen handles POST /rooms/:id/reopen.
func (h *Handler) Reopen(c *gin.Context) {
	roomID, userID, ok := ownerTarget(c)
	if !ok {
		return
	}
	room, err := h.svc.Reopen(c.Request.Context(), roomID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, room)
}

// ArchiveURL handles GET /rooms/:id/archive-url.
func (h *Handler) ArchiveURL(c *gin.Context) {
	roomID, userID, ok := ownerTarget(c)
	if !ok {
		return
	}
	url, err := h.svc.ArchiveURL(c.Request.Context(), roomID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, false
	}
	return v.(uuid.UUID), true
}

func ownerTarget(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := currentUser(c)
	return roomID, userID, ok
}
