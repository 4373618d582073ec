package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // rooms are public; CORS is enforced on the REST API
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket session. Its room set and closed flag are
// guarded by the hub's lock.
type Client struct {
	ID     string
	UserID uuid.UUID // zero for anonymous students
	Role   string
	rooms  map[string]struct{}
	closed bool
	send   chan WSMessage
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger
}

// NewClient creates a session with a buffered send queue of size buf.
func NewClient(hub *Hub, conn *websocket.Conn, buf int, logger *zap.Logger) *Client {
	if buf <= 0 {
		buf = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:     uuid.New().String(),
		rooms:  make(map[string]struct{}),
		send:   make(chan WSMessage, buf),
		hub:    hub,
		conn:   conn,
		logger: logger,
	}
}

// Send returns the session's outbound queue.
func (c *Client) Send() <-chan WSMessage { return c.send }

// TokenValidator resolves an optional lecturer token to a user id and role.
type TokenValidator func(token string) (userID uuid.UUID, role string, err error)

// ServeWs handles the WebSocket upgrade and runs the client loop. Students connect
// anonymously; a lecturer may pass ?token= to be identified.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, sendBuffer int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			userID uuid.UUID
			role   string
		)
		if token := c.Query("token"); token != "" && validate != nil {
			id, r, err := validate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
				return
			}
			userID, role = id, r
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, sendBuffer, logger)
		client.UserID = userID
		client.Role = role
		metrics.SessionOpened()
		logger.Debug("session connected", zap.String("client_id", client.ID))

		if code := c.Query("room"); code != "" {
			hub.Join(client, normalizeCode(code))
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		metrics.SessionClosed()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

// handle applies one client action. Unknown events are ignored.
func (c *Client) handle(msg WSMessage) {
	switch msg.Event {
	case ActionJoinRoom:
		if code := parseRoomCode(msg.Data); code != "" {
			c.hub.Join(c, code)
		}
	case ActionLeaveRoom:
		if code := parseRoomCode(msg.Data); code != "" {
			c.hub.Leave(c, code)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseRoomCode accepts either a bare JSON string or {"roomCode": "..."}.
func parseRoomCode(data json.RawMessage) string {
	var code string
	if err := json.Unmarshal(data, &code); err == nil {
		return normalizeCode(code)
	}
	var obj struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return normalizeCode(obj.RoomCode)
	}
	return ""
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
