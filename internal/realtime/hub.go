package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	subscribeTimeout = 5 * time.Second
)

// Publisher publishes room events for other server instances.
type Publisher interface {
	PublishRoomEvent(roomCode, event string, payload []byte, exclude string) error
}

// Subscriber subscribes to a room's cross-instance channel and invokes handler for incoming events.
// ctx bounds the subscribe handshake only; the subscription lives until cancel is called.
type Subscriber interface {
	SubscribeRoom(ctx context.Context, roomCode string, handler func(event string, payload []byte, exclude string)) (cancel func(), err error)
}

// Hub maintains roomCode -> set of sessions and fans room events out to them.
// With a Publisher configured, events go through Redis and come back via the room
// subscription, so each session receives an event at most once across instances.
// Rooms without a live subscription on this instance are delivered locally.
type Hub struct {
	// roomCode -> map[clientID]*Client
	rooms       map[string]map[string]*Client
	subs        map[string]func() // cancel Redis subscription per room
	subscribing map[string]bool
	mu          sync.RWMutex
	logger      *zap.Logger
	pub         Publisher
	sub         Subscriber
	now         func() time.Time
	subTimeout  time.Duration
}

// NewHub creates a hub. pub and sub may be nil for a single-instance deployment.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[string]map[string]*Client),
		subs:        make(map[string]func()),
		subscribing: make(map[string]bool),
		logger:      logger,
		pub:         pub,
		sub:         sub,
		now:         time.Now,
		subTimeout:  subscribeTimeout,
	}
}

// Join subscribes c to roomCode and tells the other members. Joining a room the session
// already belongs to does nothing.
func (h *Hub) Join(c *Client, roomCode string) {
	if roomCode == "" {
		return
	}
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	members := h.rooms[roomCode]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[roomCode] = members
	}
	if _, ok := members[c.ID]; ok {
		h.mu.Unlock()
		return
	}
	members[c.ID] = c
	c.rooms[roomCode] = struct{}{}
	// A room whose earlier subscribe failed is retried on the next join.
	needSub := h.claimSubscriptionLocked(roomCode)
	h.mu.Unlock()

	if needSub {
		h.subscribe(roomCode)
	}

	h.logger.Debug("session joined room", zap.String("client_id", c.ID), zap.String("room_code", roomCode))
	h.notify(roomCode, EventUserJoined, MembershipNotice{
		Message:   "A student joined the room",
		Timestamp: h.now().UnixMilli(),
	}, c.ID)
}

// Leave removes c from roomCode and tells the remaining members.
func (h *Hub) Leave(c *Client, roomCode string) {
	h.mu.Lock()
	removed := h.removeLocked(c, roomCode)
	h.mu.Unlock()
	if !removed {
		return
	}

	h.logger.Debug("session left room", zap.String("client_id", c.ID), zap.String("room_code", roomCode))
	h.notify(roomCode, EventUserLeft, MembershipNotice{
		Message:   "A student left the room",
		Timestamp: h.now().UnixMilli(),
	}, c.ID)
}

// Disconnect drops c from every room without notices and closes its send queue.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	for code := range c.rooms {
		h.removeLocked(c, code)
	}
	c.closed = true
	close(c.send)
	h.logger.Debug("session disconnected", zap.String("client_id", c.ID))
}

// Broadcast delivers an event to every session subscribed to roomCode. Failures are
// logged and never reported to the caller.
func (h *Hub) Broadcast(roomCode, event string, payload interface{}) {
	metrics.Broadcast(event)
	h.notify(roomCode, event, payload, "")
}

// Members returns the number of sessions in roomCode on this instance.
func (h *Hub) Members(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// Rooms returns the room codes c currently belongs to.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for code := range c.rooms {
		out = append(out, code)
	}
	return out
}

func (h *Hub) notify(roomCode, event string, payload interface{}, exclude string) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode room event", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		err := h.pub.PublishRoomEvent(roomCode, event, data, exclude)
		if err == nil && h.subscribed(roomCode) {
			return
		}
		if err != nil {
			h.logger.Warn("publish room event, delivering locally",
				zap.String("room_code", roomCode), zap.String("event", event), zap.Error(err))
		}
	}
	h.deliver(roomCode, event, data, exclude)
}

// deliver sends to local sessions. Sends happen under the read lock so Disconnect cannot
// close a queue mid-send; a full queue drops the message.
func (h *Hub) deliver(roomCode, event string, data []byte, exclude string) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[roomCode] {
		if id == exclude {
			continue
		}
		select {
		case c.send <- msg:
		default:
			metrics.DeliveryDropped()
			h.logger.Debug("send buffer full, dropping", zap.String("client_id", id), zap.String("event", event))
		}
	}
}

// claimSubscriptionLocked reports whether the caller should subscribe roomCode, marking
// the attempt in flight so concurrent joins do not subscribe twice.
func (h *Hub) claimSubscriptionLocked(roomCode string) bool {
	if h.sub == nil || h.subscribing[roomCode] {
		return false
	}
	if _, ok := h.subs[roomCode]; ok {
		return false
	}
	h.subscribing[roomCode] = true
	return true
}

// subscribe runs the subscribe handshake without holding the hub lock.
func (h *Hub) subscribe(roomCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.subTimeout)
	defer cancel()
	stop, err := h.sub.SubscribeRoom(ctx, roomCode, func(event string, payload []byte, exclude string) {
		h.deliver(roomCode, event, payload, exclude)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribing, roomCode)
	if err != nil {
		h.logger.Warn("subscribe room channel, delivering locally", zap.String("room_code", roomCode), zap.Error(err))
		return
	}
	if len(h.rooms[roomCode]) == 0 {
		stop()
		return
	}
	h.subs[roomCode] = stop
}

func (h *Hub) subscribed(roomCode string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[roomCode]
	return ok
}

func (h *Hub) removeLocked(c *Client, roomCode string) bool {
	members, ok := h.rooms[roomCode]
	if !ok {
		return false
	}
	if _, ok := members[c.ID]; !ok {
		return false
	}
	delete(members, c.ID)
	delete(c.rooms, roomCode)
	if len(members) == 0 {
		delete(h.rooms, roomCode)
		if cancel, ok := h.subs[roomCode]; ok {
			cancel()
			delete(h.subs, roomCode)
		}
	}
	return true
}

func encode(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
