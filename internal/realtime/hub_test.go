package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func events(msgs []WSMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Event)
	}
	return out
}

func newTestHub() *Hub {
	h := NewHub(nil, nil, nil)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h
}

func TestHub_BroadcastReachesOnlyJoinedSessions(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	joined := NewClient(hub, nil, 8, nil)
	stranger := NewClient(hub, nil, 8, nil)

	// Given one session joined CS101A and another never joined
	hub.Join(joined, "CS101A")

	// When a question is created in that room
	hub.Broadcast("CS101A", EventNewQuestion, map[string]string{"questionText": "What is recursion?"})

	// Then only the joined session observes it
	got := drain(joined)
	req.Equal([]string{EventNewQuestion}, events(got))
	req.JSONEq(`{"questionText":"What is recursion?"}`, string(got[0].Data))
	req.Empty(drain(stranger))
}

func TestHub_JoinNotifiesOthersNotJoiner(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	first := NewClient(hub, nil, 8, nil)
	second := NewClient(hub, nil, 8, nil)

	hub.Join(first, "CS101A")
	hub.Join(second, "CS101A")

	req.Empty(drain(second))
	got := drain(first)
	req.Equal([]string{EventUserJoined}, events(got))

	var notice MembershipNotice
	req.NoError(json.Unmarshal(got[0].Data, &notice))
	req.Equal(int64(1700000000000), notice.Timestamp)
	req.Equal(2, hub.Members("CS101A"))
}

func TestHub_DuplicateJoinIsNoop(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	watcher := NewClient(hub, nil, 8, nil)
	c := NewClient(hub, nil, 8, nil)
	hub.Join(watcher, "CS101A")
	hub.Join(c, "CS101A")
	drain(watcher)

	hub.Join(c, "CS101A")

	req.Empty(drain(watcher))
	req.Equal(2, hub.Members("CS101A"))

	hub.Broadcast("CS101A", EventQuestionRestored, map[string]string{"questionId": "q"})
	req.Len(drain(c), 1)
}

func TestHub_LeaveNotifiesRemaining(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	stays := NewClient(hub, nil, 8, nil)
	leaves := NewClient(hub, nil, 8, nil)
	hub.Join(stays, "CS101A")
	hub.Join(leaves, "CS101A")
	drain(stays)

	hub.Leave(leaves, "CS101A")
	req.Equal([]string{EventUserLeft}, events(drain(stays)))
	req.Empty(drain(leaves))

	hub.Broadcast("CS101A", EventQuestionRemoved, map[string]string{"questionId": "q"})
	req.Empty(drain(leaves))
	req.Len(drain(stays), 1)

	// Leaving a room one never joined is silent
	hub.Leave(leaves, "CS101A")
	req.Empty(drain(stays))
}

func TestHub_SessionMayJoinSeveralRooms(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	c := NewClient(hub, nil, 8, nil)
	hub.Join(c, "CS101A")
	hub.Join(c, "DSA202")
	req.ElementsMatch([]string{"CS101A", "DSA202"}, hub.Rooms(c))

	hub.Broadcast("CS101A", EventNewQuestion, 1)
	hub.Broadcast("DSA202", EventNewQuestion, 2)
	req.Len(drain(c), 2)
}

func TestHub_DisconnectIsSilentAndClosesQueue(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	stays := NewClient(hub, nil, 8, nil)
	gone := NewClient(hub, nil, 8, nil)
	hub.Join(stays, "CS101A")
	hub.Join(gone, "CS101A")
	hub.Join(gone, "DSA202")
	drain(stays)

	hub.Disconnect(gone)
	hub.Disconnect(gone)

	req.Empty(drain(stays))
	req.Equal(0, hub.Members("DSA202"))
	req.Equal(1, hub.Members("CS101A"))
	_, open := <-gone.send
	req.False(open)

	// Broadcasting after disconnect must not touch the closed queue
	hub.Broadcast("DSA202", EventNewQuestion, 1)
	hub.Join(gone, "CS101A")
	req.Equal(1, hub.Members("CS101A"))
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	c := NewClient(hub, nil, 1, nil)
	hub.Join(c, "CS101A")

	hub.Broadcast("CS101A", EventNewQuestion, 1)
	hub.Broadcast("CS101A", EventNewQuestion, 2)

	got := drain(c)
	req.Len(got, 1)
	req.Equal(json.RawMessage("1"), got[0].Data)
}

// loopback stands in for Redis: published events come back through every subscription.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]func(event string, payload []byte, exclude string)
	fail     bool
	publish  int
	// subFails is how many subscribe attempts fail before one succeeds.
	subFails int
	// stall makes subscribe wait for its context to expire.
	stall      bool
	subscribes int
}

func (l *loopback) PublishRoomEvent(roomCode, event string, payload []byte, exclude string) error {
	l.mu.Lock()
	l.publish++
	h := l.handlers[roomCode]
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return errors.New("redis down")
	}
	if h != nil {
		h(event, payload, exclude)
	}
	return nil
}

func (l *loopback) SubscribeRoom(ctx context.Context, roomCode string, handler func(event string, payload []byte, exclude string)) (func(), error) {
	l.mu.Lock()
	l.subscribes++
	stall := l.stall
	l.mu.Unlock()
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subFails > 0 {
		l.subFails--
		return nil, errors.New("subscribe refused")
	}
	l.handlers[roomCode] = handler
	return func() {
		l.mu.Lock()
		delete(l.handlers, roomCode)
		l.mu.Unlock()
	}, nil
}

func TestHub_PublishesThroughRedisExactlyOnce(t *testing.T) {
	req := require.New(t)
	bus := &loopback{handlers: map[string]func(string, []byte, string){}}
	hub := NewHub(nil, bus, bus)
	a := NewClient(hub, nil, 8, nil)
	b := NewClient(hub, nil, 8, nil)
	hub.Join(a, "CS101A")
	hub.Join(b, "CS101A")
	drain(a)

	hub.Broadcast("CS101A", EventQuestionUpvoteUpdate, map[string]int{"upvotes": 1})

	req.Len(drain(a), 1)
	req.Len(drain(b), 1)

	// Last member leaving cancels the room subscription
	hub.Leave(a, "CS101A")
	hub.Leave(b, "CS101A")
	bus.mu.Lock()
	req.Empty(bus.handlers)
	bus.mu.Unlock()
}

func TestHub_PublishFailureFallsBackToLocal(t *testing.T) {
	req := require.New(t)
	bus := &loopback{handlers: map[string]func(string, []byte, string){}, fail: true}
	hub := NewHub(nil, bus, bus)
	c := NewClient(hub, nil, 8, nil)
	hub.Join(c, "CS101A")

	hub.Broadcast("CS101A", EventQuestionMarkedAnswered, map[string]string{"questionId": "q"})

	req.Equal([]string{EventQuestionMarkedAnswered}, events(drain(c)))
}

func TestHub_SubscribeFailureDeliversLocally(t *testing.T) {
	req := require.New(t)
	// Given publishing works but the room subscription cannot be established
	bus := &loopback{handlers: map[string]func(string, []byte, string){}, subFails: 1}
	hub := NewHub(nil, bus, bus)
	c := NewClient(hub, nil, 8, nil)
	hub.Join(c, "CS101A")

	// When two room events are broadcast
	hub.Broadcast("CS101A", EventNewQuestion, map[string]string{"questionId": "q1"})
	hub.Broadcast("CS101A", EventQuestionUpvoteUpdate, map[string]int{"upvotes": 1})

	// Then the joined session still receives both, exactly once
	req.Equal([]string{EventNewQuestion, EventQuestionUpvoteUpdate}, events(drain(c)))
	// other instances still get them: user-joined plus the two events
	req.Equal(3, bus.publish)
}

func TestHub_SubscribeRetriedOnNextJoin(t *testing.T) {
	req := require.New(t)
	bus := &loopback{handlers: map[string]func(string, []byte, string){}, subFails: 1}
	hub := NewHub(nil, bus, bus)
	a := NewClient(hub, nil, 8, nil)
	b := NewClient(hub, nil, 8, nil)

	hub.Join(a, "CS101A")
	req.False(hub.subscribed("CS101A"))

	hub.Join(b, "CS101A")
	req.True(hub.subscribed("CS101A"))
	req.Equal(2, bus.subscribes)
	drain(a)

	hub.Broadcast("CS101A", EventQuestionRemoved, map[string]string{"questionId": "q1"})
	req.Equal([]string{EventQuestionRemoved}, events(drain(a)))
	req.Equal([]string{EventQuestionRemoved}, events(drain(b)))
}

func TestHub_StalledSubscribeDoesNotBlockOtherRooms(t *testing.T) {
	req := require.New(t)
	bus := &loopback{handlers: map[string]func(string, []byte, string){}, stall: true}
	hub := NewHub(nil, bus, bus)
	hub.subTimeout = 200 * time.Millisecond
	other := NewClient(hub, nil, 8, nil)
	hub.subs["DSA202"] = func() {}
	hub.rooms["DSA202"] = map[string]*Client{other.ID: other}
	other.rooms["DSA202"] = struct{}{}

	joined := make(chan struct{})
	go func() {
		hub.Join(NewClient(hub, nil, 8, nil), "CS101A")
		close(joined)
	}()

	// While CS101A's subscribe hangs, other rooms keep working
	req.Eventually(func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.subscribes == 1
	}, time.Second, time.Millisecond)
	done := make(chan struct{})
	go func() {
		hub.Broadcast("DSA202", EventNewQuestion, 1)
		hub.Leave(other, "DSA202")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("hub blocked behind a stalled subscribe")
	}

	// And the stalled join gives up after the timeout
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("join never returned")
	}
	req.Equal(1, hub.Members("CS101A"))
	req.False(hub.subscribed("CS101A"))
}

func TestParseRoomCode(t *testing.T) {
	req := require.New(t)
	req.Equal("CS101A", parseRoomCode(json.RawMessage(`"cs101a "`)))
	req.Equal("DSA202", parseRoomCode(json.RawMessage(`{"roomCode":"DSA202"}`)))
	req.Equal("", parseRoomCode(json.RawMessage(`42`)))
}

func TestClient_HandleJoinAndLeave(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	c := NewClient(hub, nil, 8, nil)

	c.handle(WSMessage{Event: ActionJoinRoom, Data: json.RawMessage(`"CS101A"`)})
	req.Equal(1, hub.Members("CS101A"))

	c.handle(WSMessage{Event: "chat_message", Data: json.RawMessage(`"hi"`)})
	c.handle(WSMessage{Event: ActionLeaveRoom, Data: json.RawMessage(`{"roomCode":"cs101a"}`)})
	req.Equal(0, hub.Members("CS101A"))
}
