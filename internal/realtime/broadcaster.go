//go:generate go run go.uber.org/mock/mockgen -source=broadcaster.go -destination=../mocks/mock_broadcaster.go -package=mocks
package realtime

// Broadcaster fans a room event out to the room's sessions. *Hub implements it.
type Broadcaster interface {
	Broadcast(roomCode, event string, payload interface{})
}

var _ Broadcaster = (*Hub)(nil)
