package rooms

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// TagIssuer hands out increasing per-room student numbers.
type TagIssuer interface {
	Next(ctx context.Context, roomCode string) (int64, error)
}

// StudentTag formats the anonymous tag for the n-th student to join a room.
func StudentTag(n int64) string {
	return fmt.Sprintf("Student #%d", n)
}

// RedisTagIssuer counts joins with INCR so numbers stay unique across instances.
type RedisTagIssuer struct {
	client redis.Cmdable
}

// NewRedisTagIssuer creates a Redis-backed tag issuer.
func NewRedisTagIssuer(client redis.Cmdable) *RedisTagIssuer {
	return &RedisTagIssuer{client: client}
}

func (r *RedisTagIssuer) Next(ctx context.Context, roomCode string) (int64, error) {
	n, err := r.client.Incr(ctx, "qbox:room:"+roomCode+":students").Result()
	if err != nil {
		return 0, fmt.Errorf("incr student counter: %w", err)
	}
	return n, nil
}

// MemoryTagIssuer counts joins in process.
type MemoryTagIssuer struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryTagIssuer creates an in-memory tag issuer.
func NewMemoryTagIssuer() *MemoryTagIssuer {
	return &MemoryTagIssuer{counts: make(map[string]int64)}
}

func (m *MemoryTagIssuer) Next(_ context.Context, roomCode string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[roomCode]++
	return m.counts[roomCode], nil
}
