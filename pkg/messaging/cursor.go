package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CursorStore persists the last-processed log offset per consumer, so a
// restarted consumer resumes where it stopped instead of replaying the
// whole feed from genesis.
type CursorStore interface {
	Load(ctx context.Context, consumer string) (uint64, error)
	Save(ctx context.Context, consumer string, offset uint64) error
}

// MemoryCursors keeps cursors in process memory.
type MemoryCursors struct {
	mu      sync.RWMutex
	offsets map[string]uint64
}

// NewMemoryCursors creates an empty in-memory cursor store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{offsets: make(map[string]uint64)}
}

// Load returns the saved offset, or 0 for an unknown consumer.
func (m *MemoryCursors) Load(ctx context.Context, consumer string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offsets[consumer], nil
}

// Save records the offset for the consumer.
func (m *MemoryCursors) Save(ctx context.Context, consumer string, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[consumer] = offset
	return nil
}

// RedisCursors persists cursors in redis so they survive daemon restarts.
type RedisCursors struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCursors creates a redis-backed cursor store. Keys are
// "<prefix>:<consumer>".
func NewRedisCursors(rdb *redis.Client, prefix string) *RedisCursors {
	if prefix == "" {
		prefix = "cursor"
	}
	return &RedisCursors{rdb: rdb, prefix: prefix}
}

func (r *RedisCursors) key(consumer string) string {
	return r.prefix + ":" + consumer
}

// Load returns the saved offset, or 0 for an unknown consumer.
func (r *RedisCursors) Load(ctx context.Context, consumer string) (uint64, error) {
	val, err := r.rdb.Get(ctx, r.key(consumer)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor for %s: %w", consumer, err)
	}
	offset, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor for %s: %w", consumer, err)
	}
	return offset, nil
}

// Save records the offset for the consumer.
func (r *RedisCursors) Save(ctx context.Context, consumer string, offset uint64) error {
	if err := r.rdb.Set(ctx, r.key(consumer), strconv.FormatUint(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", consumer, err)
	}
	return nil
}
