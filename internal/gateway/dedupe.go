package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeStore records webhook delivery ids so redelivered webhooks are
// acknowledged without reprocessing. Entries expire after the redelivery
// window, keeping the set bounded.
type DedupeStore interface {
	// MarkSeen records the delivery id and reports whether it had
	// already been seen. Check and record are one atomic operation.
	MarkSeen(ctx context.Context, deliveryID string) (bool, error)
}

const dedupeKeyPrefix = "webhook:delivery:"

// RedisDedupeStore keeps the seen-set in Redis with TTL eviction, shared
// across replicas.
type RedisDedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupeStore builds a Redis-backed dedupe store.
func NewRedisDedupeStore(client *redis.Client, ttl time.Duration) *RedisDedupeStore {
	return &RedisDedupeStore{client: client, ttl: ttl}
}

func (s *RedisDedupeStore) MarkSeen(ctx context.Context, deliveryID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, dedupeKeyPrefix+deliveryID, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// MemoryDedupeStore is an in-process fallback with the same TTL
// semantics, used when Redis is not configured and in tests. Expired
// entries are swept lazily on insert.
type MemoryDedupeStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDedupeStore builds an in-memory dedupe store.
func NewMemoryDedupeStore(ttl time.Duration) *MemoryDedupeStore {
	return &MemoryDedupeStore{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryDedupeStore) MarkSeen(_ context.Context, deliveryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, expires := range s.seen {
		if now.After(expires) {
			delete(s.seen, id)
		}
	}

	if expires, ok := s.seen[deliveryID]; ok && now.Before(expires) {
		return true, nil
	}
	s.seen[deliveryID] = now.Add(s.ttl)
	return false, nil
}
