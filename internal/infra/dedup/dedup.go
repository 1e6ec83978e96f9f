// Package dedup remembers provider event ids that were fully processed so a
// redelivered event can be acknowledged without touching the ledger.
//
// It is a fast path only. Losing entries (eviction, TTL, a Redis restart)
// is safe because the reconciler guards every write by session id.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reelreview/ledger/internal/domain"
)

// DefaultTTL covers the provider's redelivery window (three days).
const DefaultTTL = 72 * time.Hour

const keyPrefix = "reelpay:event:"

// ─── In-memory ──────────────────────────────────────────────────────────────

// Memory is a process-local deduper with per-entry expiry.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	queue   expiryQueue
	now     func() time.Time
}

// NewMemory creates an in-memory deduper.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, entries: make(map[string]time.Time), now: time.Now}
}

// Seen reports whether eventID was marked and has not expired.
func (m *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[eventID]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.entries, eventID)
		return false, nil
	}
	return true, nil
}

// MarkSeen records eventID until the TTL elapses.
func (m *Memory) MarkSeen(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evict(now)
	exp := now.Add(m.ttl)
	m.entries[eventID] = exp
	m.queue.push(expiryItem{eventID: eventID, expires: exp})
	return nil
}

// evict drops entries that expired before now. Callers hold m.mu.
func (m *Memory) evict(now time.Time) {
	for {
		top, ok := m.queue.peek()
		if !ok || !now.After(top.expires) {
			return
		}
		m.queue.pop()
		if exp, ok := m.entries[top.eventID]; ok && exp.Equal(top.expires) {
			delete(m.entries, top.eventID)
		}
	}
}

// Len returns the number of tracked ids, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ─── Redis ──────────────────────────────────────────────────────────────────

// Redis is a deduper shared across replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis creates a Redis-backed deduper.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Seen reports whether eventID is recorded.
func (r *Redis) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records eventID with the configured TTL.
func (r *Redis) MarkSeen(ctx context.Context, eventID string) error {
	if err := r.client.Set(ctx, keyPrefix+eventID, time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var (
	_ domain.EventDeduper = (*Memory)(nil)
	_ domain.EventDeduper = (*Redis)(nil)
)
