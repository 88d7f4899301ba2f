package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/model"
)

// IdempotencyStore remembers the result of each webhook delivery so that a
// redelivery returns the original result instead of starting a second
// execution. Keys have the form "whk:{triggerId}:{deliveryId}".
type IdempotencyStore interface {
	// Check looks up a previous result by key. If the key exists with a
	// different body hash it returns a CONFLICT error.
	Check(ctx context.Context, key, bodyHash string) (result *model.InvokeResult, found bool, err error)

	// Store saves a result under key for ttl.
	Store(ctx context.Context, key, bodyHash string, result model.InvokeResult, ttl time.Duration) error
}

type idempotencyEntry struct {
	BodyHash string             `json:"body_hash"`
	Result   model.InvokeResult `json:"result"`
}

// FormatDeliveryKey builds the idempotency key for one webhook delivery.
func FormatDeliveryKey(triggerID, deliveryID string) string {
	return fmt.Sprintf("whk:%s:%s", triggerID, deliveryID)
}

// HashBody returns the hex SHA-256 of a raw request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func reusedKeyError(key string) error {
	return model.NewConflictError(fmt.Sprintf("delivery %q was already received with a different body", key))
}

// NewIdempotencyStore builds the store cfg selects. The returned close
// function releases any connection the store holds.
func NewIdempotencyStore(cfg config.IdempotencyConfig) (IdempotencyStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryIdempotencyStore(), func() error { return nil }, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency: %s is not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return NewRedisIdempotencyStore(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("idempotency: unknown driver %q", cfg.Driver)
	}
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore keeps entries in process memory. Suitable for
// tests and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memEntry), now: time.Now}
}

// Check looks up a cached result.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key, bodyHash string) (*model.InvokeResult, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	if entry.data.BodyHash != bodyHash {
		return nil, true, reusedKeyError(key)
	}

	result := entry.data.Result
	return &result, true, nil
}

// Store saves a result with a TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key, bodyHash string, result model.InvokeResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      idempotencyEntry{BodyHash: bodyHash, Result: result},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always succeeds.
func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore shares delivery results across instances.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached result in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key, bodyHash string) (*model.InvokeResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if entry.BodyHash != bodyHash {
		return nil, true, reusedKeyError(key)
	}
	return &entry.Result, true, nil
}

// Store saves a result in Redis with a TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key, bodyHash string, result model.InvokeResult, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{BodyHash: bodyHash, Result: result})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
