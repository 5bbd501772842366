// internal/otp/store.go
package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("OTP_NOT_FOUND")

// Code is a stored one-time password. ExpiresAt is kept alongside the value
// so stores without native TTL support can expire entries themselves.
type Code struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c Code) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Store persists one code per user. Put replaces any previous code for the
// same user.
type Store interface {
	Put(ctx context.Context, userID string, code Code, ttl time.Duration) error
	Get(ctx context.Context, userID string) (Code, error)
	Delete(ctx context.Context, userID string) error
}

const redisKeyPrefix = "otp:"

// RedisStore keeps codes in Redis under a TTL so abandoned codes clean
// themselves up.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, userID string, code Code, ttl time.Duration) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal otp code: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+userID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store otp code: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Code, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Code{}, ErrNotFound
		}
		return Code{}, fmt.Errorf("fetch otp code: %w", err)
	}

	var code Code
	if err := json.Unmarshal(payload, &code); err != nil {
		return Code{}, fmt.Errorf("decode otp code: %w", err)
	}
	return code, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete otp code: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Code)}
}

func (s *MemoryStore) Put(ctx context.Context, userID string, code Code, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[userID] = code
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[userID]
	if !ok {
		return Code{}, ErrNotFound
	}
	return code, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, userID)
	return nil
}
