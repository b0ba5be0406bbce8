package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the observed quota state.
type Store interface {
	// Load returns the stored state, or nil when nothing was stored yet.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps state in process.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *state
	m.state = &s
	return nil
}

// Redis key suffixes, appended to the store prefix.
const (
	redisKeyLimit          = "limit"
	redisKeyRemaining      = "remaining"
	redisKeyResetTimestamp = "reset_timestamp"
	redisKeyLastUpdate     = "last_update"
)

// RedisStore shares the observed state between processes that talk to the
// same account. Keys expire after two windows so a stale observation never
// blocks a later run.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store with keys "zdexport:rate_limit:{account}:*".
func NewRedisStore(client *redis.Client, account string) *RedisStore {
	account = strings.TrimSpace(account)
	if account == "" {
		account = "default"
	}
	return &RedisStore{
		redis:  client,
		prefix: "zdexport:rate_limit:" + account + ":",
	}
}

// Key returns the full Redis key for suffix.
func (r *RedisStore) Key(suffix string) string {
	return r.prefix + suffix
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	remaining, err := r.redis.Get(ctx, r.Key(redisKeyRemaining)).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := r.redis.Get(ctx, r.Key(redisKeyLimit)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, r.Key(redisKeyResetTimestamp)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, r.Key(redisKeyLastUpdate)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    time.UnixMilli(resetTimestamp),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := 2 * Window
	if until := state.TimeUntilReset(); until+Window > ttl {
		ttl = until + Window
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, r.Key(redisKeyLimit), state.Limit, ttl)
	pipe.Set(ctx, r.Key(redisKeyRemaining), state.Remaining, ttl)
	pipe.Set(ctx, r.Key(redisKeyResetTimestamp), state.ResetAt.UnixMilli(), ttl)
	pipe.Set(ctx, r.Key(redisKeyLastUpdate), lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
