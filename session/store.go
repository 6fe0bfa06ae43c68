package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"strdash/storage"
)

// Store keeps the values mirrored to the backend session so that a
// workspace can be inspected or restored without a backend round trip.
type Store interface {
	Save(ctx context.Context, sessionID, key string, data []byte) error
	Load(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Clear(ctx context.Context, sessionID string) error
}

// Record is one stored value.
type Record struct {
	Key     string    `msgpack:"key"`
	Data    []byte    `msgpack:"data"`
	SavedAt time.Time `msgpack:"saved_at"`
}

func storeKey(sessionID, key string) string {
	return "session:" + sessionID + ":" + key
}

// MemoryStore is a bounded in-process Store. The least recently used
// values are evicted first.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Record]
}

// NewMemoryStore creates a store holding at most size values.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

// Save stores a copy of data.
func (m *MemoryStore) Save(_ context.Context, sessionID, key string, data []byte) error {
	m.cache.Add(storeKey(sessionID, key), Record{
		Key:     key,
		Data:    append([]byte(nil), data...),
		SavedAt: time.Now(),
	})
	return nil
}

// Load returns a copy of the stored value.
func (m *MemoryStore) Load(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	rec, ok := m.cache.Get(storeKey(sessionID, key))
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), rec.Data...), true, nil
}

// Clear drops every value of a session.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := storeKey(sessionID, "")
	for _, k := range m.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Remove(k)
		}
	}
	return nil
}

// Len returns the number of stored values.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// RedisStore is a Store shared between dashboard instances.
type RedisStore struct {
	cache *storage.RedisCache
	ttl   time.Duration
}

// NewRedisStore stores values in cache with the given TTL.
func NewRedisStore(cache *storage.RedisCache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: cache, ttl: ttl}
}

// Save stores data under the session key.
func (r *RedisStore) Save(ctx context.Context, sessionID, key string, data []byte) error {
	return r.cache.Set(ctx, storeKey(sessionID, key), Record{
		Key:     key,
		Data:    data,
		SavedAt: time.Now().UTC(),
	}, r.ttl)
}

// Load returns the stored value.
func (r *RedisStore) Load(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	var rec Record
	found, err := r.cache.Get(ctx, storeKey(sessionID, key), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return rec.Data, true, nil
}

// Clear drops every value of a session.
func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	_, err := r.cache.DeletePrefix(ctx, storeKey(sessionID, ""))
	return err
}
