package cachestore

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryMaxEntries = 10000

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a bounded in-process store. The least recently used entry is evicted
// once maxEntries is reached.
type MemoryStore struct {
	mu    sync.Mutex
	items *lru.Cache[string, memoryItem]
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source used for physical expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(maxEntries int, opts ...MemoryOption) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryMaxEntries
	}
	items, _ := lru.New[string, memoryItem](maxEntries)
	s := &MemoryStore{items: items, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		s.items.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items.Add(key, item)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Len() int {
	return s.items.Len()
}
