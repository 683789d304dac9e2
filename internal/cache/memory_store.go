package cache

import (
	"context"
	"sync"
	"time"
)

// memoryStore 以 RWMutex 保护的 map 实现 Store，进程退出即丢失。
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore 构建进程内缓存，适合不需要跨重启保留的部署。
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (s *memoryStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *memoryStore) Put(ctx context.Context, entry Entry) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if entry.Fingerprint == "" {
		return ErrInvalidEntry
	}
	entry.StoredAt = normalizeStoredAt(entry.StoredAt, s.now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.Fingerprint]; ok {
		entry.StoredAt = laterOf(existing.StoredAt, entry.StoredAt)
	}
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
