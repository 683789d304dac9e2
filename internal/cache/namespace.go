package cache

import "context"

// Namespaced 为共享 Store 的每个上游加上 "<name>::" 前缀，
// 防止 AniList 与 VNDB 的同形请求落到同一槽位。
func Namespaced(store Store, name string) Store {
	if name == "" {
		return store
	}
	return &namespacedStore{inner: store, prefix: name + "::"}
}

type namespacedStore struct {
	inner  Store
	prefix string
}

func (s *namespacedStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	entry, err := s.inner.Get(ctx, s.prefix+fingerprint)
	if err != nil {
		return nil, err
	}
	entry.Fingerprint = fingerprint
	return entry, nil
}

func (s *namespacedStore) Put(ctx context.Context, entry Entry) error {
	if entry.Fingerprint == "" {
		return ErrInvalidEntry
	}
	entry.Fingerprint = s.prefix + entry.Fingerprint
	return s.inner.Put(ctx, entry)
}

// Close 不关闭共享的底层 Store，由创建者负责。
func (s *namespacedStore) Close() error {
	return nil
}
