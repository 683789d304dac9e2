package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责管理请求缓存的读写。所有实现都必须满足：
//   - 同一 fingerprint 至多一条记录，Put 为 insert-or-replace；
//   - StoredAt 对同一 fingerprint 单调不减，旧时间戳的 Put 只替换正文；
//   - 并发安全，且不在网络调用期间持有锁。
type Store interface {
	// Get 返回 fingerprint 对应的条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// Put 写入或替换条目。StoredAt 为零值时由实现填充当前时间。
	Put(ctx context.Context, entry Entry) error

	// Close 释放底层资源（数据库连接等）。
	Close() error
}

// Entry 是一条缓存记录，RawResponse 按原样保存上游正文，不做解码。
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	RawResponse string    `json:"raw_response"`
	StoredAt    time.Time `json:"stored_at"`
}

// Backend 标识 Store 的具体实现。
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidEntry 表示写入的条目缺少 fingerprint。
var ErrInvalidEntry = errors.New("cache entry requires a fingerprint")

// NewStore 根据 backend 构建 Store，整个进程复用一份实例。
func NewStore(backend Backend, storagePath string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return OpenSQLiteStore(storagePath)
	case BackendFile:
		return NewFileStore(storagePath)
	default:
		return nil, errors.New("unsupported store backend: " + string(backend))
	}
}

// normalizeStoredAt 将时间截断到秒，零值时使用 now。
func normalizeStoredAt(ts time.Time, now func() time.Time) time.Time {
	if ts.IsZero() {
		ts = now()
	}
	return time.Unix(ts.Unix(), 0).UTC()
}

// laterOf 保证 StoredAt 不会被回拨。
func laterOf(existing, incoming time.Time) time.Time {
	if existing.After(incoming) {
		return existing
	}
	return incoming
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
