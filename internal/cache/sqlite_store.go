package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyTimeoutMillis = "5000"
	sqliteFileName          = "cache.db"
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const createRequestCacheTable = `CREATE TABLE IF NOT EXISTS request_cache (
	fingerprint  TEXT PRIMARY KEY,
	raw_response TEXT NOT NULL,
	stored_at    INTEGER NOT NULL
)`

// upsert 替换正文，但 stored_at 只取较大值，避免时间戳回拨。
const upsertRequestCache = `INSERT INTO request_cache (fingerprint, raw_response, stored_at)
VALUES (?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	raw_response = excluded.raw_response,
	stored_at = MAX(request_cache.stored_at, excluded.stored_at)`

// sqliteStore 将缓存持久化在 StoragePath/cache.db 的 request_cache 表中，可跨进程重启保留。
type sqliteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLiteStore 打开（必要时创建）SQLite 缓存库，并懒创建 request_cache 表。
func OpenSQLiteStore(storagePath string) (Store, error) {
	if storagePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(storagePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dbPath := filepath.Join(abs, sqliteFileName)
	// pragma 写在 DSN 中，连接池里的每个连接都会应用。
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &sqliteStore{db: db, path: dbPath, now: time.Now}
	if err := store.execWithRetry(context.Background(), createRequestCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create request_cache table: %w", err)
	}
	return store, nil
}

func (s *sqliteStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	var (
		raw      string
		storedAt int64
	)
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			"SELECT raw_response, stored_at FROM request_cache WHERE fingerprint = ?", fingerprint)
		return row.Scan(&raw, &storedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select request_cache: %w", err)
	}

	return &Entry{
		Fingerprint: fingerprint,
		RawResponse: raw,
		StoredAt:    time.Unix(storedAt, 0).UTC(),
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, entry Entry) error {
	if entry.Fingerprint == "" {
		return ErrInvalidEntry
	}
	storedAt := normalizeStoredAt(entry.StoredAt, s.now)
	if err := s.execWithRetry(ctx, upsertRequestCache, entry.Fingerprint, entry.RawResponse, storedAt.Unix()); err != nil {
		return fmt.Errorf("upsert request_cache: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy 只重试存储引擎层面的锁冲突，不涉及上游请求。
func retryOnBusy(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(" + sqliteBusyTimeoutMillis + ")&_pragma=journal_mode(WAL)"
}
