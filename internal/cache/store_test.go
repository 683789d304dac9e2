package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLiteStore(t.TempDir())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"file": newTestStore,
	}
}

func TestStorePutAndGet(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			storedAt := time.Now().Add(-time.Hour).UTC()
			entry := Entry{
				Fingerprint: `{"operation":"AnimeStat","variables":{"page":5}}`,
				RawResponse: `{"data":{"page":5,"count":10}}`,
				StoredAt:    storedAt,
			}
			if err := store.Put(context.Background(), entry); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := store.Get(context.Background(), entry.Fingerprint)
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if got.RawResponse != entry.RawResponse {
				t.Fatalf("cached payload mismatch: %s", got.RawResponse)
			}
			if got.Fingerprint != entry.Fingerprint {
				t.Fatalf("fingerprint mismatch: %s", got.Fingerprint)
			}
			if got.StoredAt.Unix() != storedAt.Unix() {
				t.Fatalf("storedAt mismatch: expected %v got %v", storedAt, got.StoredAt)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, err := store.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStorePutReplaces(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			first := time.Unix(1_700_000_000, 0).UTC()
			second := first.Add(4 * 24 * time.Hour)

			if err := store.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "old", StoredAt: first}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "new", StoredAt: second}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := store.Get(context.Background(), "fp")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if got.RawResponse != "new" || !got.StoredAt.Equal(second) {
				t.Fatalf("expected replaced entry, got %+v", got)
			}
		})
	}
}

func TestStoreNeverBackdatesStoredAt(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			newer := time.Unix(1_700_000_000, 0).UTC()
			older := newer.Add(-time.Hour)

			if err := store.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "first", StoredAt: newer}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "second", StoredAt: older}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := store.Get(context.Background(), "fp")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if got.RawResponse != "second" {
				t.Fatalf("body should still be replaced, got %s", got.RawResponse)
			}
			if !got.StoredAt.Equal(newer) {
				t.Fatalf("storedAt must not go backwards: expected %v got %v", newer, got.StoredAt)
			}
		})
	}
}

func TestStoreRejectsEmptyFingerprint(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			if err := store.Put(context.Background(), Entry{RawResponse: "x"}); !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					entry := Entry{Fingerprint: "shared", RawResponse: fmt.Sprintf("body-%d", i)}
					if err := store.Put(context.Background(), entry); err != nil {
						t.Errorf("put error: %v", err)
					}
					if _, err := store.Get(context.Background(), "shared"); err != nil {
						t.Errorf("get error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			got, err := store.Get(context.Background(), "shared")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if got.RawResponse == "" {
				t.Fatalf("expected one of the written bodies")
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	if err := store.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "durable"}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	reopened, err := OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("reopen sqlite store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "fp")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.RawResponse != "durable" {
		t.Fatalf("unexpected body after reopen: %s", got.RawResponse)
	}
}

func TestSQLiteBusyTimeoutAppliesToEveryConnection(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	db := store.(*sqliteStore).db
	ctx := context.Background()
	// 同时持有两个连接，确保第二个是新建的而不是复用的。
	first, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer first.Close()
	second, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d pragma: %v", i, err)
		}
		if timeout != 5000 {
			t.Fatalf("conn %d busy_timeout = %d, want 5000", i, timeout)
		}
	}
}

func TestFileStoreReadersNeverSeeWriteTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	storedAt := time.Unix(1_600_000_000, 0).UTC()
	if err := store.Put(ctx, Entry{Fingerprint: "fp", RawResponse: "v0", StoredAt: storedAt}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			_ = store.Put(ctx, Entry{Fingerprint: "fp", RawResponse: fmt.Sprintf("v%d", i), StoredAt: storedAt})
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		got, err := store.Get(ctx, "fp")
		if err != nil {
			continue
		}
		if !got.StoredAt.Equal(storedAt) {
			wg.Wait()
			t.Fatalf("reader saw storedAt %v, want %v", got.StoredAt, storedAt)
		}
	}
}

func TestFileStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	if err := os.MkdirAll(fs.entryPath("dir-fp"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), "dir-fp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()
	if _, err := store.Get(ctx, "fp"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	testCases := []struct {
		backend   Backend
		shouldErr bool
	}{
		{BackendMemory, false},
		{BackendSQLite, false},
		{BackendFile, false},
		{"redis", true},
	}
	for _, tc := range testCases {
		t.Run(string(tc.backend), func(t *testing.T) {
			store, err := NewStore(tc.backend, t.TempDir())
			if tc.shouldErr {
				if err == nil {
					t.Fatalf("expected error for backend %q", tc.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_ = store.Close()
		})
	}
}

func TestNamespacedStoreIsolatesUpstreams(t *testing.T) {
	shared := NewMemoryStore()
	anilist := Namespaced(shared, "anilist")
	vndb := Namespaced(shared, "vndb")

	if err := anilist.Put(context.Background(), Entry{Fingerprint: "fp", RawResponse: "a"}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := vndb.Get(context.Background(), "fp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("namespaces should not leak, got %v", err)
	}
	got, err := anilist.Get(context.Background(), "fp")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Fingerprint != "fp" {
		t.Fatalf("namespace prefix should be stripped, got %s", got.Fingerprint)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
