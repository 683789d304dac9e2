package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewFileStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 布局：<basePath>/<sha1[:2]>/<sha1(fingerprint)>，正文即上游响应，文件 ModTime 即 StoredAt。
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一 fingerprint 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	filePath := s.entryPath(fingerprint)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Entry{
		Fingerprint: fingerprint,
		RawResponse: string(body),
		StoredAt:    time.Unix(info.ModTime().Unix(), 0).UTC(),
	}, nil
}

func (s *fileStore) Put(ctx context.Context, entry Entry) error {
	if entry.Fingerprint == "" {
		return ErrInvalidEntry
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	unlock := s.lockEntry(entry.Fingerprint)
	defer unlock()

	filePath := s.entryPath(entry.Fingerprint)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	storedAt := normalizeStoredAt(entry.StoredAt, s.now)
	if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
		storedAt = laterOf(time.Unix(info.ModTime().Unix(), 0).UTC(), storedAt)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.WriteString(entry.RawResponse)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		// 先在临时文件上设置 modtime，rename 之后读者看到的正文与时间戳始终一致。
		err = os.Chtimes(tempName, storedAt, storedAt)
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(fingerprint string) func() {
	s.mu.Lock()
	lock := s.locks[fingerprint]
	if lock == nil {
		lock = &entryLock{}
		s.locks[fingerprint] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, fingerprint)
		}
		s.mu.Unlock()
	}
}

// entryPath 对 fingerprint 做 sha1，避免超长 canonical 键或特殊字符进入文件名。
func (s *fileStore) entryPath(fingerprint string) string {
	sum := sha1.Sum([]byte(fingerprint))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.basePath, strings.ToLower(name[:2]), name)
}
