package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodyDir = "body"
	metaDir = "meta"

	// groupMarker 标记由本存储创建的组目录，StoragePath 下的其它目录不会被当作缓存组。
	groupMarker = ".offline-hub-group"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
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
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type entryMeta struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header"`
}

func (s *fileStore) CreateGroup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ensureGroup(name)
}

func (s *fileStore) ensureGroup(name string) error {
	dir, err := s.groupDir(name)
	if err != nil {
		return err
	}
	for _, sub := range []string{bodyDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create group %s: %w", name, err)
		}
	}
	marker := filepath.Join(dir, groupMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.WriteFile(marker, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("mark group %s: %w", name, err)
	}
	return nil
}

func (s *fileStore) isGroup(name string) bool {
	info, err := os.Stat(filepath.Join(s.basePath, name, groupMarker))
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Groups(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !s.isGroup(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) DeleteGroup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.groupDir(name)
	if err != nil {
		return err
	}
	if !s.isGroup(name) {
		// 未标记的目录不属于缓存，保持原样。
		return nil
	}
	// 先改名再删除，避免并发读取看到被删了一半的组。
	trash, err := os.MkdirTemp(s.basePath, ".reap-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(trash)

	if err := os.Rename(dir, filepath.Join(trash, "group")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

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

	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  filePath,
		Status:    normalizeStatus(meta.Status),
		Header:    cloneHeader(meta.Header),
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureGroup(locator.Group); err != nil {
		return nil, err
	}
	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

	written, err := writeAtomic(ctx, filePath, body)
	if err != nil {
		return nil, err
	}

	meta := entryMeta{Status: normalizeStatus(opts.Status), Header: cloneHeader(opts.Header)}
	encoded, err := json.Marshal(meta)
	if err != nil {
		os.Remove(filePath)
		return nil, err
	}
	if _, err := writeAtomic(ctx, metaPath, strings.NewReader(string(encoded))); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  filePath,
		Status:    meta.Status,
		Header:    cloneHeader(meta.Header),
		SizeBytes: written,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return err
	}
	defer unlock()

	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return err
	}
	for _, p := range []string{filePath, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(locator Locator) (func(), error) {
	key := locator.String()
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}, nil
}

func (s *fileStore) groupDir(name string) (string, error) {
	if err := validateGroup(name); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, name), nil
}

func (s *fileStore) entryPaths(locator Locator) (string, string, error) {
	groupDir, err := s.groupDir(locator.Group)
	if err != nil {
		return "", "", err
	}

	rel := locator.Path
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	bodyRoot := filepath.Join(groupDir, bodyDir)
	filePath := filepath.Join(bodyRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, bodyRoot) {
		return "", "", errors.New("invalid cache path")
	}
	metaPath := filepath.Join(groupDir, metaDir, filepath.FromSlash(rel)+".json")
	return filePath, metaPath, nil
}

func readMeta(metaPath string) (entryMeta, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMeta{Status: 200}, nil
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode cache meta: %w", err)
	}
	return meta, nil
}

func writeAtomic(ctx context.Context, target string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
