package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/any-hub/offline-hub/internal/manifest"
)

const sqliteFileName = "offline-hub.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_groups (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	group_name TEXT NOT NULL REFERENCES cache_groups(name) ON DELETE CASCADE,
	path       TEXT NOT NULL,
	status     INTEGER NOT NULL,
	header     TEXT NOT NULL,
	body       BLOB NOT NULL,
	mod_time   INTEGER NOT NULL,
	PRIMARY KEY (group_name, path)
);`

// sqliteStore 将组与条目保存在单个 SQLite 文件中，写入依赖事务保证原子性。
type sqliteStore struct {
	sqlDB *sql.DB
	path  string
}

// NewSQLiteStore 在 basePath 下打开（或创建）offline-hub.db。
// basePath 若以 .db 结尾则直接作为数据库文件路径。
func NewSQLiteStore(basePath string) (Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage path required")
	}
	dbPath := filepath.Clean(basePath)
	if !strings.HasSuffix(dbPath, ".db") {
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		dbPath = filepath.Join(dbPath, sqliteFileName)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接串行化写入，避免并发安装时的 SQLITE_BUSY。
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStore{sqlDB: sqlDB, path: dbPath}, nil
}

func (s *sqliteStore) CreateGroup(ctx context.Context, name string) error {
	if err := validateGroup(name); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_groups (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create group %s: %w", name, err)
	}
	return nil
}

func (s *sqliteStore) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_groups ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) DeleteGroup(ctx context.Context, name string) error {
	if err := validateGroup(name); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE group_name = ?`, name); err != nil {
		return fmt.Errorf("delete entries of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_groups WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete group %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := validateGroup(locator.Group); err != nil {
		return nil, err
	}
	var (
		status  int
		header  string
		body    []byte
		modTime int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT status, header, body, mod_time FROM cache_entries WHERE group_name = ? AND path = ?`,
		locator.Group, sqlitePath(locator.Path),
	).Scan(&status, &header, &body, &modTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var h map[string][]string
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		return nil, fmt.Errorf("decode cache header: %w", err)
	}

	entry := Entry{
		Locator:   locator,
		Status:    normalizeStatus(status),
		Header:    cloneHeader(h),
		SizeBytes: int64(len(body)),
		ModTime:   time.Unix(0, modTime).UTC(),
	}
	return &ReadResult{Entry: entry, Reader: nopSeekCloser{bytes.NewReader(body)}}, nil
}

func (s *sqliteStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateGroup(locator.Group); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return nil, err
	}
	header := cloneHeader(opts.Header)
	encoded, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	status := normalizeStatus(opts.Status)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_groups (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		locator.Group, time.Now().UTC().UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("ensure group %s: %w", locator.Group, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (group_name, path, status, header, body, mod_time)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(group_name, path) DO UPDATE SET
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   mod_time = excluded.mod_time`,
		locator.Group, sqlitePath(locator.Path), status, string(encoded), buf.Bytes(), modTime.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("put %s: %w", locator, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		Status:    status,
		Header:    header,
		SizeBytes: int64(buf.Len()),
		ModTime:   modTime,
	}, nil
}

func (s *sqliteStore) Remove(ctx context.Context, locator Locator) error {
	if err := validateGroup(locator.Group); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE group_name = ? AND path = ?`,
		locator.Group, sqlitePath(locator.Path),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func validateGroup(name string) error {
	if err := manifest.ValidateGroupName(name); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidGroup, name, err)
	}
	return nil
}

func sqlitePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
