package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Store 负责管理缓存组及其条目的读写。磁盘布局（fs 后端）遵循：
//
//	<StoragePath>/<Group>/body/<path>       # 实际正文
//	<StoragePath>/<Group>/meta/<path>.json  # 状态码与响应头
//
// 组是回收的最小单位：DeleteGroup 会一次性删除组内全部条目。
type Store interface {
	// CreateGroup 打开（不存在则创建）指定名称的缓存组。
	CreateGroup(ctx context.Context, name string) error

	// Groups 返回当前持久化的全部组名。
	Groups(ctx context.Context) ([]string, error)

	// DeleteGroup 删除整个组；组不存在时视为成功。
	DeleteGroup(ctx context.Context, name string) error

	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入响应正文与元数据，并产出新的 Entry 描述。实现需保证写入原子性，
	// 失败时不得留下半成品条目。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目。
	Remove(ctx context.Context, locator Locator) error

	// Close 释放底层资源。
	Close() error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	Status  int
	Header  http.Header
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（组名 + 规范化路径），所有路径均为 URL 路径风格。
type Locator struct {
	Group string
	Path  string
}

func (l Locator) String() string {
	return l.Group + "::" + l.Path
}

// Entry 表示一次缓存命中结果，包含状态码、响应头及正文大小。
type Entry struct {
	Locator   Locator     `json:"locator"`
	FilePath  string      `json:"file_path,omitempty"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"mod_time"`
}

// ContentType 返回缓存的 Content-Type。
func (e Entry) ContentType() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.Get("Content-Type")
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ReadAll 读取完整正文并关闭 Reader。
func (r *ReadResult) ReadAll() ([]byte, error) {
	defer r.Reader.Close()
	if _, err := r.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(r.Reader)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidGroup 表示组名无法安全地作为存储标识。
	ErrInvalidGroup = errors.New("invalid cache group name")
)

// Driver 标识存储后端。
type Driver string

const (
	DriverFS     Driver = "fs"
	DriverSQLite Driver = "sqlite"
)

// Open 根据驱动名构建 Store，整站复用一份实例。
func Open(driver Driver, storagePath string) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(string(driver)))) {
	case "", DriverFS:
		return NewStore(storagePath)
	case DriverSQLite:
		return NewSQLiteStore(storagePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func normalizeStatus(status int) int {
	if status <= 0 {
		return http.StatusOK
	}
	return status
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
