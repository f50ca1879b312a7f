package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/clients"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
)

const tracerName = "github.com/any-hub/offline-hub/internal/lifecycle"

// DefaultFontCache 是字体缓存组的默认名称。
const DefaultFontCache = "cache-fonts-v1"

// DefaultFontOrigins 是默认放行的字体 CDN。
var DefaultFontOrigins = []string{"https://fonts.googleapis.com", "https://fonts.gstatic.com"}

// ErrNotInstalled 表示在 Install 完成之前调用了 Activate。
var ErrNotInstalled = errors.New("cache generation not installed")

// Lifecycle 是宿主进程驱动缓存的全部入口。
type Lifecycle interface {
	Install(ctx context.Context) (InstallReport, error)
	Activate(ctx context.Context) (ActivateReport, error)
	Route(ctx context.Context, req *Request) *Response
	OnClientMessage(ctx context.Context, clientID string, msg clients.Message)
}

// Clients 是 Activate 与消息处理需要的客户端能力。
type Clients interface {
	Claim() int
	Broadcast(msg clients.Message) int
	Send(clientID string, msg clients.Message) error
}

// Settings 在启动时构建一次，之后只读。
type Settings struct {
	Version     string
	Origin      *url.URL
	FontCache   string
	FontOrigins []*url.URL

	// InstallConcurrency 限制每一层（组、组内资源）的并发数，0 表示不限制。
	InstallConcurrency int
}

// NewSettings 解析源站与字体白名单并填充默认值。
func NewSettings(version, origin, fontCache string, fontOrigins []string, installConcurrency int) (Settings, error) {
	if strings.TrimSpace(version) == "" {
		return Settings{}, errors.New("version required")
	}
	originURL, err := parseOrigin(origin)
	if err != nil {
		return Settings{}, fmt.Errorf("origin: %w", err)
	}
	if !strings.HasSuffix(originURL.Path, "/") {
		originURL.Path += "/"
	}
	if strings.TrimSpace(fontCache) == "" {
		fontCache = DefaultFontCache
	}
	if err := manifest.ValidateGroupName(fontCache); err != nil {
		return Settings{}, fmt.Errorf("font cache: %w", err)
	}
	if len(fontOrigins) == 0 {
		fontOrigins = DefaultFontOrigins
	}
	fonts := make([]*url.URL, 0, len(fontOrigins))
	for _, raw := range fontOrigins {
		u, err := parseOrigin(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("font origin %q: %w", raw, err)
		}
		fonts = append(fonts, &url.URL{Scheme: u.Scheme, Host: u.Host})
	}
	if installConcurrency < 0 {
		installConcurrency = 0
	}
	return Settings{
		Version:            strings.TrimSpace(version),
		Origin:             originURL,
		FontCache:          fontCache,
		FontOrigins:        fonts,
		InstallConcurrency: installConcurrency,
	}, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("host required")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// fontOrigin 按请求 Host 匹配字体白名单。
func (s Settings) fontOrigin(host string) (*url.URL, bool) {
	for _, origin := range s.FontOrigins {
		if strings.EqualFold(origin.Host, host) {
			return origin, true
		}
		if origin.Port() == "" && strings.EqualFold(origin.Hostname(), hostOnly(host)) {
			return origin, true
		}
	}
	return nil, false
}

// State 记录进程内唯一的生命周期状态。
type State struct {
	mu              sync.RWMutex
	installed       bool
	activated       bool
	firstActivation bool
	installedAt     time.Time
	activatedAt     time.Time
}

// NewState 返回尚未安装的初始状态。
func NewState() *State {
	return &State{firstActivation: true}
}

// StateSnapshot 是 State 的只读副本。
type StateSnapshot struct {
	Installed       bool      `json:"installed"`
	Activated       bool      `json:"activated"`
	FirstActivation bool      `json:"first_activation"`
	InstalledAt     time.Time `json:"installed_at,omitempty"`
	ActivatedAt     time.Time `json:"activated_at,omitempty"`
}

func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Installed:       s.installed,
		Activated:       s.activated,
		FirstActivation: s.firstActivation,
		InstalledAt:     s.installedAt,
		ActivatedAt:     s.activatedAt,
	}
}

func (s *State) markInstalled(at time.Time) {
	s.mu.Lock()
	s.installed = true
	s.installedAt = at
	s.mu.Unlock()
}

func (s *State) isInstalled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed
}

// markActivated 返回本次是否为进程启动后的首次激活。
func (s *State) markActivated(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.firstActivation
	s.activated = true
	s.activatedAt = at
	s.firstActivation = false
	return first
}

// Options 汇总 Worker 的依赖。
type Options struct {
	Settings Settings
	Manifest *manifest.Manifest
	Store    cache.Store
	Fetcher  fetch.Fetcher
	Clients  Clients
	State    *State
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

// Worker 是 Lifecycle 的默认实现。
type Worker struct {
	settings Settings
	manifest *manifest.Manifest
	store    cache.Store
	fetcher  fetch.Fetcher
	clients  Clients
	state    *State
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	// pending 跟踪后台字体写入。
	pending sync.WaitGroup
}

var _ Lifecycle = (*Worker)(nil)

// New 校验依赖并构造 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Manifest == nil {
		return nil, errors.New("manifest is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Settings.Origin == nil {
		return nil, fetch.ErrNoOrigin
	}
	if opts.Settings.FontCache == "" {
		opts.Settings.FontCache = DefaultFontCache
	}
	if opts.Clients == nil {
		opts.Clients = noopClients{}
	}
	if opts.State == nil {
		opts.State = NewState()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Worker{
		settings: opts.Settings,
		manifest: opts.Manifest,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		clients:  opts.Clients,
		state:    opts.State,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}, nil
}

// Settings 返回启动配置副本。
func (w *Worker) Settings() Settings {
	return w.settings
}

// Manifest 返回当前清单。
func (w *Worker) Manifest() *manifest.Manifest {
	return w.manifest
}

// State 返回生命周期状态快照。
func (w *Worker) State() StateSnapshot {
	return w.state.Snapshot()
}

// Wait 等待所有后台字体写入完成。
func (w *Worker) Wait() {
	w.pending.Wait()
}

// OnClientMessage 响应客户端消息：GET_VERSION 只回复给发送方。
func (w *Worker) OnClientMessage(ctx context.Context, clientID string, msg clients.Message) {
	switch msg.Type {
	case clients.TypeGetVersion:
		reply := clients.Message{Type: clients.TypeVersionUpdate, Version: w.settings.Version}
		if err := w.clients.Send(clientID, reply); err != nil {
			w.logger.WithFields(logrus.Fields{"client_id": clientID}).WithError(err).Warn("version_reply_failed")
		}
	default:
		w.logger.WithFields(logrus.Fields{"client_id": clientID, "type": msg.Type}).Debug("client_message_ignored")
	}
}

type noopClients struct{}

func (noopClients) Claim() int { return 0 }
func (noopClients) Broadcast(clients.Message) int { return 0 }
func (noopClients) Send(string, clients.Message) error { return clients.ErrUnknownClient }

// Request 是一次被拦截的请求。URL 为客户端视角的绝对地址（含 Host）。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Source 标识响应来源。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceSynthesized Source = "synthesized"
	SourceUnavailable Source = "unavailable"
)

// Strategy 标识命中的路由分支。
type Strategy string

const (
	StrategyPassthrough Strategy = "passthrough"
	StrategyFont        Strategy = "font"
	StrategyRange       Strategy = "range"
	StrategyDefault     Strategy = "default"
)

// Response 是路由结果，正文已完整缓冲。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Source   Source
	Strategy Strategy

	// Group 为命中的缓存组，仅 Source 为 cache/synthesized 时有值。
	Group  string
	Opaque bool
}

// CacheHit 报告响应是否来自本地缓存。
func (r *Response) CacheHit() bool {
	return r.Source == SourceCache || r.Source == SourceSynthesized
}
