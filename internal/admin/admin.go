// Package admin serves the operator-facing listener: prometheus metrics, the
// client message channel, a status document and a manual refresh trigger that
// re-runs install and activate against the loaded manifest.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/lifecycle"
)

// Generation 是管理接口需要的生命周期能力，由 lifecycle.Worker 实现。
type Generation interface {
	Install(ctx context.Context) (lifecycle.InstallReport, error)
	Activate(ctx context.Context) (lifecycle.ActivateReport, error)
	Settings() lifecycle.Settings
	State() lifecycle.StateSnapshot
}

// ClientChannel 是客户端消息通道，由 clients.Hub 实现。
type ClientChannel interface {
	http.Handler
	Count() int
	Controlled() int
	IDs() []string
}

// Options 汇总管理监听的依赖。Gatherer 为空时使用 prometheus 默认注册表。
type Options struct {
	Logger     *logrus.Logger
	Gatherer   prometheus.Gatherer
	Generation Generation
	Clients    ClientChannel
	Store      cache.Store
}

// ErrRefreshInProgress 表示已有刷新在执行。
var ErrRefreshInProgress = errors.New("refresh already in progress")

type admin struct {
	opts      Options
	refreshMu sync.Mutex
}

// NewRouter 构建管理路由。
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Generation == nil {
		return nil, errors.New("generation is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	a := &admin{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	if opts.Clients != nil {
		r.Method(http.MethodGet, "/-/clients", opts.Clients)
	}
	r.Get("/-/status", a.status)
	r.Post("/-/refresh", a.refresh)

	return r, nil
}

type statusPayload struct {
	Version    string                  `json:"version"`
	State      lifecycle.StateSnapshot `json:"state"`
	Groups     []string                `json:"groups"`
	Clients    int                     `json:"clients"`
	Controlled int                     `json:"controlled"`
	ClientIDs  []string                `json:"client_ids"`
}

func (a *admin) status(w http.ResponseWriter, r *http.Request) {
	groups, err := a.opts.Store.Groups(r.Context())
	if err != nil {
		a.opts.Logger.WithField("action", "admin_status").WithError(err).Warn("cache_groups_failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache_groups_failed"})
		return
	}
	if groups == nil {
		groups = []string{}
	}

	payload := statusPayload{
		Version:   a.opts.Generation.Settings().Version,
		State:     a.opts.Generation.State(),
		Groups:    groups,
		ClientIDs: []string{},
	}
	if a.opts.Clients != nil {
		payload.Clients = a.opts.Clients.Count()
		payload.Controlled = a.opts.Clients.Controlled()
		payload.ClientIDs = a.opts.Clients.IDs()
	}
	writeJSON(w, http.StatusOK, payload)
}

type refreshPayload struct {
	Install  lifecycle.InstallReport  `json:"install"`
	Activate lifecycle.ActivateReport `json:"activate"`
	Error    string                   `json:"error,omitempty"`
	Elapsed  int64                    `json:"elapsed_ms"`
}

// refresh 重新预缓存并激活当前清单，用于源站内容更新后手动刷新。
func (a *admin) refresh(w http.ResponseWriter, r *http.Request) {
	if !a.refreshMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": ErrRefreshInProgress.Error()})
		return
	}
	defer a.refreshMu.Unlock()

	started := time.Now()
	payload := refreshPayload{}
	status := http.StatusOK

	installReport, err := a.opts.Generation.Install(r.Context())
	payload.Install = installReport
	if err == nil {
		payload.Activate, err = a.opts.Generation.Activate(r.Context())
	}
	if err != nil {
		payload.Error = err.Error()
		status = http.StatusInternalServerError
	}
	payload.Elapsed = time.Since(started).Milliseconds()

	fields := logrus.Fields{
		"action":     "admin_refresh",
		"stored":     installReport.Stored(),
		"failed":     installReport.Failed(),
		"elapsed_ms": payload.Elapsed,
	}
	if err != nil {
		a.opts.Logger.WithFields(fields).WithError(err).Error("refresh_failed")
	} else {
		a.opts.Logger.WithFields(fields).Info("refresh_complete")
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
