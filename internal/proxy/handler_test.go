package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/server"
)

type recordingRouter struct {
	last *lifecycle.Request
	resp *lifecycle.Response
}

func (r *recordingRouter) Route(_ context.Context, req *lifecycle.Request) *lifecycle.Response {
	r.last = req
	return r.resp
}

func newProxyApp(t *testing.T, router Router) *fiber.App {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Content: config.ContentConfig{
			Domain:      "stories.local",
			FontOrigins: []string{"https://fonts.gstatic.com"},
		},
	}
	registry, err := server.NewHostRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    NewForwarder(NewHandler(router, logger), logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app
}

func TestHandlerBuildsLifecycleRequest(t *testing.T) {
	router := &recordingRouter{resp: &lifecycle.Response{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(`{"ok":true}`),
		Source:   lifecycle.SourceCache,
		Strategy: lifecycle.StrategyDefault,
		Group:    "cache-biblioteca-v2",
	}}
	app := newProxyApp(t, router)

	req := httptest.NewRequest("GET", "http://stories.local:5000/biblioteca/historias.json?v=9", nil)
	req.Host = "stories.local:5000"
	req.Header.Set("Range", "bytes=0-1")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if router.last == nil {
		t.Fatalf("router not invoked")
	}
	if router.last.URL.Host != "stories.local:5000" || router.last.URL.Path != "/biblioteca/historias.json" {
		t.Fatalf("unexpected request url: %s", router.last.URL)
	}
	if router.last.URL.RawQuery != "v=9" {
		t.Fatalf("query should be preserved, got %q", router.last.URL.RawQuery)
	}
	if router.last.Header.Get("Range") != "bytes=0-1" {
		t.Fatalf("range header should be forwarded")
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "true" || resp.Header.Get("X-Offline-Hub-Source") != "cache" {
		t.Fatalf("missing cache headers: %v", resp.Header)
	}
	if resp.Header.Get("X-Offline-Hub-Group") != "cache-biblioteca-v2" {
		t.Fatalf("missing group header")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
}

func TestHandlerForwardsBodyForPost(t *testing.T) {
	router := &recordingRouter{resp: &lifecycle.Response{
		Status:   http.StatusCreated,
		Header:   http.Header{},
		Source:   lifecycle.SourceNetwork,
		Strategy: lifecycle.StrategyPassthrough,
	}}
	app := newProxyApp(t, router)

	req := httptest.NewRequest("POST", "http://stories.local/api/progress", strings.NewReader(`{"page":3}`))
	req.Host = "stories.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if router.last.Method != http.MethodPost || string(router.last.Body) != `{"page":3}` {
		t.Fatalf("unexpected forwarded request: %s %s", router.last.Method, router.last.Body)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "false" {
		t.Fatalf("passthrough must not report a cache hit")
	}
}

func TestHandlerServesPartialFromWorker(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	ctx := context.Background()
	audio := []byte("0123456789abcdefghij")
	if err := store.CreateGroup(ctx, "cache-embe-audios-v1"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	locator := cache.Locator{Group: "cache-embe-audios-v1", Path: "/historias/demo/audios/bosque.mp3"}
	if _, err := store.Put(ctx, locator, bytes.NewReader(audio), cache.PutOptions{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"audio/mpeg"}},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	settings, err := lifecycle.NewSettings("1.1.1", "https://stories.example.com/", "", nil, 0)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := &manifest.Manifest{Groups: []manifest.Group{
		{Name: "cache-embe-audios-v1", Version: "1", Resources: []string{"historias/demo/audios/bosque.mp3"}},
	}}
	offline := fetch.FetcherFunc(func(context.Context, *fetch.Request) (*fetch.Response, error) {
		t.Errorf("network must not be used for a cached range")
		return nil, errors.New("unexpected fetch")
	})
	worker, err := lifecycle.New(lifecycle.Options{
		Settings: settings,
		Manifest: m,
		Store:    store,
		Fetcher:  offline,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}

	app := newProxyApp(t, worker)
	req := httptest.NewRequest("GET", "http://stories.local/historias/demo/audios/bosque.mp3", nil)
	req.Host = "stories.local"
	req.Header.Set("Range", "bytes=10-14")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	if string(body) != "abcde" {
		t.Fatalf("unexpected partial body: %q", body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 10-14/20" {
		t.Fatalf("unexpected Content-Range: %s", got)
	}
	if resp.Header.Get("X-Offline-Hub-Source") != "synthesized" {
		t.Fatalf("expected synthesized source, got %s", resp.Header.Get("X-Offline-Hub-Source"))
	}
}

func TestHandlerEmptyRouterResponse(t *testing.T) {
	app := newProxyApp(t, &recordingRouter{})

	req := httptest.NewRequest("GET", "http://stories.local/", nil)
	req.Host = "stories.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
