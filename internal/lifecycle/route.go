package lifecycle

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/manifest"
)

// Route 为单个请求选择策略，按顺序首个匹配生效：
// 非 GET 直通、字体源 cache-first、Range 合成、默认 cache-first。
// Route 不返回 error，网络不可用时返回 502/503 空响应。
func (w *Worker) Route(ctx context.Context, req *Request) *Response {
	started := time.Now()
	ctx, span := w.tracer.Start(ctx, "lifecycle.route",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()

	resp := w.route(ctx, req)

	span.SetAttributes(
		attribute.String("offline_hub.strategy", string(resp.Strategy)),
		attribute.String("offline_hub.source", string(resp.Source)),
		attribute.Int("http.response.status_code", resp.Status),
	)
	w.metrics.ObserveRequest(string(resp.Strategy), string(resp.Source), time.Since(started))
	return resp
}

func (w *Worker) route(ctx context.Context, req *Request) *Response {
	fontOrigin, isFont := w.settings.fontOrigin(req.URL.Host)

	if req.Method != http.MethodGet {
		target := w.contentURL(req.URL)
		if isFont {
			target = fontURL(fontOrigin, req.URL)
		}
		return w.passthrough(ctx, req, target)
	}

	if isFont {
		return w.routeFont(ctx, req, fontOrigin)
	}

	if header := req.Header.Get("Range"); header != "" {
		if byteRange, ok := ParseRange(header); ok {
			return w.routeRange(ctx, req, byteRange)
		}
		w.logger.WithFields(logrus.Fields{"path": req.URL.Path, "range": header}).Debug("range_header_ignored")
	}

	return w.routeDefault(ctx, req)
}

func (w *Worker) passthrough(ctx context.Context, req *Request, target *url.URL) *Response {
	resp, err := w.fetcher.Fetch(ctx, &fetch.Request{
		Method: req.Method,
		URL:    target,
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		w.logger.WithFields(logrus.Fields{"method": req.Method, "url": target.Redacted()}).WithError(err).Warn("passthrough_failed")
		return emptyResponse(http.StatusBadGateway, StrategyPassthrough)
	}
	return networkResponse(resp, StrategyPassthrough)
}

// routeFont 对字体请求采用 cache-first；未命中时回源，200 或状态不可读的 opaque
// 响应在返回给调用方的同时由后台 goroutine 写入字体缓存。可读的错误状态不落盘，
// 否则字体缓存会一直回放上游的临时故障。
func (w *Worker) routeFont(ctx context.Context, req *Request, origin *url.URL) *Response {
	locator := cache.Locator{Group: w.settings.FontCache, Path: fontLocatorPath(origin, req.URL)}

	hit, err := w.store.Get(ctx, locator)
	switch {
	case err == nil:
		resp, readErr := cachedResponse(hit, StrategyFont)
		if readErr == nil {
			return resp
		}
		w.dropFontEntry(ctx, locator, readErr)
	case !errors.Is(err, cache.ErrNotFound):
		w.dropFontEntry(ctx, locator, err)
	}

	target := fontURL(origin, req.URL)
	resp, err := w.fetcher.Fetch(ctx, &fetch.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: req.Header,
	})
	if err != nil {
		// 字体加载失败不影响页面其余部分。
		w.logger.WithField("url", target.Redacted()).WithError(err).Error("font_fetch_failed")
		return emptyResponse(http.StatusBadGateway, StrategyFont)
	}

	if resp.Status == http.StatusOK || resp.Opaque {
		w.persistAsync(ctx, locator, resp.Clone())
	}
	return networkResponse(resp, StrategyFont)
}

// dropFontEntry 删除无法读取的字体条目，随后的回源结果会重新落盘。
func (w *Worker) dropFontEntry(ctx context.Context, locator cache.Locator, cause error) {
	w.logger.WithField("locator", locator.String()).WithError(cause).Warn("font_cache_read_failed")
	if err := w.store.Remove(ctx, locator); err != nil {
		w.logger.WithField("locator", locator.String()).WithError(err).Warn("font_cache_remove_failed")
	}
}

// persistAsync 独立于请求生命周期写入缓存，调用方无需等待；Wait 可用于排空。
func (w *Worker) persistAsync(ctx context.Context, locator cache.Locator, resp *fetch.Response) {
	ctx = context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		_, err := w.store.Put(ctx, locator, resp.BodyReader(), cache.PutOptions{
			Status: resp.Status,
			Header: resp.Header,
		})
		w.metrics.ObserveFontPersist(err == nil)
		if err != nil {
			w.logger.WithField("locator", locator.String()).WithError(err).Warn("font_persist_failed")
			return
		}
		w.logger.WithFields(logrus.Fields{"locator": locator.String(), "opaque": resp.Opaque, "cross_origin": resp.CrossOrigin}).Debug("font_persisted")
	}()
}

// routeRange 从完整缓存的资源合成 206；未缓存时回源，回源失败返回 503。
func (w *Worker) routeRange(ctx context.Context, req *Request, byteRange ByteRange) *Response {
	if hit, ok := w.matchContent(ctx, req.URL.Path); ok {
		body, err := hit.ReadAll()
		if err == nil {
			resp := SynthesizePartial(body, hit.Entry.ContentType(), byteRange)
			resp.Group = hit.Entry.Locator.Group
			return resp
		}
		w.logger.WithField("path", req.URL.Path).WithError(err).Warn("cache_read_failed")
	}
	return w.fromNetwork(ctx, req, StrategyRange)
}

// routeDefault 忽略查询串按路径查找缓存；未命中时回源，回源失败返回 503。
func (w *Worker) routeDefault(ctx context.Context, req *Request) *Response {
	if hit, ok := w.matchContent(ctx, req.URL.Path); ok {
		resp, err := cachedResponse(hit, StrategyDefault)
		if err == nil {
			return resp
		}
		w.logger.WithField("path", req.URL.Path).WithError(err).Warn("cache_read_failed")
	}
	return w.fromNetwork(ctx, req, StrategyDefault)
}

func (w *Worker) matchContent(ctx context.Context, requestPath string) (*cache.ReadResult, bool) {
	hit, err := cache.Match(ctx, w.store, w.manifest.Names(), manifest.RequestPath(requestPath))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithField("path", requestPath).WithError(err).Warn("cache_lookup_failed")
		}
		return nil, false
	}
	return hit, true
}

func (w *Worker) fromNetwork(ctx context.Context, req *Request, strategy Strategy) *Response {
	target := w.contentURL(req.URL)
	resp, err := w.fetcher.Fetch(ctx, &fetch.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: req.Header,
	})
	if err != nil {
		w.logger.WithField("url", target.Redacted()).WithError(err).Warn("network_unavailable")
		return emptyResponse(http.StatusServiceUnavailable, strategy)
	}
	return networkResponse(resp, strategy)
}

// contentURL 将客户端路径映射到内容源站。
func (w *Worker) contentURL(u *url.URL) *url.URL {
	ref := &url.URL{
		Path:     strings.TrimPrefix(u.Path, "/"),
		RawQuery: u.RawQuery,
	}
	return w.settings.Origin.ResolveReference(ref)
}

func fontURL(origin *url.URL, u *url.URL) *url.URL {
	return &url.URL{
		Scheme:   origin.Scheme,
		Host:     origin.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
}

// fontLocatorPath 用 host + path 以及查询串摘要标识一个字体请求。
func fontLocatorPath(origin *url.URL, u *url.URL) string {
	p := "/" + strings.ToLower(origin.Host) + manifest.RequestPath(u.Path)
	if u.RawQuery == "" {
		return p
	}
	sum := sha1.Sum([]byte(u.RawQuery))
	return p + "~" + hex.EncodeToString(sum[:8])
}

func cachedResponse(hit *cache.ReadResult, strategy Strategy) (*Response, error) {
	body, err := hit.ReadAll()
	if err != nil {
		return nil, err
	}
	header := hit.Entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   hit.Entry.Status,
		Header:   header,
		Body:     body,
		Source:   SourceCache,
		Strategy: strategy,
		Group:    hit.Entry.Locator.Group,
	}, nil
}

func networkResponse(resp *fetch.Response, strategy Strategy) *Response {
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   resp.Status,
		Header:   header,
		Body:     resp.Body,
		Source:   SourceNetwork,
		Strategy: strategy,
		Opaque:   resp.Opaque,
	}
}

func emptyResponse(status int, strategy Strategy) *Response {
	return &Response{
		Status:   status,
		Header:   http.Header{},
		Body:     nil,
		Source:   SourceUnavailable,
		Strategy: strategy,
	}
}

// hostOnly 去掉 host:port 中的端口。
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
