package server

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/version"
)

// upstreamUserAgent 标识回源流量，客户端自带 User-Agent 时保持不变。
var upstreamUserAgent = "offline-hub/" + version.Version

// newTransport 构造回源连接池。UpstreamTimeout 为 0 时不限制等待响应头的时间，
// 大体积媒体的预缓存只受调用方 context 约束。
func newTransport(cfg *config.Config) *http.Transport {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if cfg != nil {
		if timeout := cfg.Global.UpstreamTimeout.DurationValue(); timeout > 0 {
			transport.ResponseHeaderTimeout = timeout
		}
	}
	return transport
}

type upstreamTransport struct {
	base http.RoundTripper
}

func (t *upstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", upstreamUserAgent)
	}
	return t.base.RoundTrip(req)
}

// NewUpstreamClient 返回共享 http.Client，用于预缓存、字体与回源请求。
// UpstreamTimeout 为 0 时不设置整体超时。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	var timeout time.Duration
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &upstreamTransport{base: newTransport(cfg)},
	}
}

// ApplyNoStore 让预缓存请求绕过源站及中间代理的 HTTP 缓存，
// 并去掉条件与分段请求头，保证拿到完整的最新正文。
func ApplyNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	for _, key := range []string{"If-None-Match", "If-Modified-Since", "If-Range", "Range"} {
		h.Del(key)
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
