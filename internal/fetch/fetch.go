// Package fetch is the network side of the cache: a minimal request/response
// capability that buffers bodies and reports whether a response crossed
// origins or arrived without a readable status.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/server"
)

// ErrNoOrigin 表示构造 Fetcher 时缺少内容源站。
var ErrNoOrigin = errors.New("content origin required")

// Request 描述一次回源请求。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// NoStore 要求绕过任何中间 HTTP 缓存（安装阶段使用）。
	NoStore bool
}

// Response 是已完整缓冲的回源响应。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    *url.URL

	// Opaque 表示状态码不可读（Status 为 0）的响应，只能整体缓存与回放。
	// HTTPFetcher 总能读到状态码，因此从不设置该标志。
	Opaque bool

	// CrossOrigin 表示响应来自内容源站以外且未携带 CORS 许可。
	CrossOrigin bool
}

// OK 报告状态码是否为 2xx。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone 返回独立副本，供“一边返回一边落盘”的双路径使用。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	cloned.Body = append([]byte(nil), r.Body...)
	if r.URL != nil {
		u := *r.URL
		cloned.URL = &u
	}
	return &cloned
}

// Fetcher 是缓存层依赖的网络能力。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 执行回源。
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher 构造 HTTPFetcher；origin 用于判定响应是否跨源。
func NewHTTPFetcher(client *http.Client, origin *url.URL) (*HTTPFetcher, error) {
	if origin == nil || origin.Host == "" {
		return nil, ErrNoOrigin
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, origin: origin}, nil
}

// Fetch 发送请求并读取完整正文；非 2xx 不视为错误，只有传输失败才返回 error。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("fetch: request url required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	httpReq.Header.Del("Host")
	if req.NoStore {
		server.ApplyNoStore(httpReq.Header)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &Response{
		Status:      resp.StatusCode,
		Header:      header,
		Body:        payload,
		URL:         finalURL,
		CrossOrigin: f.isCrossOrigin(finalURL, header),
	}, nil
}

func (f *HTTPFetcher) isCrossOrigin(u *url.URL, header http.Header) bool {
	if SameOrigin(f.origin, u) {
		return false
	}
	return strings.TrimSpace(header.Get("Access-Control-Allow-Origin")) == ""
}

// SameOrigin 比较 scheme + host(:port)。
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// BodyReader 返回正文 Reader。
func (r *Response) BodyReader() io.Reader {
	if r == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(r.Body)
}
