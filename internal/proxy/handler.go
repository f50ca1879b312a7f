package proxy

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// Router 是 Handler 依赖的路由能力，由 lifecycle.Worker 实现。
type Router interface {
	Route(ctx context.Context, req *lifecycle.Request) *lifecycle.Response
}

// Handler 把 Fiber 请求转换为 lifecycle.Request，交给 Router 选择策略，
// 再把缓冲好的响应写回客户端。
type Handler struct {
	router Router
	logger *logrus.Logger
}

// NewHandler constructs a handler bound to the lifecycle router.
func NewHandler(router Router, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		router: router,
		logger: logger,
	}
}

// Handle 实现 server.RequestHandler。
func (h *Handler) Handle(c fiber.Ctx, route server.HostRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildRequest(c)
	resp := h.router.Route(ctx, req)
	if resp == nil {
		return h.writeError(c, fiber.StatusInternalServerError, "empty_response", requestID)
	}

	writeResponse(c, resp, requestID)
	h.logResult(route, req, resp, requestID, started)
	return nil
}

// buildRequest 以客户端视角还原绝对 URL，Host 保留原始端口供字体源匹配。
func buildRequest(c fiber.Ctx) *lifecycle.Request {
	uri := c.Request().URI()
	scheme := c.Scheme()
	if scheme != "https" {
		scheme = "http"
	}
	u := &url.URL{
		Scheme:   scheme,
		Host:     server.HostHeader(c),
		Path:     requestPath(c),
		RawQuery: string(uri.QueryString()),
	}

	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &lifecycle.Request{
		Method: c.Method(),
		URL:    u,
		Header: fiberHeadersAsHTTP(c),
		Body:   body,
	}
}

func writeResponse(c fiber.Ctx, resp *lifecycle.Response, requestID string) {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Hub-Source", string(resp.Source))
	c.Set("X-Offline-Hub-Cache-Hit", strconv.FormatBool(resp.CacheHit()))
	if resp.Group != "" {
		c.Set("X-Offline-Hub-Group", resp.Group)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		c.Response().SkipBody = true
		return
	}
	if len(resp.Body) == 0 {
		c.Response().ResetBody()
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route server.HostRoute,
	req *lifecycle.Request,
	resp *lifecycle.Response,
	requestID string,
	started time.Time,
) {
	fields := logging.RequestFields(string(resp.Strategy), string(resp.Source), resp.Group, resp.CacheHit())
	fields["action"] = "route"
	fields["host_kind"] = string(route.Kind)
	fields["method"] = req.Method
	fields["path"] = req.URL.Path
	fields["status"] = resp.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if resp.Source == lifecycle.SourceUnavailable {
		h.logger.WithFields(fields).Warn("route_unavailable")
		return
	}
	h.logger.WithFields(fields).Info("route_complete")
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
