package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/offline-hub/internal/server"
)

const requestIDKey = "_offlinehub_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	route := server.HostRoute{Kind: server.HostKindContent, Host: "stories.local"}

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "route_handler_missing") {
		t.Fatalf("expected error body to mention route_handler_missing, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(server.RequestHandlerFunc(func(fiber.Ctx, server.HostRoute) error {
		panic("boom")
	}), logger)

	route := server.HostRoute{Kind: server.HostKindFont, Host: "fonts.gstatic.com"}
	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "route_handler_panic") {
		t.Fatalf("expected error body to mention route_handler_panic, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "boom") {
		t.Fatalf("expected log to mention panic value, got %s", logBuf.String())
	}
}

func TestForwarderPassesRouteToHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	var seen []server.HostKind
	forwarder := NewForwarder(server.RequestHandlerFunc(func(c fiber.Ctx, route server.HostRoute) error {
		seen = append(seen, route.Kind)
		return c.SendStatus(fiber.StatusNoContent)
	}), logrus.New())

	for _, kind := range []server.HostKind{server.HostKindContent, server.HostKindFont} {
		if err := forwarder.Handle(ctx, server.HostRoute{Kind: kind}); err != nil {
			t.Fatalf("handle %s: %v", kind, err)
		}
	}
	if len(seen) != 2 || seen[0] != server.HostKindContent || seen[1] != server.HostKindFont {
		t.Fatalf("unexpected routes seen: %v", seen)
	}
}
