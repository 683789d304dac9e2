package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *FetcherRegistry
	ListenPort int
}

const (
	contextKeyRoute     = "_kasuki_route"
	contextKeyRequestID = "_kasuki_request_id"
)

// NewApp builds a Fiber application with request-ID middleware, upstream
// lookup for /v1/:upstream and structured error handling. Diagnostics routes
// are registered separately via RegisterStatusRoutes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("fetcher registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handler := &fetchHandler{logger: opts.Logger}
	app.Post("/v1/:upstream", upstreamLookupMiddleware(opts), handler.Handle)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并回写 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// upstreamLookupMiddleware 基于路径参数查找 UpstreamRoute。
func upstreamLookupMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("upstream"))
		route, ok := opts.Registry.Route(name)
		if !ok {
			return renderUpstreamUnmapped(c, opts.Logger, name, opts.ListenPort)
		}
		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderUpstreamUnmapped(c fiber.Ctx, logger *logrus.Logger, name string, port int) error {
	fields := logrus.Fields{
		"action":     "upstream_lookup",
		"upstream":   name,
		"port":       port,
		"request_id": RequestID(c),
	}
	logger.WithFields(fields).Warn("upstream unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "upstream_unmapped",
	})
}

func getRouteFromContext(c fiber.Ctx) (*UpstreamRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*UpstreamRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
