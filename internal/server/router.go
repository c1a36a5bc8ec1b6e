package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImageHandler describes the component that serves GET /?url=... requests.
// It allows injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    ImageHandler
	ListenPort int
}

const contextKeyRequestID = "_imghub_request_id"

// exposedHeaders 让浏览器脚本可以读取缓存校验相关的响应头。
var exposedHeaders = []string{"ETag", "Last-Modified", "X-Cache-Hit", "X-Request-ID"}

// NewApp builds a Fiber application with request-id, CORS and recover
// middleware. Diagnostics routes under /-/ are registered by the caller after
// NewApp returns; every other unknown path renders a JSON 404.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("image handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(requestContextMiddleware())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions},
		AllowHeaders:  []string{fiber.HeaderIfNoneMatch, fiber.HeaderIfModifiedSince, fiber.HeaderContentType},
		ExposeHeaders: exposedHeaders,
	}))

	app.Get("/", opts.Handler.Handle)

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		if c.Method() == fiber.MethodOptions {
			c.Status(fiber.StatusNoContent)
			return nil
		}
		return renderRouteNotFound(c, opts.Logger)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并为所有响应附加通配 CORS 源。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		return c.Next()
	}
}

// errorHandler 将处理链中未被处理的错误（含 recover 捕获的 panic）渲染为 JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			if status < fiber.StatusInternalServerError {
				code = strings.ToLower(strings.ReplaceAll(fe.Message, " ", "_"))
			}
		}
		logger.WithFields(logrus.Fields{
			"action":     "request_error",
			"request_id": RequestID(c),
			"path":       string(c.Request().URI().Path()),
			"status":     status,
		}).WithError(err).Error("request_failed")

		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "route_lookup",
		"path":   string(c.Request().URI().Path()),
		"method": c.Method(),
	}).Debug("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_not_found",
	})
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
