package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/iconcache"
	"github.com/any-hub/iconcache/internal/item"
)

// Catalog 是 HTTP 层读取条目的入口，*item.Catalog 为默认实现。
type Catalog interface {
	Get(id int64) (*item.Record, bool)
	List() []*item.Record
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger      *logrus.Logger
	Catalog     Catalog
	Coordinator *iconcache.Coordinator
	ListenPort  int
	// IconMemoryBytes 为 0 时使用 DefaultIconMemoryBytes。
	IconMemoryBytes int64
}

const contextKeyRequestID = "_iconcache_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic recovery
// and the item/icon endpoints.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("icon coordinator is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	memBytes := opts.IconMemoryBytes
	if memBytes == 0 {
		memBytes = DefaultIconMemoryBytes
	}
	memo, err := newIconMemo(memBytes)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &itemHandlers{
		catalog: opts.Catalog,
		coord:   opts.Coordinator,
		memo:    memo,
		log:     opts.Logger,
	}
	app.Get("/items", h.list)
	app.Get("/items/:id/icon", h.icon)
	app.Post("/items/:id/icon/refresh", h.refresh)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "http_request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(started).Milliseconds(),
		}).Debug("request handled")
		return err
	}
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
