// Package routes registers the /-/ diagnostics endpoints of the icon cache.
package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/iconcache/internal/version"
)

// Queue 暴露队列状态与 vital 清理能力，*iconcache.Coordinator 为默认实现。
type Queue interface {
	Pending() (vital, idle int)
	ClearVital()
}

// Counter 返回条目数量，*item.Catalog 为默认实现。
type Counter interface {
	Len() int
}

// RegisterDiagnostics 暴露 /-/status、/-/vital/clear 与 /-/metrics。
// gatherer 为 nil 时不注册指标接口。
func RegisterDiagnostics(app *fiber.App, queue Queue, items Counter, gatherer prometheus.Gatherer) {
	if app == nil || queue == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		vital, idle := queue.Pending()
		payload := fiber.Map{
			"version": version.Full(),
			"pending": fiber.Map{"vital": vital, "idle": idle},
		}
		if items != nil {
			payload["items"] = items.Len()
		}
		return c.JSON(payload)
	})

	// 视图不再可见时由客户端调用，丢弃尚未开始的 vital 请求。
	app.Post("/-/vital/clear", func(c fiber.Ctx) error {
		queue.ClearVital()
		return c.SendStatus(fiber.StatusNoContent)
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
