package server

import (
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/iconcache"
	"github.com/any-hub/iconcache/internal/item"
	"github.com/any-hub/iconcache/internal/logging"
)

type itemHandlers struct {
	catalog Catalog
	coord   *iconcache.Coordinator
	memo    *iconMemo
	log     *logrus.Logger
}

type itemPayload struct {
	item.View
	Cached bool `json:"cached"`
}

func (h *itemHandlers) list(c fiber.Ctx) error {
	records := h.catalog.List()
	payload := make([]itemPayload, 0, len(records))
	for _, rec := range records {
		view := rec.Snapshot()
		payload = append(payload, itemPayload{View: view, Cached: view.Icon.LocalPath != ""})
	}
	return c.JSON(fiber.Map{"items": payload})
}

// icon 直接返回已缓存的文件；未缓存时发起 vital 请求并返回 404，客户端稍后重试。
func (h *itemHandlers) icon(c fiber.Ctx) error {
	rec, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	path := rec.Icon().LocalPath()
	if path != "" {
		data, inMemory, readErr := h.memo.load(path)
		if readErr == nil {
			c.Set("X-Icon-Cache-Hit", "true")
			c.Set("X-Icon-Memory-Hit", strconv.FormatBool(inMemory))
			c.Type(filepath.Ext(path))
			return c.Send(data)
		}
		h.log.WithFields(logging.RefreshFields(rec.Key(), "", true)).
			WithField("path", path).
			WithError(readErr).
			Warn("icon_read_failed")
	}

	rec.Icon().RequestUpdate(true)
	c.Set("X-Icon-Cache-Hit", "false")
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "icon_not_cached"})
}

func (h *itemHandlers) refresh(c fiber.Ctx) error {
	rec, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	// 本次运行已确认过的条目不会再访问网络，直接告知客户端。
	if rec.Icon().Verified() {
		return c.JSON(fiber.Map{
			"id":       rec.ID(),
			"queued":   false,
			"verified": true,
		})
	}
	rec.Icon().RequestUpdate(true)
	vital, idle := h.coord.Pending()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":       rec.ID(),
		"queued":   true,
		"verified": false,
		"pending":  fiber.Map{"vital": vital, "idle": idle},
	})
}

// lookup 解析路径中的条目 ID；找不到时已写好错误响应，ok 为 false。
func (h *itemHandlers) lookup(c fiber.Ctx) (*item.Record, bool, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_item_id"})
	}
	rec, ok := h.catalog.Get(id)
	if !ok {
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "item_not_found"})
	}
	return rec, true, nil
}
