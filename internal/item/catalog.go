package item

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/iconcache"
	"github.com/any-hub/iconcache/internal/logging"
)

// Catalog 维护内存中的记录集合，并为每条记录挂接图标缓存条目。
type Catalog struct {
	store *Store
	coord *iconcache.Coordinator
	log   *logrus.Entry

	mu    sync.RWMutex
	byID  map[int64]*Record
	order []*Record
}

// NewCatalog 构建空目录，需要调用 Load 恢复已持久化的记录。
func NewCatalog(store *Store, coord *iconcache.Coordinator, logger *logrus.Logger) *Catalog {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Catalog{
		store: store,
		coord: coord,
		log:   logging.Component(logger, "catalog"),
		byID:  make(map[int64]*Record),
	}
}

// Load 从数据库恢复记录；恢复的条目各发起一次 idle 刷新以重新确认缓存。
func (c *Catalog) Load(ctx context.Context) (int, error) {
	rows, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var restored []*Record
	c.mu.Lock()
	for _, row := range rows {
		if _, ok := c.byID[row.ID]; ok {
			continue
		}
		rec := newRecord(row.ID, row.Data, c.store, c.log)
		rec.icon = c.coord.RestoreEntry(rec, row.Icon)
		c.add(rec)
		restored = append(restored, rec)
	}
	c.mu.Unlock()

	for _, rec := range restored {
		rec.icon.RequestUpdate(false)
	}
	c.log.WithField("items", len(restored)).Info("catalog_loaded")
	return len(restored), nil
}

// Upsert 保存条目。新记录立即请求一次刷新；已有记录仅在缩略图地址变化时请求。
func (c *Catalog) Upsert(ctx context.Context, d Data, vital bool) (*Record, error) {
	id, err := c.store.Upsert(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", d.Feed, d.GUID, err)
	}

	c.mu.Lock()
	rec, ok := c.byID[id]
	if !ok {
		rec = newRecord(id, d, c.store, c.log)
		rec.icon = c.coord.NewEntry(rec)
		c.add(rec)
	}
	c.mu.Unlock()

	if !ok {
		rec.icon.RequestUpdate(vital)
		return rec, nil
	}
	if rec.setData(d) {
		rec.icon.RequestUpdate(vital)
	}
	return rec, nil
}

// Get 按 ID 查找记录。
func (c *Catalog) Get(id int64) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byID[id]
	return rec, ok
}

// List 按插入顺序返回全部记录。
func (c *Catalog) List() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Record(nil), c.order...)
}

// Len 返回记录数。
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Catalog) add(rec *Record) {
	c.byID[rec.id] = rec
	c.order = append(c.order, rec)
}
