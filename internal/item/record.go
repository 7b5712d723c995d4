package item

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/iconcache"
)

const saveTimeout = 5 * time.Second

type iconSaver interface {
	SaveIcon(ctx context.Context, id int64, st iconcache.State) error
}

// Record 是一条条目记录，实现 iconcache.Item。
//
// mu 同时保护 data 与图标条目的持久化字段；写作用域结束时先落库再解锁。
type Record struct {
	id    int64
	key   string
	saver iconSaver
	log   *logrus.Entry

	mu   sync.RWMutex
	data Data

	// icon 在记录对外可见之前赋值一次，之后只读。
	icon *iconcache.Entry
}

// View 是记录在某一时刻的只读快照。
type View struct {
	ID   int64           `json:"id"`
	Data Data            `json:"data"`
	Icon iconcache.State `json:"icon"`
}

func newRecord(id int64, d Data, saver iconSaver, log *logrus.Entry) *Record {
	return &Record{
		id:    id,
		key:   fmt.Sprintf("%s/%s", d.Feed, d.GUID),
		data:  d,
		saver: saver,
		log:   log,
	}
}

// ID 返回数据库行 ID。
func (r *Record) ID() int64 {
	return r.id
}

// Key 返回 feed/guid 组合，用于日志。
func (r *Record) Key() string {
	return r.key
}

// BeginRead 进入共享读作用域。
func (r *Record) BeginRead() iconcache.Release {
	r.mu.RLock()
	return r.mu.RUnlock
}

// BeginChange 进入独占写作用域；释放时把图标字段写回数据库。
func (r *Record) BeginChange() iconcache.Release {
	r.mu.Lock()
	return func() {
		r.persistLocked()
		r.mu.Unlock()
	}
}

// ThumbnailURL 返回当前缩略图地址，调用方必须已持有读或写作用域。
func (r *Record) ThumbnailURL() string {
	return r.data.ThumbnailURL
}

// Icon 返回图标缓存条目。
func (r *Record) Icon() *iconcache.Entry {
	return r.icon
}

// Data 返回业务字段的副本。
func (r *Record) Data() Data {
	release := r.BeginRead()
	defer release()
	return r.data
}

// Snapshot 在同一个读作用域内返回业务字段与图标状态。
func (r *Record) Snapshot() View {
	release := r.BeginRead()
	defer release()

	v := View{ID: r.id, Data: r.data}
	if r.icon != nil {
		v.Icon = r.icon.StateLocked()
	}
	return v
}

// setData 在写作用域内替换业务字段，返回缩略图地址是否变化。
func (r *Record) setData(d Data) bool {
	release := r.BeginChange()
	defer release()

	changed := r.data.ThumbnailURL != d.ThumbnailURL
	r.data = d
	return changed
}

func (r *Record) persistLocked() {
	if r.saver == nil || r.icon == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := r.saver.SaveIcon(ctx, r.id, r.icon.StateLocked()); err != nil {
		r.log.WithField("item", r.id).WithError(err).Warn("icon_state_save_failed")
	}
}
