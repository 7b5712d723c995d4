package iconcache

import "context"

// Entry 是单个条目的图标缓存记录。
//
// state 由所属 item 的读/写作用域保护；refreshedOnce 与 inFlight 只在持有
// Coordinator.stateMu 时读写。
type Entry struct {
	item  Item
	coord *Coordinator

	state State

	refreshedOnce bool
	inFlight      bool
}

// NewEntry 为 item 创建空缓存条目。调用方在把条目挂到 item 上之后
// 立即调用 RequestUpdate 发起首次刷新。
func (c *Coordinator) NewEntry(item Item) *Entry {
	return &Entry{item: item, coord: c}
}

// RestoreEntry 使用持久化的字段重建条目；运行期标记全部清零，
// 因此下一次刷新一定会向服务端确认一次。
func (c *Coordinator) RestoreEntry(item Item, st State) *Entry {
	return &Entry{item: item, coord: c, state: st}
}

// Item 返回条目所属的 item。
func (e *Entry) Item() Item {
	return e.item
}

// RequestUpdate 请求刷新该条目。不能在持有 item 写作用域时调用。
func (e *Entry) RequestUpdate(vital bool) {
	e.coord.RequestUpdate(e, vital)
}

// Refresh 在当前 goroutine 中执行一次刷新。
func (e *Entry) Refresh(ctx context.Context) (Outcome, error) {
	return e.coord.refresh(ctx, e)
}

// Verified 报告本次运行中当前地址是否已由服务端确认；此时刷新会被跳过。
func (e *Entry) Verified() bool {
	c := e.coord
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	release := e.item.BeginRead()
	defer release()
	return e.refreshedOnce && e.item.ThumbnailURL() == e.state.SourceURL
}

// State 在读作用域内返回持久化字段的快照。
func (e *Entry) State() State {
	release := e.item.BeginRead()
	defer release()
	return e.state
}

// StateLocked 返回持久化字段，调用方必须已持有读或写作用域。
func (e *Entry) StateLocked() State {
	return e.state
}

// LocalPath 返回当前缓存文件路径，没有缓存时为空。
func (e *Entry) LocalPath() string {
	return e.State().LocalPath
}

func (e *Entry) hasCachedFile() bool {
	return e.LocalPath() != ""
}
