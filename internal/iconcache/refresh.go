package iconcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/any-hub/iconcache/internal/cache"
	"github.com/any-hub/iconcache/internal/fetch"
	"github.com/any-hub/iconcache/internal/logging"
)

// Outcome 描述一次刷新的结果。
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeUpdated     Outcome = "updated"
	OutcomeFailed      Outcome = "failed"
)

// errUnexpectedNotModified 表示未携带凭据却收到 304。
var errUnexpectedNotModified = errors.New("not modified without validators")

type snapshot struct {
	state State
	url   string
}

func (c *Coordinator) refresh(ctx context.Context, e *Entry) (Outcome, error) {
	snap, ok := c.beginRefresh(e)
	if !ok {
		return OutcomeSkipped, nil
	}
	defer c.endRefresh(e)

	if err := c.dir.Ensure(); err != nil {
		c.log.WithError(err).Warn("icon_cache_dir_failed")
	}

	res, err := c.fetchFor(ctx, snap)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeFailed, err
		}
		c.forget(e, snap)
		return OutcomeFailed, err
	}
	defer res.Close()

	if res.NotModified() {
		c.markRefreshed(e)
		return OutcomeNotModified, nil
	}
	return c.store(ctx, e, snap, res)
}

// beginRefresh 等待同一条目上的其它刷新结束；条目已验证且地址未变时跳过。
func (c *Coordinator) beginRefresh(e *Entry) (snapshot, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	for e.inFlight {
		c.stateCond.Wait()
	}

	release := e.item.BeginRead()
	defer release()

	snap := snapshot{state: e.state, url: e.item.ThumbnailURL()}
	if e.refreshedOnce && snap.url == snap.state.SourceURL {
		return snap, false
	}
	e.inFlight = true
	return snap, true
}

func (c *Coordinator) endRefresh(e *Entry) {
	c.stateMu.Lock()
	release := e.item.BeginRead()
	e.inFlight = false
	release()
	c.stateMu.Unlock()
	c.stateCond.Broadcast()
}

func (c *Coordinator) markRefreshed(e *Entry) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	release := e.item.BeginRead()
	defer release()
	e.refreshedOnce = true
}

// fetchFor 仅在地址未变且本地文件可读时携带凭据。
func (c *Coordinator) fetchFor(ctx context.Context, snap snapshot) (*fetch.Result, error) {
	if snap.url == "" {
		return nil, ErrNoThumbnailURL
	}

	var v fetch.Validators
	if snap.url == snap.state.SourceURL && cache.Readable(snap.state.LocalPath) {
		v = snap.state.Validators()
	}

	res, err := c.fetcher.Fetch(ctx, snap.url, v)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("fetch %s: empty result", snap.url)
	}
	if res.NotModified() && v.Empty() {
		_ = res.Close()
		return nil, fmt.Errorf("fetch %s: %w", snap.url, errUnexpectedNotModified)
	}
	return res, nil
}

// forget 删除旧文件并清空凭据，只保留当前地址。
func (c *Coordinator) forget(e *Entry, snap snapshot) {
	if err := c.dir.Remove(snap.state.LocalPath); err != nil {
		c.log.WithField("path", snap.state.LocalPath).WithError(err).Warn("icon_remove_failed")
	}

	release := e.item.BeginChange()
	defer release()
	e.state = State{SourceURL: snap.url}
}

// store 写入 .part 并移动到位，随后一次性记录新的凭据、路径与地址。
// 写入失败时目标文件视为不存在，凭据仍按响应记录。旧文件不可写而换用
// 新名称时，旧文件随之删除。
func (c *Coordinator) store(ctx context.Context, e *Entry, snap snapshot, res *fetch.Result) (Outcome, error) {
	old := snap.state.LocalPath
	dest := old
	if dest != "" && !cache.Writable(dest) {
		dest = ""
	}

	path, written, err := c.download(ctx, res, dest)
	if err != nil && ctx.Err() != nil {
		return OutcomeFailed, err
	}
	if err != nil {
		path = ""
	}
	if old != "" && old != path {
		if rmErr := c.dir.Remove(old); rmErr != nil {
			c.log.WithField("path", old).WithError(rmErr).Warn("icon_remove_failed")
		}
	}
	c.metrics.AddBytes(written)

	release := e.item.BeginChange()
	e.state = State{
		ETag:      res.ETag,
		Modified:  res.Modified,
		LocalPath: path,
		SourceURL: snap.url,
	}
	release()

	if err != nil {
		return OutcomeFailed, err
	}
	c.log.WithFields(logging.RefreshFields(e.item.Key(), snap.url, false)).
		WithField("path", path).
		WithField("size", humanize.Bytes(uint64(written))).
		Debug("icon_stored")
	return OutcomeUpdated, nil
}

func (c *Coordinator) download(ctx context.Context, res *fetch.Result, dest string) (string, int64, error) {
	target := dest
	if target == "" {
		target = c.dir.Path(res.Filename)
	}

	part, err := c.dir.CreatePart(target)
	if err != nil {
		return "", 0, err
	}
	written, err := part.ReadFrom(ctx, res.Body)
	if err != nil {
		part.Discard()
		return "", written, fmt.Errorf("write %s: %w", part.Path(), err)
	}
	if err := part.Close(); err != nil {
		part.Discard()
		return "", written, fmt.Errorf("close %s: %w", part.Path(), err)
	}

	path, err := c.dir.Commit(part, dest, res.Filename)
	if err != nil {
		return "", written, err
	}
	return path, written, nil
}
