package iconcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/iconcache/internal/cache"
	"github.com/any-hub/iconcache/internal/logging"
)

// DefaultWorkers 为未配置时的 worker 数量。
const DefaultWorkers = 3

var (
	// ErrClosed 表示 Coordinator 已停止。
	ErrClosed = errors.New("icon cache coordinator closed")
	// ErrNoThumbnailURL 表示条目当前没有缩略图地址，刷新按失败处理。
	ErrNoThumbnailURL = errors.New("item has no thumbnail url")
)

// Options 描述 Coordinator 的协作者。Dir 为空时使用 CacheDir(Config)；
// IdleDelay 为每次 idle 刷新后的让出间隔，0 表示不等待。
type Options struct {
	Config    ConfigSource
	Dir       *cache.Dir
	Fetcher   Fetcher
	Workers   int
	IdleDelay time.Duration
	Logger    *logrus.Logger
	Metrics   Metrics
}

// Coordinator 持有工作队列、worker 池以及全局的刷新状态锁，整个进程只构建一次。
type Coordinator struct {
	dir       *cache.Dir
	fetcher   Fetcher
	workers   int
	idleDelay time.Duration
	log       *logrus.Entry
	metrics   Metrics

	queue *workQueue

	// stateMu + stateCond 保护所有条目的 refreshedOnce/inFlight。
	stateMu   sync.Mutex
	stateCond *sync.Cond

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewCoordinator 校验依赖并构建 Coordinator；worker 在 Start 后才启动。
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}

	dir := opts.Dir
	if dir == nil {
		if opts.Config == nil {
			return nil, errors.New("config or cache dir required")
		}
		var err error
		dir, err = cache.NewDir(CacheDir(opts.Config))
		if err != nil {
			return nil, err
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	idleDelay := opts.IdleDelay
	if idleDelay < 0 {
		idleDelay = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	var m Metrics = nopMetrics{}
	if opts.Metrics != nil {
		m = opts.Metrics
	}

	c := &Coordinator{
		dir:       dir,
		fetcher:   opts.Fetcher,
		workers:   workers,
		idleDelay: idleDelay,
		log:       logging.Component(logger, "iconcache"),
		metrics:   m,
		queue:     newWorkQueue(),
	}
	c.stateCond = sync.NewCond(&c.stateMu)
	return c, nil
}

// Dir 返回缓存目录。
func (c *Coordinator) Dir() *cache.Dir {
	return c.dir
}

// Start 启动 worker 池；ctx 取消等价于 Stop。重复调用无副作用。
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.stopped {
		return ErrClosed
	}
	if c.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		id := i + 1
		group.Go(func() error {
			c.work(gctx, id)
			return nil
		})
	}
	context.AfterFunc(ctx, c.queue.close)

	c.started = true
	c.cancel = cancel
	c.group = group
	c.log.WithFields(logrus.Fields{
		"workers":    c.workers,
		"idle_delay": c.idleDelay.String(),
		"cache_dir":  c.dir.Root(),
	}).Info("icon_workers_started")
	return nil
}

// Stop 关闭队列、取消进行中的下载并等待所有 worker 退出。
func (c *Coordinator) Stop() error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return nil
	}
	c.stopped = true
	cancel, group := c.cancel, c.group
	c.lifeMu.Unlock()

	c.queue.close()
	if cancel != nil {
		cancel()
	}
	if group == nil {
		return nil
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("stop icon workers: %w", err)
	}
	c.log.Info("icon_workers_stopped")
	return nil
}

// RequestUpdate 把条目放入对应队列。已经有缓存文件的条目即使请求 vital
// 也只进入 idle 队列。
func (c *Coordinator) RequestUpdate(e *Entry, vital bool) {
	if e == nil {
		return
	}
	if vital && e.hasCachedFile() {
		vital = false
	}
	if !c.queue.push(e, vital) {
		c.log.WithField("item", e.item.Key()).Debug("icon_request_dropped")
		return
	}
	c.metrics.SetPending(c.queue.lens())
}

// ClearVital 丢弃所有未开始的 vital 请求，正在执行的刷新不受影响。
func (c *Coordinator) ClearVital() {
	n := c.queue.clearVital()
	c.metrics.SetPending(c.queue.lens())
	if n > 0 {
		c.log.WithField("dropped", n).Debug("icon_vital_cleared")
	}
}

// Pending 返回两个队列中等待的请求数。
func (c *Coordinator) Pending() (vital, idle int) {
	return c.queue.lens()
}

func (c *Coordinator) work(ctx context.Context, id int) {
	log := c.log.WithField("worker", id)
	for {
		e, vital, ok := c.queue.pop()
		if !ok {
			return
		}
		c.metrics.SetPending(c.queue.lens())
		c.runOne(ctx, log, e, vital)

		if !vital && c.idleDelay > 0 {
			timer := time.NewTimer(c.idleDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// runOne 执行一次刷新；panic 被记录为失败，worker 继续处理后续请求。
func (c *Coordinator) runOne(ctx context.Context, log *logrus.Entry, e *Entry, vital bool) {
	started := time.Now()
	outcome := OutcomeFailed
	var err error

	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("refresh panic: %v", r)
		}
		elapsed := time.Since(started)
		c.metrics.ObserveRefresh(string(outcome), elapsed)

		fields := logrus.Fields{
			"item":     e.item.Key(),
			"vital":    vital,
			"outcome":  string(outcome),
			"duration": elapsed.Milliseconds(),
		}
		switch {
		case err != nil && ctx.Err() != nil:
			log.WithFields(fields).WithError(err).Debug("icon_refresh_cancelled")
		case err != nil:
			log.WithFields(fields).WithError(err).Warn("icon_refresh_failed")
		default:
			log.WithFields(fields).Debug("icon_refresh_done")
		}
	}()

	outcome, err = e.Refresh(ctx)
}
