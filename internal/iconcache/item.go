package iconcache

import (
	"context"
	"path/filepath"
	"time"

	"github.com/any-hub/iconcache/internal/config"
	"github.com/any-hub/iconcache/internal/fetch"
)

// Release 结束一次读/写作用域，必须在所有退出路径上恰好调用一次。
type Release func()

// Item 是缓存条目所属的条目记录。
type Item interface {
	// Key 返回用于日志的稳定标识。
	Key() string
	// BeginRead 进入共享读作用域。
	BeginRead() Release
	// BeginChange 进入独占写作用域；释放时实现方负责持久化变更。
	BeginChange() Release
	// ThumbnailURL 在读作用域内调用，实现不得再次加锁。
	ThumbnailURL() string
}

// State 是缓存条目随条目记录持久化的字段，空字符串表示缺失。
type State struct {
	ETag      string `json:"etag,omitempty"`
	Modified  string `json:"modified,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Validators 返回可用于条件请求的凭据。
func (s State) Validators() fetch.Validators {
	return fetch.Validators{ETag: s.ETag, Modified: s.Modified}
}

// Fetcher 是条件抓取协作者，*fetch.Client 为默认实现。
type Fetcher interface {
	Fetch(ctx context.Context, url string, v fetch.Validators) (*fetch.Result, error)
}

// ConfigSource 是按键查询配置的协作者，*config.Config 为默认实现。
type ConfigSource interface {
	Get(key string) string
}

// Metrics 接收刷新统计，*metrics.Refresh 为默认实现。
type Metrics interface {
	ObserveRefresh(outcome string, elapsed time.Duration)
	AddBytes(n int64)
	SetPending(vital, idle int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRefresh(string, time.Duration) {}
func (nopMetrics) AddBytes(int64)                       {}
func (nopMetrics) SetPending(int, int)                  {}

// CacheDir 返回 <support>/icon-cache。
func CacheDir(cfg ConfigSource) string {
	return filepath.Join(cfg.Get(config.SupportDirectory), "icon-cache")
}
