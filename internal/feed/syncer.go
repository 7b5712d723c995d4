// Package feed pulls the configured RSS/Atom feeds, extracts each entry's
// thumbnail URL and upserts the entries into the item catalog, which in turn
// schedules icon refreshes.
package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/config"
	"github.com/any-hub/iconcache/internal/fetch"
	"github.com/any-hub/iconcache/internal/item"
	"github.com/any-hub/iconcache/internal/logging"
)

// Fetcher 执行条件 GET，*fetch.Client 为默认实现。
type Fetcher interface {
	Fetch(ctx context.Context, url string, v fetch.Validators) (*fetch.Result, error)
}

// Upserter 接收解析出的条目，*item.Catalog 为默认实现。
type Upserter interface {
	Upsert(ctx context.Context, d item.Data, vital bool) (*item.Record, error)
}

// Syncer 同步订阅源，按订阅源地址记住上一次的缓存凭据。
type Syncer struct {
	fetcher Fetcher
	catalog Upserter
	logger  *logrus.Logger
	log     *logrus.Entry

	mu         sync.Mutex
	validators map[string]fetch.Validators
}

// NewSyncer 构建同步器。
func NewSyncer(fetcher Fetcher, catalog Upserter, logger *logrus.Logger) *Syncer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{
		fetcher:    fetcher,
		catalog:    catalog,
		logger:     logger,
		log:        logging.Component(logger, "feed"),
		validators: make(map[string]fetch.Validators),
	}
}

// Sync 拉取单个订阅源并写入条目，返回写入的条目数；304 时返回 0。
func (s *Syncer) Sync(ctx context.Context, fc config.FeedConfig) (int, error) {
	s.mu.Lock()
	v := s.validators[fc.URL]
	s.mu.Unlock()

	res, err := s.fetcher.Fetch(ctx, fc.URL, v)
	if err != nil {
		return 0, err
	}
	defer res.Close()

	if res.NotModified() {
		return 0, nil
	}

	parsed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", fc.Name, err)
	}

	count := 0
	for idx, it := range parsed.Items {
		d := item.Data{
			Feed:         fc.Name,
			GUID:         itemGUID(fc.Name, idx, it),
			Title:        fallbackString(it.Title, "(untitled)"),
			Link:         strings.TrimSpace(it.Link),
			ThumbnailURL: ThumbnailURL(it),
			Published:    published(it),
		}
		if _, err := s.catalog.Upsert(ctx, d, fc.Vital); err != nil {
			return count, err
		}
		count++
	}

	s.mu.Lock()
	s.validators[fc.URL] = fetch.Validators{ETag: res.ETag, Modified: res.Modified}
	s.mu.Unlock()
	return count, nil
}

// Run 立即同步所有订阅源，然后按 interval 周期同步，直到 ctx 取消。
func (s *Syncer) Run(ctx context.Context, feeds []config.FeedConfig, interval time.Duration) {
	if len(feeds) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.syncAll(ctx, feeds)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) syncAll(ctx context.Context, feeds []config.FeedConfig) {
	for _, fc := range feeds {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		n, err := s.Sync(ctx, fc)
		entry := s.logger.WithFields(logging.FeedFields(fc.Name, fc.URL)).
			WithField("duration", time.Since(started).Milliseconds())
		if err != nil {
			entry.WithError(err).Warn("feed_sync_failed")
			continue
		}
		entry.WithField("items", n).Info("feed_synced")
	}
}

func itemGUID(feed string, idx int, it *gofeed.Item) string {
	for _, candidate := range []string{it.GUID, it.Link, it.Title} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	if it.PublishedParsed != nil {
		return it.PublishedParsed.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s-item-%d", feed, idx)
}

func published(it *gofeed.Item) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
