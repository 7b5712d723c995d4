package iconcache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/iconcache/internal/cache"
	"github.com/any-hub/iconcache/internal/fetch"
)

type fakeItem struct {
	mu      sync.RWMutex
	key     string
	url     string
	changes atomic.Int32
}

func newFakeItem(key, url string) *fakeItem {
	return &fakeItem{key: key, url: url}
}

func (f *fakeItem) Key() string { return f.key }

func (f *fakeItem) BeginRead() Release {
	f.mu.RLock()
	return f.mu.RUnlock
}

func (f *fakeItem) BeginChange() Release {
	f.mu.Lock()
	return func() {
		f.changes.Add(1)
		f.mu.Unlock()
	}
}

func (f *fakeItem) ThumbnailURL() string { return f.url }

func (f *fakeItem) setURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

type fetchCall struct {
	url        string
	validators fetch.Validators
	at         time.Time
}

type respondFunc func(ctx context.Context, url string, v fetch.Validators) (*fetch.Result, error)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	respond respondFunc
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, v fetch.Validators) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{url: url, validators: v, at: time.Now()})
	respond := f.respond
	f.mu.Unlock()
	return respond(ctx, url, v)
}

func (f *fakeFetcher) snapshot() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func ok(body, etag, filename string) *fetch.Result {
	return &fetch.Result{
		Status:   200,
		ETag:     etag,
		Filename: filename,
		Body:     io.NopCloser(strings.NewReader(body)),
	}
}

func notModified() *fetch.Result {
	return &fetch.Result{Status: 304}
}

// etagServer 模拟支持条件请求的源站：凭据匹配返回 304，否则返回 200。
func etagServer(body, etag, filename string) respondFunc {
	return func(_ context.Context, _ string, v fetch.Validators) (*fetch.Result, error) {
		if v.ETag == etag {
			return notModified(), nil
		}
		return ok(body, etag, filename), nil
	}
}

func newTestCoordinator(t *testing.T, fetcher Fetcher, workers int) *Coordinator {
	t.Helper()
	dir, err := cache.NewDir(filepath.Join(t.TempDir(), "icon-cache"))
	if err != nil {
		t.Fatalf("new dir error: %v", err)
	}
	c, err := NewCoordinator(Options{Dir: dir, Fetcher: fetcher, Workers: workers})
	if err != nil {
		t.Fatalf("new coordinator error: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".part") {
			t.Fatalf("缓存目录残留临时文件: %s", entry.Name())
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

var errBoom = errors.New("boom")
