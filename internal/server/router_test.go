package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/iconcache/internal/cache"
	"github.com/any-hub/iconcache/internal/fetch"
	"github.com/any-hub/iconcache/internal/iconcache"
	"github.com/any-hub/iconcache/internal/item"
	"github.com/any-hub/iconcache/internal/logging"
)

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string, fetch.Validators) (*fetch.Result, error) {
	return nil, fmt.Errorf("network disabled in tests")
}

type testEnv struct {
	app     *fiber.App
	catalog *item.Catalog
	coord   *iconcache.Coordinator
	store   *item.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithFetcher(t, nopFetcher{})
}

func newTestEnvWithFetcher(t *testing.T, fetcher iconcache.Fetcher) *testEnv {
	t.Helper()
	root := t.TempDir()

	store, err := item.Open(filepath.Join(root, "items.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	dir, err := cache.NewDir(filepath.Join(root, "icon-cache"))
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	coord, err := iconcache.NewCoordinator(iconcache.Options{Dir: dir, Fetcher: fetcher})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Stop() })

	catalog := item.NewCatalog(store, coord, nil)
	app, err := NewApp(AppOptions{
		Logger:      logging.Discard(),
		Catalog:     catalog,
		Coordinator: coord,
		ListenPort:  5080,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testEnv{app: app, catalog: catalog, coord: coord, store: store}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	env := newTestEnv(t)
	if _, err := NewApp(AppOptions{Logger: logging.Discard(), Catalog: env.catalog, Coordinator: env.coord}); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestIconMissRequestsVitalUpdate(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.catalog.Upsert(context.Background(), item.Data{Feed: "videos", GUID: "g1", Title: "One", ThumbnailURL: "https://img/a.png"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if vital, idle := env.coord.Pending(); vital != 0 || idle != 1 {
		t.Fatalf("unexpected pending before request vital=%d idle=%d", vital, idle)
	}

	resp, err := env.app.Test(httptest.NewRequest("GET", fmt.Sprintf("/items/%d/icon", rec.ID()), nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for uncached icon, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"icon_not_cached"`)) {
		t.Fatalf("unexpected body %s", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if vital, _ := env.coord.Pending(); vital != 1 {
		t.Fatalf("缓存未命中应发起 vital 请求, vital=%d", vital)
	}
}

func TestIconHitStreamsCachedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, err := env.catalog.Upsert(ctx, item.Data{Feed: "videos", GUID: "g1", Title: "One", ThumbnailURL: "https://img/a.png"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	path := filepath.Join(env.coord.Dir().Root(), "a.png")
	if err := os.WriteFile(path, []byte("PNGDATA"), 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}
	if err := env.store.SaveIcon(ctx, rec.ID(), iconcache.State{LocalPath: path, SourceURL: "https://img/a.png"}); err != nil {
		t.Fatalf("save icon: %v", err)
	}

	// 通过恢复路径加载带缓存文件的记录。
	restored := item.NewCatalog(env.store, env.coord, nil)
	if _, err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	app, err := NewApp(AppOptions{Logger: logging.Discard(), Catalog: restored, Coordinator: env.coord, ListenPort: 5080})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", fmt.Sprintf("/items/%d/icon", rec.ID()), nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("X-Icon-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/png") {
		t.Fatalf("unexpected content type %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "PNGDATA" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRefreshEndpointAndErrors(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.catalog.Upsert(context.Background(), item.Data{Feed: "videos", GUID: "g1", Title: "One"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	resp, err := env.app.Test(httptest.NewRequest("POST", fmt.Sprintf("/items/%d/icon/refresh", rec.ID()), nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	cases := []struct {
		path string
		want int
		code string
	}{
		{"/items/abc/icon", fiber.StatusBadRequest, "invalid_item_id"},
		{"/items/999/icon", fiber.StatusNotFound, "item_not_found"},
	}
	for _, tc := range cases {
		resp, err := env.app.Test(httptest.NewRequest("GET", tc.path, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != tc.want || !strings.Contains(string(body), tc.code) {
			t.Fatalf("%s: unexpected %d %s", tc.path, resp.StatusCode, body)
		}
	}
}

type notModifiedFetcher struct{}

func (notModifiedFetcher) Fetch(context.Context, string, fetch.Validators) (*fetch.Result, error) {
	return &fetch.Result{Status: 304}, nil
}

func TestRefreshEndpointReportsVerifiedEntry(t *testing.T) {
	env := newTestEnvWithFetcher(t, notModifiedFetcher{})
	ctx := context.Background()
	rec, err := env.catalog.Upsert(ctx, item.Data{Feed: "videos", GUID: "g1", Title: "One", ThumbnailURL: "https://img/a.png"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	path := filepath.Join(env.coord.Dir().Root(), "a.png")
	if err := os.WriteFile(path, []byte("PNGDATA"), 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}
	if err := env.store.SaveIcon(ctx, rec.ID(), iconcache.State{ETag: "abc", LocalPath: path, SourceURL: "https://img/a.png"}); err != nil {
		t.Fatalf("save icon: %v", err)
	}

	restored := item.NewCatalog(env.store, env.coord, nil)
	if _, err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded, ok := restored.Get(rec.ID())
	if !ok {
		t.Fatalf("restored record missing")
	}
	if outcome, err := loaded.Icon().Refresh(ctx); err != nil || outcome != iconcache.OutcomeNotModified {
		t.Fatalf("expected 304 confirmation, got %s err=%v", outcome, err)
	}
	app, err := NewApp(AppOptions{Logger: logging.Discard(), Catalog: restored, Coordinator: env.coord, ListenPort: 5080})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	vitalBefore, idleBefore := env.coord.Pending()

	resp, err := app.Test(httptest.NewRequest("POST", fmt.Sprintf("/items/%d/icon/refresh", rec.ID()), nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("已确认的条目应返回 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Queued   bool `json:"queued"`
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Queued || !payload.Verified {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if vital, idle := env.coord.Pending(); vital != vitalBefore || idle != idleBefore {
		t.Fatalf("已确认的条目不应再入队, vital=%d idle=%d", vital, idle)
	}
}

func TestListItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := env.catalog.Upsert(ctx, item.Data{Feed: "videos", GUID: fmt.Sprintf("g%d", i), Title: "T"}, false); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	resp, err := env.app.Test(httptest.NewRequest("GET", "/items", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Items []struct {
			ID     int64 `json:"id"`
			Cached bool  `json:"cached"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].Cached {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestIconMemoServesRepeatedReadsFromMemory(t *testing.T) {
	memo, err := newIconMemo(1 << 20)
	if err != nil {
		t.Fatalf("newIconMemo: %v", err)
	}
	path := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, hit, err := memo.load(path)
	if err != nil || hit || string(data) != "v1" {
		t.Fatalf("first load: data=%q hit=%v err=%v", data, hit, err)
	}
	memo.c.Wait()
	if _, hit, _ := memo.load(path); !hit {
		t.Fatalf("second load should be served from memory")
	}

	// rename 覆盖后大小变化，旧键失效。
	next := path + ".part"
	if err := os.WriteFile(next, []byte("v2-longer"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(next, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	data, hit, err = memo.load(path)
	if err != nil || hit || string(data) != "v2-longer" {
		t.Fatalf("replaced file should be reread: data=%q hit=%v err=%v", data, hit, err)
	}

	if _, _, err := memo.load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatalf("missing file should fail")
	}
	if _, err := newIconMemo(0); err == nil {
		t.Fatalf("zero capacity should be rejected")
	}
}
