package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNextFreeFilename(t *testing.T) {
	testCases := []struct {
		name     string
		existing []string
		desired  string
		want     string
	}{
		{"free", nil, "icon.png", "icon.png"},
		{"one collision", []string{"icon.png"}, "icon.png", "icon.1.png"},
		{"two collisions", []string{"icon.png", "icon.1.png"}, "icon.png", "icon.2.png"},
		{"no extension", []string{"icon"}, "icon", "icon.1"},
		{"no extension twice", []string{"icon", "icon.1"}, "icon", "icon.2"},
		{"last extension only", []string{"icon.tar.gz"}, "icon.tar.gz", "icon.tar.1.gz"},
		{"part file", []string{"icon.png.part"}, "icon.png.part", "icon.png.1.part"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range tc.existing {
				touch(t, filepath.Join(dir, name))
			}
			got, err := NextFreeFilename(filepath.Join(dir, tc.desired))
			if err != nil {
				t.Fatalf("NextFreeFilename error: %v", err)
			}
			if got != filepath.Join(dir, tc.want) {
				t.Fatalf("NextFreeFilename(%q) = %q, want %q", tc.desired, filepath.Base(got), tc.want)
			}
		})
	}
}

func TestNextFreeFilenameKeepsDottedDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "v1.2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	touch(t, filepath.Join(dir, "icon"))

	got, err := NextFreeFilename(filepath.Join(dir, "icon"))
	if err != nil {
		t.Fatalf("NextFreeFilename error: %v", err)
	}
	if got != filepath.Join(dir, "icon.1") {
		t.Fatalf("目录名中的点不应参与编号，得到 %s", got)
	}
}

func TestNextFreeFilenameDoesNotCreate(t *testing.T) {
	dir := t.TempDir()
	path, err := NextFreeFilename(filepath.Join(dir, "icon.png"))
	if err != nil {
		t.Fatalf("NextFreeFilename error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("NextFreeFilename 不应创建文件: %v", err)
	}
}

func TestNextFreeFilenameReportsStatErrors(t *testing.T) {
	dir := t.TempDir()
	long := filepath.Join(dir, strings.Repeat("a", 300)+".png")

	done := make(chan error, 1)
	go func() {
		_, err := NextFreeFilename(long)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("超长文件名应返回探测错误")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("NextFreeFilename 未在探测错误时返回")
	}
}

func TestNextFreeFilenameThroughFileParent(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "not-a-dir")
	touch(t, parent)

	if _, err := NextFreeFilename(filepath.Join(parent, "icon.png")); err == nil {
		t.Fatalf("父路径是文件时应返回错误")
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
