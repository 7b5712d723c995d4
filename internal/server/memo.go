package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/ristretto"
)

// DefaultIconMemoryBytes 是热点图标内存缓存的默认容量。
const DefaultIconMemoryBytes = 32 << 20

// iconMemo 在内存中保留最近读取的图标内容。键包含文件大小与修改时间，
// 缓存文件被 rename 覆盖后自然失效。
type iconMemo struct {
	c *ristretto.Cache
}

func newIconMemo(maxBytes int64) (*iconMemo, error) {
	if maxBytes <= 0 {
		return nil, errors.New("icon memory size must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * (maxBytes / 1024),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create icon memo: %w", err)
	}
	return &iconMemo{c: c}, nil
}

// load 返回 path 的内容以及是否命中内存。
func (m *iconMemo) load(path string) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("%s is not a regular file", path)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if v, ok := m.c.Get(key); ok {
		if data, ok := v.([]byte); ok {
			return data, true, nil
		}
		m.c.Del(key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	m.c.Set(key, data, int64(len(data))+1)
	return data, false, nil
}
