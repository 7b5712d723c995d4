package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxAttempts 是 NextFreeFilename 尝试的编号上限。
const MaxAttempts = 10000

// ErrNoFreeFilename 表示编号耗尽仍未找到空闲路径。
var ErrNoFreeFilename = errors.New("no free filename")

// NextFreeFilename 返回与 name 相近且当前未被占用的路径。
// name 未被占用时原样返回；否则在最后一个扩展名之前插入递增序号
// （icon.png → icon.1.png，icon → icon.1），直到找到空闲路径。
// 只做存在性探测，不创建文件。探测遇到不存在以外的错误时直接返回该错误。
func NextFreeFilename(name string) (string, error) {
	free, err := available(name)
	if err != nil || free {
		return name, err
	}

	dir, base := filepath.Split(name)
	parts := strings.Split(base, ".")
	for count := 1; count <= MaxAttempts; count++ {
		candidate := dir + numbered(parts, count)
		free, err := available(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w near %s", ErrNoFreeFilename, name)
}

func numbered(parts []string, count int) string {
	n := strconv.Itoa(count)
	if len(parts) == 1 {
		return parts[0] + "." + n
	}
	last := len(parts) - 1
	return strings.Join(parts[:last], ".") + "." + n + "." + parts[last]
}

func available(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}
