package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	partSuffix  = ".part"
	defaultName = "icon"

	// maxNameBytes 为编号与 .part 后缀预留空间，保证最终文件名不超过 255 字节。
	maxNameBytes = 200
	maxExtBytes  = 16
)

// Dir 管理图标缓存目录，mu 即文件名锁：只保护名称分配、删除与 rename，
// 从不在网络 I/O 期间持有。
type Dir struct {
	root string
	mu   sync.Mutex
}

// NewDir 以 root 为根目录构建缓存目录，整个进程共享一份实例。
func NewDir(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache directory required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	d := &Dir{root: abs}
	if err := d.Ensure(); err != nil {
		return nil, err
	}
	return d, nil
}

// Root 返回缓存目录的绝对路径。
func (d *Dir) Root() string {
	return d.root
}

// Ensure 按需创建缓存目录，目录已存在不视为错误。
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.root, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return nil
}

// Path 将服务端建议的文件名净化后拼接到缓存目录下，不做冲突处理。
func (d *Dir) Path(suggested string) string {
	return filepath.Join(d.root, sanitizeName(suggested))
}

// Part 是正在写入的 .part 临时文件。
type Part struct {
	file *os.File
	path string
}

// CreatePart 在文件名锁内为 target 分配空闲的 .part 名称并创建文件；
// 返回后即释放锁，调用方在锁外写入数据。
func (d *Dir) CreatePart(target string) (*Part, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name, err := NextFreeFilename(target + partSuffix)
	if err != nil {
		return nil, fmt.Errorf("allocate part file: %w", err)
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create part file: %w", err)
	}
	return &Part{file: f, path: name}, nil
}

// Path 返回临时文件路径。
func (p *Part) Path() string {
	return p.path
}

// ReadFrom 将 src 完整写入临时文件，ctx 取消时提前返回。
func (p *Part) ReadFrom(ctx context.Context, src io.Reader) (int64, error) {
	return copyWithContext(ctx, p.file, src)
}

// Close 关闭写句柄，rename 前必须调用。
func (p *Part) Close() error {
	return p.file.Close()
}

// Discard 关闭并删除临时文件，用于写入失败的清理。
func (p *Part) Discard() {
	_ = p.file.Close()
	_ = os.Remove(p.path)
}

// Commit 在文件名锁内把已关闭的 part 移动到 dest。dest 为空时根据
// suggested 分配新的空闲名称；目标处已有文件会先被删除。rename 失败时
// 临时文件被清理，返回空路径表示目标不存在。
func (d *Dir) Commit(p *Part, dest, suggested string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dest == "" {
		free, err := NextFreeFilename(d.Path(suggested))
		if err != nil {
			_ = os.Remove(p.path)
			return "", fmt.Errorf("allocate destination: %w", err)
		}
		dest = free
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = os.Remove(p.path)
		return "", fmt.Errorf("remove previous file: %w", err)
	}
	if err := os.Rename(p.path, dest); err != nil {
		_ = os.Remove(p.path)
		return "", fmt.Errorf("rename part into place: %w", err)
	}
	return dest, nil
}

// Remove 在文件名锁内删除缓存文件，文件不存在时忽略。
func (d *Dir) Remove(path string) error {
	if path == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Readable 报告 path 是否为可读的普通文件。
func Readable(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

// Writable 报告 path 是否可读且可写；不会截断文件。
func Writable(path string) bool {
	if !Readable(path) {
		return false
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return defaultName
	}
	return truncateName(name)
}

// truncateName 把过长的文件名截断到 maxNameBytes 以内，保留较短的扩展名。
func truncateName(name string) string {
	if len(name) <= maxNameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	limit := maxNameBytes - len(ext)
	if len(stem) > limit {
		stem = stem[:limit]
	}
	for i := 0; i < utf8.UTFMax && len(stem) > 0; i++ {
		if r, size := utf8.DecodeLastRuneInString(stem); r != utf8.RuneError || size > 1 {
			break
		}
		stem = stem[:len(stem)-1]
	}
	if stem == "" {
		stem = defaultName
	}
	return stem + ext
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
