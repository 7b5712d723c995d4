package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliOutput 持有测试期间替换 stdOut/stdErr 的缓冲区。
type cliOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

// captureOutput 在测试期间把 CLI 输出重定向到内存，结束后恢复。
func captureOutput(t *testing.T) *cliOutput {
	t.Helper()

	buffers := &cliOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = buffers.out, buffers.err

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return buffers
}

// configFixture 返回 config 包内的样例配置；go test 在包目录（即仓库根）执行。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
