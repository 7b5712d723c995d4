package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SupportDirectory 是配置协作者中支持目录的查询键，图标缓存位于其下的 icon-cache。
const SupportDirectory = "SupportDirectory"

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	SupportDirectory    string   `mapstructure:"SupportDirectory"`
	DatabasePath        string   `mapstructure:"DatabasePath"`
	Workers             int      `mapstructure:"Workers"`
	IdleDelay           Duration `mapstructure:"IdleDelay"`
	FetchTimeout        Duration `mapstructure:"FetchTimeout"`
	UserAgent           string   `mapstructure:"UserAgent"`
	FeedRefreshInterval Duration `mapstructure:"FeedRefreshInterval"`
}

// FeedConfig 描述一个订阅源；Vital 表示其条目图标需要优先刷新。
type FeedConfig struct {
	Name  string `mapstructure:"Name"`
	URL   string `mapstructure:"URL"`
	Vital bool   `mapstructure:"Vital"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Feeds  []FeedConfig `mapstructure:"Feed"`
}

// Get 实现按键查询配置值的协作者接口，未知键返回空字符串。
func (c *Config) Get(key string) string {
	if c == nil {
		return ""
	}
	switch key {
	case SupportDirectory:
		return c.Global.SupportDirectory
	case "DatabasePath":
		return c.Global.DatabasePath
	case "UserAgent":
		return c.Global.UserAgent
	case "LogLevel":
		return c.Global.LogLevel
	default:
		return ""
	}
}

// FeedNames 返回所有订阅源名称，供启动日志使用。
func FeedNames(feeds []FeedConfig) []string {
	if len(feeds) == 0 {
		return nil
	}
	result := make([]string, len(feeds))
	for i, feed := range feeds {
		result[i] = feed.Name
	}
	return result
}
