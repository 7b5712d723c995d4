package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/iconcache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Feeds {
		applyFeedDefaults(&cfg.Feeds[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absSupport, err := filepath.Abs(cfg.Global.SupportDirectory)
	if err != nil {
		return nil, fmt.Errorf("无法解析支持目录: %w", err)
	}
	cfg.Global.SupportDirectory = absSupport

	if cfg.Global.DatabasePath == "" {
		cfg.Global.DatabasePath = filepath.Join(absSupport, "items.db")
	}
	absDB, err := filepath.Abs(cfg.Global.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析数据库路径: %w", err)
	}
	cfg.Global.DatabasePath = absDB

	return &cfg, nil
}

// DefaultSupportDirectory 返回 XDG 数据目录下的默认支持目录。
func DefaultSupportDirectory() string {
	return filepath.Join(xdg.DataHome, "iconcache")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("SupportDirectory", DefaultSupportDirectory())
	v.SetDefault("DatabasePath", "")
	v.SetDefault("Workers", 3)
	v.SetDefault("IdleDelay", "1ms")
	v.SetDefault("FetchTimeout", "30s")
	v.SetDefault("UserAgent", version.UserAgent())
	v.SetDefault("FeedRefreshInterval", "20m")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.SupportDirectory) == "" {
		g.SupportDirectory = DefaultSupportDirectory()
	}
	if g.Workers == 0 {
		g.Workers = 3
	}
	if g.IdleDelay.DurationValue() < 0 {
		g.IdleDelay = Duration(0)
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = version.UserAgent()
	}
	if g.FeedRefreshInterval.DurationValue() == 0 {
		g.FeedRefreshInterval = Duration(20 * time.Minute)
	}
}

func applyFeedDefaults(f *FeedConfig) {
	f.Name = strings.TrimSpace(f.Name)
	f.URL = strings.TrimSpace(f.URL)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
