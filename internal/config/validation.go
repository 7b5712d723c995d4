package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxWorkers = 64

// FieldError 记录出错的字段路径，Err 保留底层原因供 errors.Is/As 使用。
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(field, reason string) error {
	return &FieldError{Field: field, Err: errors.New(reason)}
}

// feedField 输出 Feed[name].Field 形式的字段路径。
func feedField(name, field string) string {
	return fmt.Sprintf("Feed[%s].%s", name, field)
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return fieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return fieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if strings.TrimSpace(g.SupportDirectory) == "" {
		return fieldError("Global.SupportDirectory", "不能为空")
	}
	if g.Workers <= 0 || g.Workers > maxWorkers {
		return fieldError("Global.Workers", fmt.Sprintf("必须在 1-%d", maxWorkers))
	}
	if g.IdleDelay.DurationValue() < 0 {
		return fieldError("Global.IdleDelay", "不能为负数")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return fieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.FeedRefreshInterval.DurationValue() <= 0 {
		return fieldError("Global.FeedRefreshInterval", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Feeds {
		feed := &c.Feeds[i]
		if feed.Name == "" {
			return fieldError("Feed[].Name", "不能为空")
		}
		if _, exists := seenNames[feed.Name]; exists {
			return fieldError(feedField(feed.Name, "Name"), "重复")
		}
		seenNames[feed.Name] = struct{}{}

		if err := validateFeedURL(feed.URL); err != nil {
			return &FieldError{Field: feedField(feed.Name, "URL"), Err: err}
		}
	}

	return nil
}

func validateFeedURL(raw string) error {
	if raw == "" {
		return errors.New("缺少订阅地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，订阅: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("订阅缺少 Host: %s", raw)
	}
	return nil
}
