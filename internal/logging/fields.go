package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RefreshFields 提供条目/URL/优先级字段，供图标刷新日志复用。
func RefreshFields(item, url string, vital bool) logrus.Fields {
	return logrus.Fields{
		"action": "icon_refresh",
		"item":   item,
		"url":    url,
		"vital":  vital,
	}
}

// FeedFields 提供订阅源同步日志的公共字段。
func FeedFields(feed, url string) logrus.Fields {
	return logrus.Fields{
		"action": "feed_sync",
		"feed":   feed,
		"url":    url,
	}
}
