package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(strings.TrimSpace(g.LogLevel)); g.LogLevel != "" && err != nil {
		return newFieldError("LogLevel", "无法识别的日志级别")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}
	if g.MaxDimension <= 0 {
		return newFieldError("MaxDimension", "必须大于 0")
	}

	cache := c.Cache
	if cache.Enabled && strings.TrimSpace(cache.Dir) == "" {
		return newFieldError("CacheDir", "启用缓存时不能为空")
	}
	if cache.MaxBytes < 0 {
		return newFieldError("CacheMaxBytes", "不能为负数")
	}
	if cache.MaxAge.DurationValue() < 0 {
		return newFieldError("CacheMaxAge", "不能为负数")
	}
	if cache.EvictionInterval.DurationValue() < 0 {
		return newFieldError("EvictionInterval", "不能为负数")
	}
	if cache.CacheControlMaxAge.DurationValue() < 0 {
		return newFieldError("CacheControlMaxAge", "不能为负数")
	}

	up := c.Upstream
	if up.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("ConnectTimeout", "必须大于 0")
	}
	if up.Timeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if up.MaxSourceBytes <= 0 {
		return newFieldError("MaxSourceBytes", "必须大于 0")
	}

	return nil
}
