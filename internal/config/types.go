package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

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

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级行为：监听端口、日志与请求参数上限。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	MaxDimension  int    `mapstructure:"MaxDimension"`
}

// CacheConfig 控制磁盘缓存容量、过期与响应缓存头。
type CacheConfig struct {
	Enabled            bool     `mapstructure:"CacheEnabled"`
	Dir                string   `mapstructure:"CacheDir"`
	MaxBytes           int64    `mapstructure:"CacheMaxBytes"`
	MaxAge             Duration `mapstructure:"CacheMaxAge"`
	EvictionInterval   Duration `mapstructure:"EvictionInterval"`
	CacheControlMaxAge Duration `mapstructure:"CacheControlMaxAge"`
}

// UpstreamConfig 约束源图抓取。
type UpstreamConfig struct {
	ConnectTimeout Duration `mapstructure:"ConnectTimeout"`
	Timeout        Duration `mapstructure:"UpstreamTimeout"`
	MaxSourceBytes int64    `mapstructure:"MaxSourceBytes"`
}

// Config 是 TOML 文件映射的整体结构，所有键均位于顶层。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Upstream UpstreamConfig `mapstructure:",squash"`
}
