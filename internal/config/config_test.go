package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 8080 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if cfg.Cache.MaxAge.DurationValue() != 48*time.Hour {
		t.Fatalf("CacheMaxAge 解析错误: %s", cfg.Cache.MaxAge.DurationValue())
	}
	if cfg.Cache.EvictionInterval.DurationValue() != time.Minute {
		t.Fatalf("纯数字应按秒解析: %s", cfg.Cache.EvictionInterval.DurationValue())
	}
	if cfg.Cache.CacheControlMaxAge.DurationValue() != 365*24*time.Hour {
		t.Fatalf("CacheControlMaxAge 应该自动填充默认值")
	}
	if !filepath.IsAbs(cfg.Cache.Dir) {
		t.Fatalf("CacheDir 应被转换为绝对路径: %s", cfg.Cache.Dir)
	}
	if cfg.Upstream.ConnectTimeout.DurationValue() != 2*time.Second || cfg.Upstream.Timeout.DurationValue() != 15*time.Second {
		t.Fatalf("上游超时解析错误: %+v", cfg.Upstream)
	}
	if cfg.Global.MaxDimension != 1600 {
		t.Fatalf("MaxDimension 解析错误: %d", cfg.Global.MaxDimension)
	}
}

func TestValidateRejectsMissingCacheDir(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "CacheDir" {
		t.Fatalf("expected CacheDir field error, got %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"disabled cache without dir", func(c *Config) { c.Cache.Enabled = false; c.Cache.Dir = "" }, false},
		{"negative budget", func(c *Config) { c.Cache.MaxBytes = -1 }, true},
		{"negative max age", func(c *Config) { c.Cache.MaxAge = Duration(-time.Second) }, true},
		{"zero connect timeout", func(c *Config) { c.Upstream.ConnectTimeout = 0 }, true},
		{"zero source limit", func(c *Config) { c.Upstream.MaxSourceBytes = 0 }, true},
		{"zero max dimension", func(c *Config) { c.Global.MaxDimension = 0 }, true},
		{"unknown log level", func(c *Config) { c.Global.LogLevel = "loud" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:   3000,
			LogLevel:     "info",
			MaxDimension: 2000,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Dir:      "./image_cache",
			MaxBytes: 1024,
			MaxAge:   Duration(time.Hour),
		},
		Upstream: UpstreamConfig{
			ConnectTimeout: Duration(time.Second),
			Timeout:        Duration(time.Second),
			MaxSourceBytes: 1024,
		},
	}
}
