package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultConfigFile 在未显式指定路径时尝试读取；不存在则仅使用默认值与环境变量。
const DefaultConfigFile = "config.toml"

// envBindings 将部署常用的环境变量映射到配置键。
var envBindings = map[string]string{
	"ListenPort":    "PORT",
	"CacheEnabled":  "ENABLE_CACHE",
	"CacheDir":      "CACHE_DIR",
	"CacheMaxBytes": "CACHE_MAX_BYTES",
	"CacheMaxAge":   "CACHE_MAX_AGE",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量与校验逻辑。
// 显式指定的 path 必须存在。
func Load(path string) (*Config, error) {
	// .env 仅作为环境变量的补充来源：文件缺失时忽略，格式错误时报错。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	configPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.Dir = absDir

	return &cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if _, err := os.Stat(DefaultConfigFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("检查默认配置失败: %w", err)
	}
	return DefaultConfigFile, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("MaxDimension", 2000)
	v.SetDefault("CacheEnabled", true)
	v.SetDefault("CacheDir", "./image_cache")
	v.SetDefault("CacheMaxBytes", int64(2*1024*1024*1024))
	v.SetDefault("CacheMaxAge", "720h")
	v.SetDefault("EvictionInterval", "10m")
	v.SetDefault("CacheControlMaxAge", "8760h")
	v.SetDefault("ConnectTimeout", "5s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxSourceBytes", int64(32*1024*1024))
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 3000
	}
	if cfg.Global.MaxDimension == 0 {
		cfg.Global.MaxDimension = 2000
	}
	if cfg.Cache.CacheControlMaxAge.DurationValue() == 0 {
		cfg.Cache.CacheControlMaxAge = Duration(365 * 24 * time.Hour)
	}
	if cfg.Upstream.ConnectTimeout.DurationValue() == 0 {
		cfg.Upstream.ConnectTimeout = Duration(5 * time.Second)
	}
	if cfg.Upstream.Timeout.DurationValue() == 0 {
		cfg.Upstream.Timeout = Duration(30 * time.Second)
	}
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
