package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/imghub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestEmptyLevelDefaultsToInfo(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
}

func TestInitLoggerFallbackWhenDirectoryUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0o644); err != nil {
		t.Fatalf("创建文件失败: %v", err)
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocker, "sub", "imghub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imghub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestRequestFieldsRenderAsJSON(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithFields(RequestFields("https://img.example.com/a.jpg", "resized", "abc.jpg", true)).Info("proxy_complete")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if payload["cache_hit"] != true || payload["variant"] != "resized" || payload["msg"] != "proxy_complete" {
		t.Fatalf("unexpected log payload: %v", payload)
	}
}
