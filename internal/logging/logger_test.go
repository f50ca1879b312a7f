package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(&config.Config{Global: config.GlobalConfig{LogLevel: "info"}})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := &config.Config{Global: config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "offline-hub.log"),
	}}
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
	path := filepath.Join(dir, "offline-hub.log")
	cfg := &config.Config{Global: config.GlobalConfig{LogLevel: "debug", LogFilePath: path}}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestRequestFieldsOmitEmptyGroup(t *testing.T) {
	fields := RequestFields("default", "network", "", false)
	if _, ok := fields["group"]; ok {
		t.Fatalf("group 为空时不应输出该字段")
	}
	fields = RequestFields("range", "synthesized", "cache-biblioteca-v2", true)
	if fields["group"] != "cache-biblioteca-v2" || fields["cache_hit"] != true {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestInitLoggerStampsContentFields(t *testing.T) {
	logger, err := InitLogger(&config.Config{
		Global:  config.GlobalConfig{LogLevel: "info"},
		Content: config.ContentConfig{Origin: "https://stories.example.com/app/", Version: "1.1.1"},
	})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)

	logger.WithField("action", "install").Info("precache_complete")
	logger.WithField("content_version", "2.0.0").Info("override")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if first["content_version"] != "1.1.1" || first["origin"] != "stories.example.com" {
		t.Fatalf("missing content fields: %v", first)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if second["content_version"] != "2.0.0" {
		t.Fatalf("explicit fields must win, got %v", second["content_version"])
	}
}
