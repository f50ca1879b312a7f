package config

import (
	"testing"

	"github.com/any-hub/offline-hub/internal/version"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[Content]
Origin = "https://stories.example.com"
ManifestPath = "manifest.yaml"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 12

[Content]
Origin = "https://stories.example.com"
ManifestPath = "/etc/offline-hub/manifest.yaml"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue().Seconds() != 12 {
		t.Fatalf("纯数字应按秒解析, got %v", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Content.ManifestPath != "/etc/offline-hub/manifest.yaml" {
		t.Fatalf("绝对清单路径应保持不变: %s", loaded.Content.ManifestPath)
	}
	if loaded.Content.Version != version.Version {
		t.Fatalf("未配置 Version 时应使用构建版本, got %s", loaded.Content.Version)
	}
	if loaded.Global.StorageDriver != StorageDriverFS {
		t.Fatalf("StorageDriver 默认应为 fs")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Content]
Origin = "https://stories.example.com"
ManifestPath = "manifest.yaml"
`
	path := writeTempConfig(t, cfg)
	t.Setenv("OFFLINE_HUB_LISTENPORT", "6100")
	t.Setenv("OFFLINE_HUB_CONTENT_ORIGIN", "https://mirror.example.com/")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.ListenPort != 6100 {
		t.Fatalf("环境变量应覆盖 ListenPort, got %d", loaded.Global.ListenPort)
	}
	if loaded.Content.Origin != "https://mirror.example.com/" {
		t.Fatalf("环境变量应覆盖 Content.Origin, got %s", loaded.Content.Origin)
	}
}
