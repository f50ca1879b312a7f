package config

import (
	"errors"
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
	if cfg.Global.ListenPort != 5000 || cfg.Global.AdminPort != 9090 {
		t.Fatalf("端口解析错误: %+v", cfg.Global)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.StorageDriver != StorageDriverSQLite {
		t.Fatalf("StorageDriver 应为 sqlite, got %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Content.Version != "1.1.1" {
		t.Fatalf("Content.Version 解析错误: %s", cfg.Content.Version)
	}
	if cfg.Content.FontCache != "cache-fonts-v1" {
		t.Fatalf("FontCache 应该自动填充默认值, got %s", cfg.Content.FontCache)
	}
	if len(cfg.Content.FontOrigins) != 2 {
		t.Fatalf("FontOrigins 应该自动填充默认值, got %v", cfg.Content.FontOrigins)
	}
	wantManifest, _ := filepath.Abs(filepath.Join("testdata", "manifest.yaml"))
	if cfg.Content.ManifestPath != wantManifest {
		t.Fatalf("ManifestPath 应相对配置文件解析: %s", cfg.Content.ManifestPath)
	}
	if !cfg.Global.AdminEnabled() {
		t.Fatalf("AdminPort > 0 时应启用管理监听")
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateAdminPortConflicts(t *testing.T) {
	cfg := validConfig()
	cfg.Global.AdminPort = cfg.Global.ListenPort
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.AdminPort" {
		t.Fatalf("AdminPort 与 ListenPort 相同应返回 FieldError, got %v", err)
	}
}

func TestStorageDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		shouldErr bool
	}{
		{"fs ok", "fs", false},
		{"sqlite ok", "sqlite", false},
		{"unsupported driver", "redis", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageDriver = tc.driver
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateContentSection(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"origin scheme", func(c *Config) { c.Content.Origin = "ftp://stories.example.com" }},
		{"domain with path", func(c *Config) { c.Content.Domain = "stories.local/app" }},
		{"domain with scheme", func(c *Config) { c.Content.Domain = "http://stories.local" }},
		{"manifest missing", func(c *Config) { c.Content.ManifestPath = "" }},
		{"font cache unsafe", func(c *Config) { c.Content.FontCache = "../fonts" }},
		{"font origin invalid", func(c *Config) { c.Content.FontOrigins = []string{"fonts.example.com"} }},
		{"font origin duplicate", func(c *Config) {
			c.Content.FontOrigins = []string{"https://fonts.gstatic.com", "http://fonts.gstatic.com"}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFontHosts(t *testing.T) {
	cfg := validConfig()
	hosts := cfg.Content.FontHosts()
	if len(hosts) != 2 || hosts[0] != "fonts.googleapis.com" || hosts[1] != "fonts.gstatic.com" {
		t.Fatalf("unexpected font hosts: %v", hosts)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:    5000,
			StoragePath:   "./data",
			StorageDriver: StorageDriverFS,
		},
		Content: ContentConfig{
			Origin:       "https://stories.example.com/",
			Domain:       "stories.local",
			ManifestPath: "manifest.yaml",
			FontCache:    "cache-fonts-v1",
			FontOrigins:  []string{"https://fonts.googleapis.com", "https://fonts.gstatic.com"},
		},
	}
}
