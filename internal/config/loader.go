package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/offline-hub/internal/version"
)

// EnvPrefix 是覆盖配置项的环境变量前缀，例如 OFFLINE_HUB_LISTENPORT、OFFLINE_HUB_CONTENT_ORIGIN。
const EnvPrefix = "OFFLINE_HUB"

// DefaultFontOrigins 与 lifecycle 默认值一致。
var DefaultFontOrigins = []string{"https://fonts.googleapis.com", "https://fonts.gstatic.com"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyContentDefaults(&cfg.Content)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	// 清单路径相对配置文件所在目录解析。
	manifestPath := cfg.Content.ManifestPath
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(filepath.Dir(path), manifestPath)
	}
	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("无法解析清单路径: %w", err)
	}
	cfg.Content.ManifestPath = absManifest

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("AdminPort", 0)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", StorageDriverFS)
	v.SetDefault("UpstreamTimeout", 0)
	v.SetDefault("InstallConcurrency", 0)
	v.SetDefault("Content.Origin", "")
	v.SetDefault("Content.Domain", "")
	v.SetDefault("Content.Version", "")
	v.SetDefault("Content.ManifestPath", "")
	v.SetDefault("Content.FontCache", "cache-fonts-v1")
	v.SetDefault("Content.FontOrigins", DefaultFontOrigins)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverFS
	}
}

func applyContentDefaults(c *ContentConfig) {
	c.Origin = strings.TrimSpace(c.Origin)
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	c.ManifestPath = strings.TrimSpace(c.ManifestPath)
	c.Version = strings.TrimSpace(c.Version)
	if c.Version == "" {
		c.Version = version.Version
	}
	if strings.TrimSpace(c.FontCache) == "" {
		c.FontCache = "cache-fonts-v1"
	}
	if len(c.FontOrigins) == 0 {
		c.FontOrigins = append([]string(nil), DefaultFontOrigins...)
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
