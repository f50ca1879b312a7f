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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储后端。
const (
	StorageDriverFS     = "fs"
	StorageDriverSQLite = "sqlite"
)

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	AdminPort          int      `mapstructure:"AdminPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	StorageDriver      string   `mapstructure:"StorageDriver"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
}

// ContentConfig 描述被缓存的内容源站及其清单。
type ContentConfig struct {
	// Origin 是清单资源解析所依据的源站地址。
	Origin string `mapstructure:"Origin"`

	// Domain 为空时任何非字体 Host 都视为内容请求。
	Domain string `mapstructure:"Domain"`

	// Version 是广播给客户端的内容版本，为空时使用构建版本号。
	Version string `mapstructure:"Version"`

	ManifestPath string   `mapstructure:"ManifestPath"`
	FontCache    string   `mapstructure:"FontCache"`
	FontOrigins  []string `mapstructure:"FontOrigins"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Content ContentConfig `mapstructure:"Content"`
}

// AdminEnabled 表示是否启用管理监听（metrics、客户端通道）。
func (g GlobalConfig) AdminEnabled() bool {
	return g.AdminPort > 0
}

// FontHosts 返回字体源的 Host 列表，供 Host 路由使用。
func (c ContentConfig) FontHosts() []string {
	hosts := make([]string, 0, len(c.FontOrigins))
	for _, raw := range c.FontOrigins {
		if host := hostOf(raw); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}
