package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/manifest"
)

const supportedStorageDriverList = "fs|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.AdminPort < 0 || g.AdminPort > 65535 {
		return newFieldError("Global.AdminPort", "必须在 0-65535")
	}
	if g.AdminPort != 0 && g.AdminPort == g.ListenPort {
		return newFieldError("Global.AdminPort", "不能与 ListenPort 相同")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageDriver {
	case StorageDriverFS, StorageDriverSQLite:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.InstallConcurrency < 0 {
		return newFieldError("Global.InstallConcurrency", "不能为负数")
	}

	content := c.Content
	if err := validateUpstream(content.Origin); err != nil {
		return fmt.Errorf("%s: %w", contentField("Origin"), err)
	}
	if content.Domain != "" {
		if err := validateDomain(content.Domain); err != nil {
			return fmt.Errorf("%s: %w", contentField("Domain"), err)
		}
	}
	if strings.ContainsAny(content.Version, " \t\n") {
		return newFieldError(contentField("Version"), "不能包含空白字符")
	}
	if content.ManifestPath == "" {
		return newFieldError(contentField("ManifestPath"), "不能为空")
	}
	if err := manifest.ValidateGroupName(content.FontCache); err != nil {
		return newFieldError(contentField("FontCache"), err.Error())
	}
	seenHosts := map[string]struct{}{}
	for _, raw := range content.FontOrigins {
		if err := validateUpstream(raw); err != nil {
			return fmt.Errorf("%s: %w", contentField("FontOrigins"), err)
		}
		host := hostOf(raw)
		if _, exists := seenHosts[host]; exists {
			return newFieldError(contentField("FontOrigins"), "重复: "+host)
		}
		seenHosts[host] = struct{}{}
		if content.Domain != "" && host == content.Domain {
			return newFieldError(contentField("FontOrigins"), "不能与 Domain 相同")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

func hostOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}
