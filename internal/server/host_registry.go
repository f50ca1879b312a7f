package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

// HostKind 区分内容源请求与字体源请求。
type HostKind string

const (
	HostKindContent HostKind = "content"
	HostKindFont    HostKind = "font"
)

// HostRoute 描述某个 Host 命中的入口类型。
type HostRoute struct {
	Kind HostKind

	// Host 为规范化后的主机名（小写、无端口）。
	Host string

	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
}

// HostRegistry 提供 Host/Host:port 到 HostRoute 的查询能力。
// Domain 为空时，除字体源外的任意 Host 都视为内容请求。
type HostRegistry struct {
	domain     string
	fonts      map[string]struct{}
	fontOrder  []string
	listenPort int
}

// NewHostRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewHostRegistry(cfg *config.Config) (*HostRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &HostRegistry{
		domain:     normalizeDomain(cfg.Content.Domain),
		fonts:      make(map[string]struct{}, len(cfg.Content.FontOrigins)),
		listenPort: cfg.Global.ListenPort,
	}

	for _, raw := range cfg.Content.FontHosts() {
		host := normalizeDomain(raw)
		if host == "" {
			return nil, fmt.Errorf("invalid font origin %s", raw)
		}
		if _, exists := registry.fonts[host]; exists {
			return nil, fmt.Errorf("duplicate font host detected for %s", host)
		}
		if host == registry.domain {
			return nil, fmt.Errorf("font host %s collides with content domain", host)
		}
		registry.fonts[host] = struct{}{}
		registry.fontOrder = append(registry.fontOrder, host)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 HostRoute。
func (r *HostRegistry) Lookup(host string) (HostRoute, bool) {
	if r == nil {
		return HostRoute{}, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return HostRoute{}, false
	}

	if _, ok := r.fonts[normalizedHost]; ok {
		return HostRoute{Kind: HostKindFont, Host: normalizedHost, ListenPort: r.listenPort}, true
	}
	if r.domain == "" || r.domain == normalizedHost {
		return HostRoute{Kind: HostKindContent, Host: normalizedHost, ListenPort: r.listenPort}, true
	}
	return HostRoute{}, false
}

// Domain 返回内容域名，为空表示接受任意 Host。
func (r *HostRegistry) Domain() string {
	if r == nil {
		return ""
	}
	return r.domain
}

// FontHosts 返回按配置顺序排列的字体 Host。
func (r *HostRegistry) FontHosts() []string {
	if r == nil || len(r.fontOrder) == 0 {
		return nil
	}
	return append([]string(nil), r.fontOrder...)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
