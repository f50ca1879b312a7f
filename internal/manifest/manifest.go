package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// VersionParam 是安装阶段追加到抓取 URL 上的缓存穿透参数名。
const VersionParam = "v"

// Group 描述一个缓存组：同组资源一起预缓存、一起回收。
type Group struct {
	Name      string   `yaml:"name"`
	Version   string   `yaml:"version"`
	Resources []string `yaml:"resources"`
}

// Manifest 是按声明顺序排列的缓存组列表。
type Manifest struct {
	Groups []Group `yaml:"groups"`
}

// Validate 校验组名唯一、版本非空以及资源路径均为相对路径。
func (m *Manifest) Validate() error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	if len(m.Groups) == 0 {
		return errors.New("manifest must declare at least one group")
	}

	seen := make(map[string]struct{}, len(m.Groups))
	for i := range m.Groups {
		g := &m.Groups[i]
		g.Name = strings.TrimSpace(g.Name)
		g.Version = strings.TrimSpace(g.Version)

		if g.Name == "" {
			return fmt.Errorf("groups[%d].name: required", i)
		}
		if err := ValidateGroupName(g.Name); err != nil {
			return fmt.Errorf("groups[%s].name: %w", g.Name, err)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("groups[%s].name: duplicate", g.Name)
		}
		seen[g.Name] = struct{}{}

		if g.Version == "" {
			return fmt.Errorf("groups[%s].version: required", g.Name)
		}
		if len(g.Resources) == 0 {
			return fmt.Errorf("groups[%s].resources: empty", g.Name)
		}
		for j, res := range g.Resources {
			if err := validateResource(res); err != nil {
				return fmt.Errorf("groups[%s].resources[%d]: %w", g.Name, j, err)
			}
		}
	}
	return nil
}

// ValidateGroupName 保证组名可以直接作为存储层的目录名/主键。
func ValidateGroupName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return errors.New("reserved name")
	case strings.ContainsAny(name, `/\`):
		return errors.New("must not contain path separators")
	case strings.ContainsAny(name, " \t\r\n"):
		return errors.New("must not contain whitespace")
	}
	return nil
}

func validateResource(raw string) error {
	res := strings.TrimSpace(raw)
	if res == "" {
		return errors.New("empty resource path")
	}
	parsed, err := url.Parse(res)
	if err != nil {
		return err
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return errors.New("resource must be origin-relative")
	}
	if strings.HasPrefix(res, "/") {
		return errors.New("resource must not start with /")
	}
	cleaned := path.Clean(parsed.Path)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.New("resource escapes origin")
	}
	return nil
}

// GroupList 返回组列表副本，保持声明顺序。
func (m *Manifest) GroupList() []Group {
	if m == nil || len(m.Groups) == 0 {
		return nil
	}
	out := make([]Group, len(m.Groups))
	for i, g := range m.Groups {
		g.Resources = append([]string(nil), g.Resources...)
		out[i] = g
	}
	return out
}

// Names 返回所有组名（声明顺序）。
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.Groups))
	for i, g := range m.Groups {
		names[i] = g.Name
	}
	return names
}

// Lookup 按组名查找缓存组。
func (m *Manifest) Lookup(name string) (Group, bool) {
	if m == nil {
		return Group{}, false
	}
	for _, g := range m.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// ResourceCount 统计清单中的资源总数，用于启动日志。
func (m *Manifest) ResourceCount() int {
	if m == nil {
		return 0
	}
	total := 0
	for _, g := range m.Groups {
		total += len(g.Resources)
	}
	return total
}

// CanonicalPath 把资源声明转换为缓存键使用的无版本路径，例如 "./" → "/"。
// 资源中的百分号编码会被解码，使其与已解码的请求路径一致。
func CanonicalPath(resource string) string {
	raw := strings.TrimSpace(resource)
	if u, err := url.Parse(raw); err == nil {
		return RequestPath(u.Path)
	}
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	return RequestPath(raw)
}

// RequestPath 规范化已解码的请求路径，不再做第二次解码。
func RequestPath(decoded string) string {
	return path.Clean("/" + decoded)
}

// FetchURL 将资源解析到 origin 上并附加 v=<版本>，保证安装时绕过任何上游 HTTP 缓存。
func FetchURL(origin *url.URL, group Group, resource string) (*url.URL, error) {
	if origin == nil {
		return nil, errors.New("origin required")
	}
	ref, err := url.Parse(strings.TrimSpace(resource))
	if err != nil {
		return nil, fmt.Errorf("parse resource %q: %w", resource, err)
	}
	resolved := origin.ResolveReference(ref)
	query := resolved.Query()
	query.Add(VersionParam, group.Version)
	resolved.RawQuery = query.Encode()
	resolved.Fragment = ""
	return resolved, nil
}
