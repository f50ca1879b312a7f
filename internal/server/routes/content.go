package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/manifest"
)

// Generation 暴露当前缓存代际的只读视图，由 lifecycle.Worker 实现。
type Generation interface {
	Settings() lifecycle.Settings
	Manifest() *manifest.Manifest
	State() lifecycle.StateSnapshot
}

// RegisterContentRoutes 暴露 /-/version、/-/manifest 与单个缓存组的诊断接口，供运维确认当前代际。
func RegisterContentRoutes(app *fiber.App, gen Generation) {
	if app == nil || gen == nil {
		return
	}

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(encodeVersion(gen))
	})

	app.Get("/-/manifest", func(c fiber.Ctx) error {
		settings := gen.Settings()
		return c.JSON(fiber.Map{
			"version":    settings.Version,
			"font_cache": settings.FontCache,
			"groups":     encodeGroups(gen.Manifest()),
		})
	})

	app.Get("/-/manifest/:group", func(c fiber.Ctx) error {
		name := c.Params("group")
		g, ok := gen.Manifest().Lookup(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "group_not_found", "group": name})
		}
		return c.JSON(encodeGroup(g))
	})
}

type versionPayload struct {
	Version string                  `json:"version"`
	Origin  string                  `json:"origin"`
	State   lifecycle.StateSnapshot `json:"state"`
}

type groupPayload struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Resources []string `json:"resources"`
}

func encodeVersion(gen Generation) versionPayload {
	settings := gen.Settings()
	origin := ""
	if settings.Origin != nil {
		origin = settings.Origin.String()
	}
	return versionPayload{
		Version: settings.Version,
		Origin:  origin,
		State:   gen.State(),
	}
}

func encodeGroups(m *manifest.Manifest) []groupPayload {
	groups := m.GroupList()
	result := make([]groupPayload, 0, len(groups))
	for _, g := range groups {
		result = append(result, encodeGroup(g))
	}
	return result
}

func encodeGroup(g manifest.Group) groupPayload {
	return groupPayload{
		Name:      g.Name,
		Version:   g.Version,
		Resources: append([]string(nil), g.Resources...),
	}
}
