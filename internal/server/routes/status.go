package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/ValgulNecron/kasuki-cache/internal/fetcher"
	"github.com/ValgulNecron/kasuki-cache/internal/server"
	"github.com/ValgulNecron/kasuki-cache/internal/version"
)

// RegisterStatusRoutes 暴露 /-/status 与 /-/healthz 诊断接口，供运维查询上游配置与命中统计。
func RegisterStatusRoutes(app *fiber.App, registry *server.FetcherRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"version":   version.Version,
			"commit":    version.Commit,
			"upstreams": encodeUpstreams(registry.List()),
		}
		return c.JSON(payload)
	})

	app.Get("/-/status/:upstream", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("upstream"))
		route, ok := registry.Route(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upstream_unmapped"})
		}
		return c.JSON(encodeUpstream(*route))
	})
}

type upstreamPayload struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Endpoint    string         `json:"endpoint"`
	TTLSeconds  int64          `json:"ttl_seconds"`
	StalePolicy string         `json:"stale_policy"`
	Stats       *fetcher.Stats `json:"stats,omitempty"`
}

func encodeUpstreams(routes []server.UpstreamRoute) []upstreamPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]upstreamPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeUpstream(route))
	}
	return result
}

func encodeUpstream(route server.UpstreamRoute) upstreamPayload {
	payload := upstreamPayload{
		Name:        route.Config.Name,
		Kind:        route.Config.Kind,
		Endpoint:    route.Config.Endpoint,
		TTLSeconds:  int64(route.CacheTTL / time.Second),
		StalePolicy: string(route.StalePolicy),
	}
	if route.Fetcher != nil {
		stats := route.Fetcher.Stats()
		payload.Stats = &stats
	}
	return payload
}
