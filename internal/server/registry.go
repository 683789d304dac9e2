package server

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ValgulNecron/kasuki-cache/internal/cache"
	"github.com/ValgulNecron/kasuki-cache/internal/config"
	"github.com/ValgulNecron/kasuki-cache/internal/fetcher"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
	"github.com/ValgulNecron/kasuki-cache/internal/upstream"
)

// UpstreamRoute 将上游配置与派生属性（生效 TTL、回退策略、fetcher 实例）
// 聚合在一起，供路由层直接复用，避免重复解析配置。
type UpstreamRoute struct {
	// Config 是用户在 config.toml 中声明的上游字段副本，避免外部修改。
	Config config.UpstreamConfig
	// CacheTTL 是对当前上游生效的过期阈值，若未覆盖则等于全局值。
	CacheTTL    time.Duration
	StalePolicy cache.StalePolicy
	Fetcher     *fetcher.CachingFetcher
}

// FetcherRegistry 提供上游名称到 UpstreamRoute 的查询能力。
type FetcherRegistry struct {
	routes  map[string]*UpstreamRoute
	ordered []*UpstreamRoute
}

// NewFetcherRegistry 根据配置为每个上游构建 CachingFetcher，所有上游共享同一个 Store，
// 但各自使用独立的命名空间。调用方应在启动阶段创建一次并复用。
func NewFetcherRegistry(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*FetcherRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("cache store is required")
	}

	keyMode, err := fingerprint.ParseMode(cfg.Global.KeyMode)
	if err != nil {
		return nil, err
	}

	registry := &FetcherRegistry{
		routes: make(map[string]*UpstreamRoute, len(cfg.Upstreams)),
	}
	for _, up := range cfg.Upstreams {
		if _, exists := registry.routes[up.Name]; exists {
			return nil, fmt.Errorf("duplicate upstream name detected for %s", up.Name)
		}
		route, err := buildRoute(cfg, up, store, keyMode, logger)
		if err != nil {
			return nil, err
		}
		registry.routes[up.Name] = route
		registry.ordered = append(registry.ordered, route)
	}
	return registry, nil
}

// NewStaticRegistry 用现成的路由构建注册表，便于测试注入。
func NewStaticRegistry(routes ...*UpstreamRoute) *FetcherRegistry {
	registry := &FetcherRegistry{routes: make(map[string]*UpstreamRoute, len(routes))}
	for _, route := range routes {
		registry.routes[route.Config.Name] = route
		registry.ordered = append(registry.ordered, route)
	}
	return registry
}

// Route 根据上游名称查找 UpstreamRoute。
func (r *FetcherRegistry) Route(name string) (*UpstreamRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[name]
	return route, ok
}

// Lookup 返回上游对应的 fetcher，满足 warmup.Resolver。
func (r *FetcherRegistry) Lookup(name string) (fetcher.Fetcher, bool) {
	route, ok := r.Route(name)
	if !ok || route.Fetcher == nil {
		return nil, false
	}
	return route.Fetcher, true
}

// List 返回当前注册的上游（按名称排序），用于 /-/status 输出。
func (r *FetcherRegistry) List() []UpstreamRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]UpstreamRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Config.Name < result[j].Config.Name
	})
	return result
}

func buildRoute(cfg *config.Config, up config.UpstreamConfig, store cache.Store, keyMode fingerprint.Mode, logger *logrus.Logger) (*UpstreamRoute, error) {
	var proxyURL *url.URL
	if up.Proxy != "" {
		parsed, err := url.Parse(up.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for upstream %s: %w", up.Name, err)
		}
		proxyURL = parsed
	}

	timeout := cfg.Global.UpstreamTimeout.DurationValue()
	client, err := upstream.New(upstream.Kind(up.Kind), upstream.Options{
		Endpoint:     up.Endpoint,
		HTTPClient:   upstream.NewHTTPClient(timeout, proxyURL),
		Timeout:      timeout,
		ValidateJSON: up.ShouldValidateJSON(),
		UserAgent:    "kasuki-cache",
	})
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", up.Name, err)
	}

	stalePolicy, err := cache.ParseStalePolicy(cfg.EffectiveStalePolicy(up))
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", up.Name, err)
	}

	ttl := cfg.EffectiveCacheTTL(up)
	f, err := fetcher.New(fetcher.Options{
		Name:         up.Name,
		Store:        cache.Namespaced(store, up.Name),
		Client:       client,
		Policy:       cache.NewStalenessPolicy(ttl),
		KeyMode:      keyMode,
		StalePolicy:  stalePolicy,
		SingleFlight: cfg.Global.SingleFlight,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", up.Name, err)
	}

	return &UpstreamRoute{
		Config:      up,
		CacheTTL:    ttl,
		StalePolicy: stalePolicy,
		Fetcher:     f,
	}, nil
}
