package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ValgulNecron/kasuki-cache/internal/cache"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
	"github.com/ValgulNecron/kasuki-cache/internal/upstream"
)

var supportedUpstreamKinds = map[upstream.Kind]struct{}{
	upstream.KindAniList: {},
	upstream.KindVNDB:    {},
}

const supportedUpstreamKindList = "anilist|vndb"

var supportedBackends = map[cache.Backend]struct{}{
	cache.BackendMemory: {},
	cache.BackendSQLite: {},
	cache.BackendFile:   {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.LogFormat {
	case "", "json", "text", "auto":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text/auto")
	}
	if _, ok := supportedBackends[cache.Backend(g.StoreBackend)]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 memory/sqlite/file")
	}
	if g.StoreBackend != string(cache.BackendMemory) && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.WarmupInterval.DurationValue() <= 0 {
		return newFieldError("Global.WarmupInterval", "必须大于 0")
	}
	if _, err := fingerprint.ParseMode(g.KeyMode); err != nil {
		return newFieldError("Global.KeyMode", "仅支持 canonical/sha256")
	}
	if _, err := cache.ParseStalePolicy(g.StalePolicy); err != nil {
		return newFieldError("Global.StalePolicy", "仅支持 fail/serve-stale")
	}

	if len(c.Upstreams) == 0 {
		return errors.New("至少需要配置一个 Upstream")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Upstreams {
		up := &c.Upstreams[i]
		if up.Name == "" {
			return newFieldError("Upstream[].Name", "不能为空")
		}
		if strings.ContainsAny(up.Name, "/: ") {
			return newFieldError(upstreamField(up.Name, "Name"), "不允许包含 / : 或空格")
		}
		if _, exists := seenNames[up.Name]; exists {
			return newFieldError(upstreamField(up.Name, "Name"), "重复")
		}
		seenNames[up.Name] = struct{}{}

		normalizedKind := strings.ToLower(strings.TrimSpace(up.Kind))
		if normalizedKind == "" {
			return newFieldError(upstreamField(up.Name, "Kind"), "不能为空")
		}
		if _, ok := supportedUpstreamKinds[upstream.Kind(normalizedKind)]; !ok {
			return newFieldError(upstreamField(up.Name, "Kind"), "仅支持 "+supportedUpstreamKindList)
		}
		up.Kind = normalizedKind

		if err := validateEndpoint(up.Endpoint); err != nil {
			return fmt.Errorf("%s: %w", upstreamField(up.Name, "Endpoint"), err)
		}
		if up.Proxy != "" {
			if err := validateEndpoint(up.Proxy); err != nil {
				return fmt.Errorf("%s: %w", upstreamField(up.Name, "Proxy"), err)
			}
		}
		if up.StalePolicy != "" {
			if _, err := cache.ParseStalePolicy(up.StalePolicy); err != nil {
				return newFieldError(upstreamField(up.Name, "StalePolicy"), "仅支持 fail/serve-stale")
			}
		}
	}

	for idx, job := range c.Warmups {
		if _, ok := seenNames[strings.TrimSpace(job.Upstream)]; !ok {
			return newFieldError(warmupField(idx, "Upstream"), fmt.Sprintf("未知上游: %s", job.Upstream))
		}
		if strings.TrimSpace(job.Operation) == "" {
			return newFieldError(warmupField(idx, "Operation"), "不能为空")
		}
		if _, err := job.DecodeVariables(); err != nil {
			return newFieldError(warmupField(idx, "Variables"), "必须是 JSON 对象")
		}
	}

	return nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无法解析 URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少 Host")
	}
	return nil
}
