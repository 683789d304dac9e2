package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供上游/指纹/命中状态字段，供缓存请求日志复用。
// fingerprint 只记录 sha256 摘要前缀，canonical 键可能很长。
func FetchFields(upstream, fingerprint string, forceLive, cacheHit, stale bool) logrus.Fields {
	return logrus.Fields{
		"action":      "fetch",
		"upstream":    upstream,
		"fingerprint": shortKey(fingerprint),
		"force_live":  forceLive,
		"cache_hit":   cacheHit,
		"stale":       stale,
	}
}

func shortKey(key string) string {
	if key == "" {
		return ""
	}
	digest := fingerprint.KeyDigest(key)
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return digest
}
