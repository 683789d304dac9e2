package cache

import (
	"fmt"
	"strings"
	"time"
)

// DefaultStalenessThreshold 是条目可直接复用的最长时间：3 天。
const DefaultStalenessThreshold = 72 * time.Hour

// StalenessPolicy 根据条目年龄判断是否可以直接命中，默认使用 time.Now 作为时钟。
type StalenessPolicy struct {
	threshold time.Duration
	now       func() time.Time
}

// NewStalenessPolicy 构造基于年龄的过期策略。
func NewStalenessPolicy(threshold time.Duration) StalenessPolicy {
	return StalenessPolicy{
		threshold: threshold,
		now:       time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，便于测试注入。
func (p StalenessPolicy) WithClock(now func() time.Time) StalenessPolicy {
	if now != nil {
		p.now = now
	}
	return p
}

// Threshold 返回生效的过期阈值。
func (p StalenessPolicy) Threshold() time.Duration {
	return p.threshold
}

// Now 返回策略时钟的当前时间。
func (p StalenessPolicy) Now() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// IsFresh 当 now - StoredAt < threshold 时返回 true；阈值非正时任何条目都视为过期。
func (p StalenessPolicy) IsFresh(entry Entry) bool {
	if p.threshold <= 0 {
		return false
	}
	return p.Now().Sub(entry.StoredAt) < p.threshold
}

// StalePolicy 决定过期条目刷新失败时的行为。
type StalePolicy string

const (
	// StaleFail 直接向调用方返回上游错误，旧条目保持不变。
	StaleFail StalePolicy = "fail"
	// StaleServe 在非强制刷新失败时返回旧条目并标记 Stale。
	StaleServe StalePolicy = "serve-stale"
)

// ParseStalePolicy 将配置中的字符串转换为 StalePolicy，空值视为 fail。
func ParseStalePolicy(raw string) (StalePolicy, error) {
	switch StalePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StaleFail:
		return StaleFail, nil
	case StaleServe:
		return StaleServe, nil
	default:
		return "", fmt.Errorf("unsupported stale policy: %s", raw)
	}
}
