package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"72h" 或纯数字秒值等配置写法。
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

// GlobalConfig 描述全局运行时行为，所有上游共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheTTL        Duration `mapstructure:"CacheTTL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	KeyMode         string   `mapstructure:"KeyMode"`
	StalePolicy     string   `mapstructure:"StalePolicy"`
	SingleFlight    bool     `mapstructure:"SingleFlight"`
	WarmupInterval  Duration `mapstructure:"WarmupInterval"`
}

// UpstreamConfig 决定单个上游 API 的地址与缓存行为。
type UpstreamConfig struct {
	Name         string   `mapstructure:"Name"`
	Kind         string   `mapstructure:"Kind"`
	Endpoint     string   `mapstructure:"Endpoint"`
	Proxy        string   `mapstructure:"Proxy"`
	CacheTTL     Duration `mapstructure:"CacheTTL"`
	StalePolicy  string   `mapstructure:"StalePolicy"`
	ValidateJSON *bool    `mapstructure:"ValidateJSON"`
}

// WarmupConfig 声明一个需要定期强制刷新的请求。
// Variables 以 JSON 对象字符串书写：Viper 会把嵌套表的键统一转成小写，
// 而 GraphQL 变量名（如 perPage）大小写敏感。
type WarmupConfig struct {
	Upstream  string `mapstructure:"Upstream"`
	Operation string `mapstructure:"Operation"`
	Variables string `mapstructure:"Variables"`
}

// DecodeVariables 将 Variables 解析为变量表，空字符串视为无变量。
func (w WarmupConfig) DecodeVariables() (map[string]any, error) {
	raw := strings.TrimSpace(w.Variables)
	if raw == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var vars map[string]any
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("invalid warmup variables: %w", err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Upstreams []UpstreamConfig `mapstructure:"Upstream"`
	Warmups   []WarmupConfig   `mapstructure:"Warmup"`
}

// EffectiveCacheTTL 返回上游生效的过期阈值，未覆盖时使用全局值。
func (c *Config) EffectiveCacheTTL(up UpstreamConfig) time.Duration {
	if ttl := up.CacheTTL.DurationValue(); ttl > 0 {
		return ttl
	}
	return c.Global.CacheTTL.DurationValue()
}

// EffectiveStalePolicy 返回上游生效的失败回退策略。
func (c *Config) EffectiveStalePolicy(up UpstreamConfig) string {
	if policy := strings.TrimSpace(up.StalePolicy); policy != "" {
		return policy
	}
	return c.Global.StalePolicy
}

// ShouldValidateJSON 未显式关闭时默认校验上游正文为 JSON。
func (u UpstreamConfig) ShouldValidateJSON() bool {
	return u.ValidateJSON == nil || *u.ValidateJSON
}

// UpstreamNames 返回所有上游的 name:kind 摘要，供日志字段使用。
func UpstreamNames(ups []UpstreamConfig) []string {
	if len(ups) == 0 {
		return nil
	}
	result := make([]string, len(ups))
	for i, up := range ups {
		result[i] = fmt.Sprintf("%s:%s", up.Name, up.Kind)
	}
	return result
}
