package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ValgulNecron/kasuki-cache/internal/upstream"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Upstreams {
		applyUpstreamDefaults(&cfg.Upstreams[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoreBackend", "sqlite")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheTTL", 259200)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("KeyMode", "canonical")
	v.SetDefault("StalePolicy", "fail")
	v.SetDefault("SingleFlight", false)
	v.SetDefault("WarmupInterval", "24h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(72 * time.Hour)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.WarmupInterval.DurationValue() == 0 {
		g.WarmupInterval = Duration(24 * time.Hour)
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	g.KeyMode = strings.ToLower(strings.TrimSpace(g.KeyMode))
	g.StalePolicy = strings.ToLower(strings.TrimSpace(g.StalePolicy))
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	u.Name = strings.TrimSpace(u.Name)
	u.Kind = strings.ToLower(strings.TrimSpace(u.Kind))
	if u.CacheTTL.DurationValue() < 0 {
		u.CacheTTL = Duration(0)
	}
	if strings.TrimSpace(u.Endpoint) == "" {
		u.Endpoint = upstream.DefaultEndpoint(upstream.Kind(u.Kind))
	}
	u.StalePolicy = strings.ToLower(strings.TrimSpace(u.StalePolicy))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
