package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
CacheTTL = "boom"

[[Upstream]]
Name = "anilist"
Kind = "anilist"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSeconds(t *testing.T) {
	cfg := `
StoreBackend = "memory"
CacheTTL = 600

[[Upstream]]
Name = "vndb"
Kind = "vndb"
CacheTTL = "90"

[[Warmup]]
Upstream = "vndb"
Operation = "/vn"
Variables = '{"fields": "id,title", "perPage": 5}'
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.CacheTTL.DurationValue() != 10*time.Minute {
		t.Fatalf("整数秒应被解析，得到 %s", loaded.Global.CacheTTL.DurationValue())
	}
	if loaded.EffectiveCacheTTL(loaded.Upstreams[0]) != 90*time.Second {
		t.Fatalf("字符串秒应被解析，得到 %s", loaded.EffectiveCacheTTL(loaded.Upstreams[0]))
	}
	vars, err := loaded.Warmups[0].DecodeVariables()
	if err != nil {
		t.Fatalf("Warmup 变量应被解析: %v", err)
	}
	if vars["fields"] != "id,title" {
		t.Fatalf("Warmup 变量值不符: %+v", vars)
	}
	if _, ok := vars["perPage"]; !ok {
		t.Fatalf("变量名大小写应保持不变: %+v", vars)
	}
}
