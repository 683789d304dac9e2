package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSerialization 表示请求无法被规范化序列化，属于调用方的编程错误。
var ErrSerialization = errors.New("request cannot be canonically serialized")

// Mode 决定最终缓存键的形态。
type Mode string

const (
	// ModeCanonical 直接使用规范化 JSON 文本作为键，信息完整，不存在碰撞。
	ModeCanonical Mode = "canonical"
	// ModeSHA256 使用规范化文本的 sha256 十六进制摘要，键长固定 64。
	ModeSHA256 Mode = "sha256"
)

// Request 描述一次上游调用：AniList 的 GraphQL 文本或 VNDB 的 REST 路径，以及变量表。
type Request struct {
	Operation string         `json:"operation"`
	Variables map[string]any `json:"variables"`
}

// NewRequest 是构造 Request 的便捷入口，nil 变量表会被替换为空表。
func NewRequest(operation string, variables map[string]any) Request {
	if variables == nil {
		variables = map[string]any{}
	}
	return Request{Operation: operation, Variables: variables}
}

// canonicalPayload 的字段顺序即输出顺序，operation 永远在 variables 之前。
type canonicalPayload struct {
	Operation string `json:"operation"`
	Variables any    `json:"variables"`
}

// Canonical 返回请求的规范化 JSON 文本，可直接作为缓存键。
func Canonical(req Request) (string, error) {
	vars, err := normalizeVariables(req.Variables)
	if err != nil {
		return "", err
	}

	out, err := encode(canonicalPayload{
		Operation: NormalizeOperation(req.Operation),
		Variables: vars,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(out), nil
}

// Key 按 mode 输出缓存键；未知 mode 退回 canonical。
func Key(req Request, mode Mode) (string, error) {
	canonical, err := Canonical(req)
	if err != nil {
		return "", err
	}
	if mode == ModeSHA256 {
		return Digest(canonical), nil
	}
	return canonical, nil
}

// KeyDigest 返回缓存键对应的 sha256 摘要：canonical 键（总以 { 开头）计算摘要，
// sha256 模式的键本身就是摘要，原样返回。
func KeyDigest(key string) string {
	if strings.HasPrefix(key, "{") {
		return Digest(key)
	}
	return key
}

// Digest 计算规范化文本的 sha256 摘要。
func Digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ParseMode 将配置中的字符串转换为 Mode。
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeCanonical:
		return ModeCanonical, nil
	case ModeSHA256:
		return ModeSHA256, nil
	default:
		return "", fmt.Errorf("unsupported key mode: %s", raw)
	}
}

// normalizeVariables 先序列化再以 UseNumber 解回通用结构，
// 使结构体、嵌套 map 与切片统一成 map[string]any/[]any，重新编码时键自然有序。
func normalizeVariables(vars map[string]any) (any, error) {
	if len(vars) == 0 {
		return map[string]any{}, nil
	}

	raw, err := encode(vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return generic, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
