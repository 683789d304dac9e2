package fetcher

import (
	"errors"
	"fmt"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

// Kind 对 Fetch 失败进行分类。
type Kind string

const (
	KindSerialization Kind = "serialization"
	KindStore         Kind = "store"
	KindUpstream      Kind = "upstream"
)

var (
	// ErrSerialization 请求无法生成指纹，属于编程错误，不应重试。
	ErrSerialization = fingerprint.ErrSerialization
	// ErrStore 缓存存储读写失败。
	ErrStore = errors.New("cache store failed")
	// ErrUpstream 上游请求失败（传输错误、非 2xx、正文无法解码）。
	ErrUpstream = errors.New("upstream fetch failed")
)

// Error 是 Fetch 返回的类型化错误，Unwrap 暴露底层原因。
type Error struct {
	Kind        Kind
	Op          string
	Upstream    string
	Fingerprint string
	Err         error
}

func (e *Error) Error() string {
	if e.Upstream != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Upstream, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrUpstream) 等判断基于 Kind 生效。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrStore:
		return e.Kind == KindStore
	case ErrUpstream:
		return e.Kind == KindUpstream
	case ErrSerialization:
		return e.Kind == KindSerialization
	}
	return false
}

// KindOf 返回 err 链上第一个 *Error 的 Kind，非 Fetch 错误返回空字符串。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
