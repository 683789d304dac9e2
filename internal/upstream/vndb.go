package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

// VNDB 将 Operation 视为 REST 路径（/vn、/character、/stats ...），Variables 作为 JSON 正文。
type VNDB struct {
	caller httpCaller
}

// NewVNDB 构造 VNDB 客户端，Endpoint 为空时使用 kana API。
func NewVNDB(opts Options) (*VNDB, error) {
	caller, err := newCaller(opts, DefaultVNDBEndpoint)
	if err != nil {
		return nil, err
	}
	caller.endpoint = strings.TrimSuffix(caller.endpoint, "/")
	return &VNDB{caller: caller}, nil
}

// Do 对无变量的请求发送 GET（如 /stats），否则 POST 变量表。
func (v *VNDB) Do(ctx context.Context, req fingerprint.Request) ([]byte, error) {
	path := strings.TrimSpace(req.Operation)
	if path == "" {
		return nil, fmt.Errorf("vndb request requires a path")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := v.caller.endpoint + path

	if len(req.Variables) == 0 {
		return v.caller.send(ctx, http.MethodGet, target, nil)
	}
	body, err := marshal(req.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode vndb payload: %w", err)
	}
	return v.caller.send(ctx, http.MethodPost, target, body)
}
