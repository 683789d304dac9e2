package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

// AniList 将 Request 作为 GraphQL 负载 POST 到 AniList。
type AniList struct {
	caller httpCaller
}

type graphQLPayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// NewAniList 构造 AniList 客户端，Endpoint 为空时使用官方地址。
func NewAniList(opts Options) (*AniList, error) {
	caller, err := newCaller(opts, DefaultAniListEndpoint)
	if err != nil {
		return nil, err
	}
	return &AniList{caller: caller}, nil
}

// Do 发送 {"query": Operation, "variables": Variables}。
func (a *AniList) Do(ctx context.Context, req fingerprint.Request) ([]byte, error) {
	vars := req.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := marshal(graphQLPayload{Query: req.Operation, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("encode graphql payload: %w", err)
	}
	return a.caller.send(ctx, http.MethodPost, a.caller.endpoint, body)
}
