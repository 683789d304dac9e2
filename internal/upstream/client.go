package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

// Client 执行一次上游请求并返回原始响应正文。
type Client interface {
	Do(ctx context.Context, req fingerprint.Request) ([]byte, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req fingerprint.Request) ([]byte, error)

// Do makes ClientFunc satisfy Client.
func (f ClientFunc) Do(ctx context.Context, req fingerprint.Request) ([]byte, error) {
	return f(ctx, req)
}

// Kind 标识上游 API 的协议类型。
type Kind string

const (
	KindAniList Kind = "anilist"
	KindVNDB    Kind = "vndb"
)

const (
	DefaultAniListEndpoint = "https://graphql.anilist.co/"
	DefaultVNDBEndpoint    = "https://api.vndb.org/kana"
	defaultTimeout         = 30 * time.Second
	maxErrorBody           = 4 * 1024
)

// DefaultEndpoint 返回 kind 对应的官方地址。
func DefaultEndpoint(kind Kind) string {
	switch kind {
	case KindAniList:
		return DefaultAniListEndpoint
	case KindVNDB:
		return DefaultVNDBEndpoint
	default:
		return ""
	}
}

// ErrInvalidBody 表示 2xx 响应正文不是合法 JSON。
var ErrInvalidBody = errors.New("upstream returned a body that is not valid JSON")

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client；proxy 非空时所有请求经由该代理。
func NewHTTPClient(timeout time.Duration, proxy *url.URL) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := defaultTransport.Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Options 描述一个上游客户端的公共参数。
type Options struct {
	Endpoint     string
	HTTPClient   *http.Client
	Timeout      time.Duration
	ValidateJSON bool
	UserAgent    string
}

// httpCaller 封装 AniList/VNDB 客户端共享的发送、超时与校验逻辑。
type httpCaller struct {
	endpoint     string
	client       *http.Client
	timeout      time.Duration
	validateJSON bool
	userAgent    string
}

func newCaller(opts Options, fallback string) (httpCaller, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = fallback
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return httpCaller{}, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return httpCaller{}, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(opts.Timeout, nil)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = client.Timeout
	}
	return httpCaller{
		endpoint:     endpoint,
		client:       client,
		timeout:      timeout,
		validateJSON: opts.ValidateJSON,
		userAgent:    opts.UserAgent,
	}, nil
}

// send 在 timeout 限制内完成一次请求，非 2xx 统一转换为 *StatusError。
func (c httpCaller) send(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := payload
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if c.validateJSON && !json.Valid(payload) {
		return nil, ErrInvalidBody
	}
	return payload, nil
}

// New 根据 kind 构造对应的上游客户端。
func New(kind Kind, opts Options) (Client, error) {
	switch kind {
	case KindAniList:
		client, err := NewAniList(opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	case KindVNDB:
		client, err := NewVNDB(opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported upstream kind: %s", kind)
	}
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
