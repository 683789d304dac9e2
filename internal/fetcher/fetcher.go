package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ValgulNecron/kasuki-cache/internal/cache"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
	"github.com/ValgulNecron/kasuki-cache/internal/logging"
	"github.com/ValgulNecron/kasuki-cache/internal/upstream"
)

// Fetcher 是命令处理层唯一需要依赖的入口，便于在测试中替换。
type Fetcher interface {
	Fetch(ctx context.Context, req fingerprint.Request, forceLive bool) (*Response, error)
}

// Options 描述 CachingFetcher 的全部依赖，不读取任何全局状态。
type Options struct {
	// Name 用于日志与错误信息，通常是上游名称（anilist / vndb）。
	Name   string
	Store  cache.Store
	Client upstream.Client
	// Policy 决定条目是否新鲜；零值使用 3 天阈值与 time.Now。
	Policy      cache.StalenessPolicy
	KeyMode     fingerprint.Mode
	StalePolicy cache.StalePolicy
	// SingleFlight 开启后同一指纹的并发回源会被合并为一次。
	SingleFlight bool
	Logger       *logrus.Logger
}

// Response 是 Fetch 的结果，Body 为上游原始正文，由调用方自行解码。
type Response struct {
	Body        string
	CacheHit    bool
	Stale       bool
	StoredAt    time.Time
	Fingerprint string
}

// CachingFetcher orchestrates “指纹 → 读缓存 → 回源 → 写缓存” 的全流程。
// 存储只在各自的读/写期间被访问，网络调用期间不持有任何锁。
type CachingFetcher struct {
	name         string
	store        cache.Store
	client       upstream.Client
	policy       cache.StalenessPolicy
	keyMode      fingerprint.Mode
	stalePolicy  cache.StalePolicy
	singleFlight bool
	logger       *logrus.Logger

	group singleflight.Group
	stats counters
}

// New 根据 Options 构造 CachingFetcher。
func New(opts Options) (*CachingFetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("upstream client is required")
	}

	policy := opts.Policy
	if policy.Threshold() == 0 {
		policy = cache.NewStalenessPolicy(cache.DefaultStalenessThreshold)
	}
	keyMode := opts.KeyMode
	if keyMode == "" {
		keyMode = fingerprint.ModeCanonical
	}
	stalePolicy := opts.StalePolicy
	if stalePolicy == "" {
		stalePolicy = cache.StaleFail
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &CachingFetcher{
		name:         opts.Name,
		store:        opts.Store,
		client:       opts.Client,
		policy:       policy,
		keyMode:      keyMode,
		stalePolicy:  stalePolicy,
		singleFlight: opts.SingleFlight,
		logger:       logger,
	}, nil
}

// Name 返回该 fetcher 服务的上游名称。
func (f *CachingFetcher) Name() string {
	return f.name
}

// Threshold 返回生效的过期阈值。
func (f *CachingFetcher) Threshold() time.Duration {
	return f.policy.Threshold()
}

// StalePolicy 返回刷新失败时的回退策略。
func (f *CachingFetcher) StalePolicy() cache.StalePolicy {
	return f.stalePolicy
}

// Stats 返回计数器快照。
func (f *CachingFetcher) Stats() Stats {
	return f.stats.snapshot()
}

// Fetch 返回 req 的响应：forceLive 为 false 且存在新鲜条目时直接命中；
// 否则回源，并在成功后无条件写入缓存（forceLive 也不例外）。
func (f *CachingFetcher) Fetch(ctx context.Context, req fingerprint.Request, forceLive bool) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()

	key, err := fingerprint.Key(req, f.keyMode)
	if err != nil {
		return nil, f.fail(&Error{Kind: KindSerialization, Op: "fingerprint", Upstream: f.name, Err: err})
	}

	var stale *cache.Entry
	if forceLive {
		f.stats.forcedLive.Add(1)
	} else {
		entry, err := f.store.Get(ctx, key)
		switch {
		case err == nil:
			if f.policy.IsFresh(*entry) {
				f.stats.hits.Add(1)
				f.logResult(key, forceLive, true, false, started, nil)
				return &Response{
					Body:        entry.RawResponse,
					CacheHit:    true,
					StoredAt:    entry.StoredAt,
					Fingerprint: key,
				}, nil
			}
			f.stats.staleRefreshes.Add(1)
			stale = entry
		case errors.Is(err, cache.ErrNotFound):
			f.stats.misses.Add(1)
		default:
			return nil, f.fail(&Error{Kind: KindStore, Op: "store_get", Upstream: f.name, Fingerprint: key, Err: err})
		}
	}

	result, err := f.refresh(ctx, key, req)
	if err != nil {
		if stale != nil && f.stalePolicy == cache.StaleServe && KindOf(err) == KindUpstream {
			f.stats.staleServed.Add(1)
			f.stats.recordError(KindUpstream)
			f.logResult(key, forceLive, true, true, started, err)
			return &Response{
				Body:        stale.RawResponse,
				CacheHit:    true,
				Stale:       true,
				StoredAt:    stale.StoredAt,
				Fingerprint: key,
			}, nil
		}
		f.stats.recordError(KindOf(err))
		f.logResult(key, forceLive, false, false, started, err)
		return nil, err
	}

	f.logResult(key, forceLive, false, false, started, nil)
	return &Response{
		Body:        result.body,
		StoredAt:    result.storedAt,
		Fingerprint: key,
	}, nil
}

type liveResult struct {
	body     string
	storedAt time.Time
}

// refresh 执行回源；开启 SingleFlight 时同一指纹只会有一个在途请求。
// 共享请求不随任何单个调用方取消（仍受上游超时约束），每个调用方只按自己的 ctx 放弃等待。
func (f *CachingFetcher) refresh(ctx context.Context, key string, req fingerprint.Request) (liveResult, error) {
	if !f.singleFlight {
		return f.live(ctx, key, req)
	}
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		return f.live(shared, key, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return liveResult{}, res.Err
		}
		return res.Val.(liveResult), nil
	case <-ctx.Done():
		return liveResult{}, &Error{Kind: KindUpstream, Op: "live_fetch", Upstream: f.name, Fingerprint: key, Err: ctx.Err()}
	}
}

func (f *CachingFetcher) live(ctx context.Context, key string, req fingerprint.Request) (liveResult, error) {
	f.stats.liveFetches.Add(1)
	body, err := f.client.Do(ctx, req)
	if err != nil {
		return liveResult{}, &Error{Kind: KindUpstream, Op: "live_fetch", Upstream: f.name, Fingerprint: key, Err: err}
	}

	storedAt := time.Unix(f.policy.Now().Unix(), 0).UTC()
	entry := cache.Entry{
		Fingerprint: key,
		RawResponse: string(body),
		StoredAt:    storedAt,
	}
	// 正文已经到手，写回不因调用方取消而丢弃。
	if err := f.store.Put(context.WithoutCancel(ctx), entry); err != nil {
		return liveResult{}, &Error{Kind: KindStore, Op: "store_put", Upstream: f.name, Fingerprint: key, Err: err}
	}
	return liveResult{body: entry.RawResponse, storedAt: storedAt}, nil
}

func (f *CachingFetcher) fail(err *Error) error {
	f.stats.recordError(err.Kind)
	f.logger.WithError(err).WithFields(logrus.Fields{
		"action":   "fetch",
		"upstream": f.name,
		"kind":     err.Kind,
	}).Warn("fetch_failed")
	return err
}

func (f *CachingFetcher) logResult(key string, forceLive, hit, stale bool, started time.Time, err error) {
	fields := logging.FetchFields(f.name, key, forceLive, hit, stale)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	entry := f.logger.WithFields(fields)
	switch {
	case err != nil && stale:
		entry.WithError(err).Warn("fetch_served_stale")
	case err != nil:
		entry.WithError(err).Warn("fetch_failed")
	default:
		entry.Debug("fetch_completed")
	}
}

// FetchJSON 调用 Fetch 并将正文解码到 v；解码失败视为上游错误。
func FetchJSON(ctx context.Context, f Fetcher, req fingerprint.Request, forceLive bool, v any) (*Response, error) {
	resp, err := f.Fetch(ctx, req, forceLive)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resp.Body), v); err != nil {
		return resp, &Error{
			Kind:        KindUpstream,
			Op:          "decode",
			Upstream:    fetcherName(f),
			Fingerprint: resp.Fingerprint,
			Err:         fmt.Errorf("decode response: %w", err),
		}
	}
	return resp, nil
}

func fetcherName(f Fetcher) string {
	if named, ok := f.(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}
