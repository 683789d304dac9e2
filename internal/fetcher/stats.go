package fetcher

import "sync/atomic"

// Stats 是 CachingFetcher 计数器的快照。
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	StaleRefreshes int64 `json:"stale_refreshes"`
	ForcedLive     int64 `json:"forced_live"`
	LiveFetches    int64 `json:"live_fetches"`
	StaleServed    int64 `json:"stale_served"`
	UpstreamErrors int64 `json:"upstream_errors"`
	StoreErrors    int64 `json:"store_errors"`
}

type counters struct {
	hits           atomic.Int64
	misses         atomic.Int64
	staleRefreshes atomic.Int64
	forcedLive     atomic.Int64
	liveFetches    atomic.Int64
	staleServed    atomic.Int64
	upstreamErrors atomic.Int64
	storeErrors    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		StaleRefreshes: c.staleRefreshes.Load(),
		ForcedLive:     c.forcedLive.Load(),
		LiveFetches:    c.liveFetches.Load(),
		StaleServed:    c.staleServed.Load(),
		UpstreamErrors: c.upstreamErrors.Load(),
		StoreErrors:    c.storeErrors.Load(),
	}
}

func (c *counters) recordError(kind Kind) {
	switch kind {
	case KindUpstream:
		c.upstreamErrors.Add(1)
	case KindStore:
		c.storeErrors.Add(1)
	}
}
