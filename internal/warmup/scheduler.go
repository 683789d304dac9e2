// Package warmup periodically re-fetches a fixed set of requests with
// forceLive so their cache entries never age past the staleness threshold,
// mirroring the bot's daily site-statistics refresh.
package warmup

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ValgulNecron/kasuki-cache/internal/fetcher"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
	"github.com/ValgulNecron/kasuki-cache/internal/logging"
)

// Job 描述一个需要保持最新的请求。
type Job struct {
	Upstream string
	Request  fingerprint.Request
}

// Resolver 根据上游名称返回对应的 fetcher。
type Resolver interface {
	Lookup(name string) (fetcher.Fetcher, bool)
}

// Scheduler 每隔 Interval 对所有 Job 执行一次强制回源。
type Scheduler struct {
	jobs     []Job
	resolver Resolver
	interval time.Duration
	logger   *logrus.Logger
}

// NewScheduler 构造调度器；interval 必须为正。
func NewScheduler(resolver Resolver, jobs []Job, interval time.Duration, logger *logrus.Logger) (*Scheduler, error) {
	if resolver == nil {
		return nil, errors.New("fetcher resolver is required")
	}
	if interval <= 0 {
		return nil, errors.New("warmup interval must be positive")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		jobs:     append([]Job(nil), jobs...),
		resolver: resolver,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run 立即执行一轮，然后按 interval 循环，直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.jobs) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce 依次刷新所有 Job，失败只记录日志，返回成功刷新的数量。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	refreshed := 0
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		fields := logrus.Fields{
			"action":    "warmup",
			"upstream":  job.Upstream,
			"operation": job.Request.Operation,
		}

		f, ok := s.resolver.Lookup(job.Upstream)
		if !ok {
			s.logger.WithFields(fields).Warn("warmup_upstream_unmapped")
			continue
		}
		if _, err := f.Fetch(ctx, job.Request, true); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("warmup_failed")
			continue
		}
		refreshed++
	}
	s.logger.WithFields(logrus.Fields{
		"action":    "warmup",
		"jobs":      len(s.jobs),
		"refreshed": refreshed,
	}).Info("warmup 完成")
	return refreshed
}
