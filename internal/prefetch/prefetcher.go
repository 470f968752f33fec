// Package prefetch warms the image cache for a list of resources ahead of
// use, with bounded concurrency. Resources already cached are skipped; the
// rest are retrieved through the manager so they share its single-flight
// downloads and cache write-back.
package prefetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/manager"
)

// DefaultMaxConcurrent 是默认的并发下载数。
const DefaultMaxConcurrent = 5

// Result 汇总一次预取的结果。
type Result struct {
	Skipped   []kingfisher.Resource
	Failed    []kingfisher.Resource
	Completed []kingfisher.Resource
}

// Total reports how many resources have been accounted for.
func (r Result) Total() int {
	return len(r.Skipped) + len(r.Failed) + len(r.Completed)
}

type Config struct {
	MaxConcurrent int
	Options       manager.Options
	Logger        *logrus.Logger
}

type Prefetcher struct {
	manager   *manager.Manager
	resources []kingfisher.Resource
	cfg       Config
	logger    *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(m *manager.Manager, resources []kingfisher.Resource, cfg Config) *Prefetcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Prefetcher{
		manager:   m,
		resources: append([]kingfisher.Resource(nil), resources...),
		cfg:       cfg,
		logger:    logger,
	}
}

// Start 阻塞到所有资源处理完毕，或 ctx 结束、Stop 被调用。
// 被中止的资源计入 Failed。progress 在每个资源结束后以当前累计结果调用。
func (p *Prefetcher) Start(ctx context.Context, progress func(Result)) Result {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	start := time.Now()
	var (
		mu     sync.Mutex
		result Result
	)
	record := func(res kingfisher.Resource, bucket *[]kingfisher.Resource) {
		mu.Lock()
		*bucket = append(*bucket, res)
		snapshot := result.clone()
		mu.Unlock()
		if progress != nil {
			progress(snapshot)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, res := range p.resources {
		res := res
		if gctx.Err() != nil {
			record(res, &result.Failed)
			continue
		}
		g.Go(func() error {
			switch p.fetch(gctx, res) {
			case outcomeSkipped:
				record(res, &result.Skipped)
			case outcomeCompleted:
				record(res, &result.Completed)
			default:
				record(res, &result.Failed)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.WithFields(logrus.Fields{
		"action":    "prefetch",
		"skipped":   len(result.Skipped),
		"failed":    len(result.Failed),
		"completed": len(result.Completed),
		"elapsed":   time.Since(start).String(),
	}).Info("prefetch finished")
	return result
}

// Stop 中止进行中的预取。
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSkipped
	outcomeCompleted
)

func (p *Prefetcher) fetch(ctx context.Context, res kingfisher.Resource) outcome {
	opts := p.cfg.Options
	target := opts.TargetCache
	if target == nil {
		target = p.manager.Cache()
	}
	if !opts.ForceRefresh && target.IsCached(res.CacheKey(), opts.ProcessorIdentifier()).Cached() {
		return outcomeSkipped
	}

	opts.CallbackQueue = dispatch.Inline
	errs := make(chan error, 1)
	task := p.manager.RetrieveImage(res, opts, nil, func(_ *bitmap.Image, err error, _ kingfisher.CacheType, _ *url.URL) {
		errs <- err
	})
	select {
	case err := <-errs:
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"action": "prefetch",
				"key":    res.CacheKey(),
			}).WithError(err).Warn("prefetch failed")
			return outcomeFailed
		}
		return outcomeCompleted
	case <-ctx.Done():
		task.Cancel()
		return outcomeFailed
	}
}

func (r Result) clone() Result {
	return Result{
		Skipped:   append([]kingfisher.Resource(nil), r.Skipped...),
		Failed:    append([]kingfisher.Resource(nil), r.Failed...),
		Completed: append([]kingfisher.Resource(nil), r.Completed...),
	}
}
