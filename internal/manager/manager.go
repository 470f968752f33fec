// Package manager ties the image cache and the downloader together. A
// retrieval checks the target cache, falls back to the downloader, writes the
// downloaded result back, and delivers exactly one completion on the
// caller's callback queue.
package manager

import (
	"errors"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/kingfisher"
)

// Options 在通用选项之外允许按请求替换缓存与下载器。
type Options struct {
	kingfisher.Options

	// TargetCache 为空时使用管理器的缓存。
	TargetCache *cache.ImageCache
	// OriginalCache 保存未处理原图，为空时等同 TargetCache。
	OriginalCache *cache.ImageCache
	// Downloader 为空时使用管理器的下载器。
	Downloader *downloader.Downloader
}

// CompletionFunc 对每个被接受的请求恰好调用一次。
// 空资源请求时 img 与 err 均为 nil。
type CompletionFunc func(img *bitmap.Image, err error, cacheType kingfisher.CacheType, u *url.URL)

// ProgressFunc 报告下载进度。
type ProgressFunc = downloader.ProgressFunc

// Config 描述管理器的默认协作者。
type Config struct {
	Cache      *cache.ImageCache
	Downloader *downloader.Downloader
	// CallbackQueue 是默认的回调队列，通常为宿主主队列。
	CallbackQueue dispatch.Queue
	// ProcessQueue 用于从原图缓存再加工。
	ProcessQueue dispatch.Queue
	// ScaleFactor 是默认解码缩放。
	ScaleFactor float64
	Logger      *logrus.Logger
}

type Manager struct {
	cache         *cache.ImageCache
	downloader    *downloader.Downloader
	callbackQueue dispatch.Queue
	processQueue  dispatch.Queue
	scale         float64
	logger        *logrus.Logger
}

func New(cfg Config) (*Manager, error) {
	if cfg.Cache == nil {
		return nil, errors.New("manager requires a cache")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("manager requires a downloader")
	}
	processQueue := cfg.ProcessQueue
	if processQueue == nil {
		processQueue = dispatch.NewConcurrentQueue("imagehub.manager.process", 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cache:         cfg.Cache,
		downloader:    cfg.Downloader,
		callbackQueue: cfg.CallbackQueue,
		processQueue:  processQueue,
		scale:         cfg.ScaleFactor,
		logger:        logger,
	}, nil
}

func (m *Manager) Cache() *cache.ImageCache { return m.cache }

func (m *Manager) Downloader() *downloader.Downloader { return m.downloader }

// RetrieveImage 取图：先查缓存，未命中再下载并回写缓存。
func (m *Manager) RetrieveImage(res kingfisher.Resource, opts Options, progress ProgressFunc, completion CompletionFunc) *RetrieveTask {
	opts = m.resolve(opts)
	task := newRetrieveTask(res)

	var once sync.Once
	done := func(img *bitmap.Image, err error, cacheType kingfisher.CacheType, u *url.URL) {
		once.Do(func() {
			m.logResult(task, opts, cacheType, err)
			if completion == nil {
				return
			}
			dispatch.SafeAsync(opts.CallbackQueue, func() { completion(img, err, cacheType, u) })
		})
	}

	if res.IsZero() {
		done(nil, nil, kingfisher.CacheTypeNone, nil)
		return task
	}
	if opts.ForceRefresh {
		m.download(res, opts, task, progress, done)
		return task
	}
	if opts.FromMemoryCacheOrRefresh {
		if img, ok := opts.TargetCache.RetrieveFromMemory(res.CacheKey(), opts.ProcessorIdentifier()); ok {
			done(img, nil, kingfisher.CacheTypeMemory, res.DownloadURL())
			return task
		}
		if opts.OnlyFromCache {
			done(nil, kingfisher.ErrNotCached, kingfisher.CacheTypeNone, res.DownloadURL())
			return task
		}
		m.download(res, opts, task, progress, done)
		return task
	}
	m.retrieveFromCache(res, opts, task, progress, done)
	return task
}

func (m *Manager) resolve(opts Options) Options {
	if opts.TargetCache == nil {
		opts.TargetCache = m.cache
	}
	if opts.OriginalCache == nil {
		opts.OriginalCache = opts.TargetCache
	}
	if opts.Downloader == nil {
		opts.Downloader = m.downloader
	}
	if opts.CallbackQueue == nil {
		opts.CallbackQueue = m.callbackQueue
	}
	if opts.ScaleFactor <= 0 {
		opts.ScaleFactor = m.scale
	}
	return opts
}

// internal 返回内部环节使用的选项：结果统一由 done 转投到调用方队列。
func internal(opts Options) kingfisher.Options {
	inner := opts.Options
	inner.CallbackQueue = nil
	return inner
}

type doneFunc func(img *bitmap.Image, err error, cacheType kingfisher.CacheType, u *url.URL)

func (m *Manager) retrieveFromCache(res kingfisher.Resource, opts Options, task *RetrieveTask, progress ProgressFunc, done doneFunc) {
	u := res.DownloadURL()
	diskTask := opts.TargetCache.Retrieve(res.CacheKey(), internal(opts), func(img *bitmap.Image, cacheType kingfisher.CacheType) {
		if img != nil {
			done(img, nil, cacheType, u)
			return
		}
		if opts.OnlyFromCache {
			done(nil, kingfisher.ErrNotCached, kingfisher.CacheTypeNone, u)
			return
		}
		if m.processFromOriginal(res, opts, task, progress, done) {
			return
		}
		m.download(res, opts, task, progress, done)
	})
	task.setDiskTask(diskTask)
}

// processFromOriginal 在处理后的条目缺失、但原图已缓存时，直接加工原图而不重新下载。
func (m *Manager) processFromOriginal(res kingfisher.Resource, opts Options, task *RetrieveTask, progress ProgressFunc, done doneFunc) bool {
	processor := opts.ProcessorOrDefault()
	if processor.Identifier() == "" {
		return false
	}
	key := res.CacheKey()
	if opts.OriginalCache.IsCached(key, "") == kingfisher.CacheTypeNone {
		return false
	}

	originalOpts := internal(opts)
	originalOpts.Processor = nil
	originalOpts.BackgroundDecode = false
	u := res.DownloadURL()

	diskTask := opts.OriginalCache.Retrieve(key, originalOpts, func(original *bitmap.Image, _ kingfisher.CacheType) {
		if original == nil {
			m.download(res, opts, task, progress, done)
			return
		}
		m.processQueue.Async(func() {
			img, err := processor.Process(bitmap.ImageItem(original), opts.DecodeOptions())
			if err != nil || img == nil {
				done(nil, kingfisher.WrapBadData(err), kingfisher.CacheTypeNone, u)
				return
			}
			if opts.BackgroundDecode {
				img = img.Decoded()
			}
			m.store(res, opts, img, nil, func() { done(img, nil, kingfisher.CacheTypeNone, u) })
		})
	})
	task.setDiskTask(diskTask)
	return true
}

func (m *Manager) download(res kingfisher.Resource, opts Options, task *RetrieveTask, progress ProgressFunc, done doneFunc) {
	var onProgress downloader.ProgressFunc
	if progress != nil {
		onProgress = func(received, expected int64) {
			dispatch.SafeAsync(opts.CallbackQueue, func() { progress(received, expected) })
		}
	}

	downloadTask := opts.Downloader.DownloadImage(res.DownloadURL(), internal(opts), task, onProgress,
		func(img *bitmap.Image, err error, u *url.URL, data []byte) {
			if err != nil {
				if errors.Is(err, kingfisher.ErrNotModified) {
					m.resolveNotModified(res, opts, err, done)
					return
				}
				done(nil, err, kingfisher.CacheTypeNone, u)
				return
			}
			m.store(res, opts, img, data, func() { done(img, nil, kingfisher.CacheTypeNone, u) })
			if opts.CacheOriginalImage && opts.ProcessorIdentifier() != "" && !opts.CacheMemoryOnly {
				opts.OriginalCache.StoreToDisk(data, res.CacheKey(), "", nil)
			}
		})
	task.setDownloadTask(downloadTask)
}

// store 写入目标缓存；WaitForCache 时等落盘结束再交付结果。
func (m *Manager) store(res kingfisher.Resource, opts Options, img *bitmap.Image, data []byte, deliver func()) {
	storeOpts := cache.StoreOptions{
		ProcessorID: opts.ProcessorIdentifier(),
		Serializer:  opts.SerializerOrDefault(),
		ToDisk:      !opts.CacheMemoryOnly,
	}
	if opts.WaitForCache {
		opts.TargetCache.Store(img, data, res.CacheKey(), storeOpts, deliver)
		return
	}
	opts.TargetCache.Store(img, data, res.CacheKey(), storeOpts, nil)
	deliver()
}

// resolveNotModified 把 304 转成一次缓存查找；缓存恰好缺失时才把原错误交给调用方。
func (m *Manager) resolveNotModified(res kingfisher.Resource, opts Options, cause error, done doneFunc) {
	u := res.DownloadURL()
	opts.TargetCache.Retrieve(res.CacheKey(), internal(opts), func(img *bitmap.Image, cacheType kingfisher.CacheType) {
		if img == nil {
			done(nil, cause, kingfisher.CacheTypeNone, u)
			return
		}
		done(img, nil, cacheType, u)
	})
}

func (m *Manager) logResult(task *RetrieveTask, opts Options, cacheType kingfisher.CacheType, err error) {
	entry := m.logger.WithFields(logrus.Fields{
		"action":     "retrieve",
		"task_id":    task.ID(),
		"key":        task.Resource().CacheKey(),
		"processor":  opts.ProcessorIdentifier(),
		"cache_type": cacheType.String(),
	})
	if err != nil {
		entry.WithError(err).Debug("retrieve failed")
		return
	}
	entry.Debug("retrieve finished")
}
