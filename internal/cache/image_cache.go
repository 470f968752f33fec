package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/host"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/notify"
)

const (
	// DidCleanDiskCache 在每次磁盘清理结束后广播，Info[CleanedHashesKey] 为被删除的哈希列表。
	DidCleanDiskCache notify.Name = "imagehub.cache.did_clean_disk_cache"
	CleanedHashesKey              = "cleaned_hashes"

	// DefaultMaxCachePeriod 是磁盘条目的默认存活期。
	DefaultMaxCachePeriod = 7 * 24 * time.Hour

	directoryPrefix = "imagehub.ImageCache."
)

// Config 描述一个具名缓存实例。
type Config struct {
	Name          string
	Path          string
	PathExtension string

	MaxMemoryCost  int64
	MaxMemoryCount int
	// MaxCachePeriod<=0 表示永不过期。
	MaxCachePeriod time.Duration
	// MaxDiskCacheSize<=0 表示不限容量。
	MaxDiskCacheSize int64

	ProcessQueue  dispatch.Queue
	Notifications *notify.Center
	Logger        *logrus.Logger
}

// StoreOptions 控制一次写入。
type StoreOptions struct {
	ProcessorID   string
	Serializer    bitmap.Serializer
	ToDisk        bool
	CallbackQueue dispatch.Queue
}

// ImageCache 组合内存与磁盘两级缓存。
type ImageCache struct {
	name   string
	memory *MemoryCache
	disk   *DiskStorage

	maxCachePeriod   time.Duration
	maxDiskCacheSize int64

	processQueue dispatch.Queue
	center       *notify.Center
	logger       *logrus.Logger

	sweeps    sync.WaitGroup
	observers []func()
	closeOnce sync.Once
}

func New(cfg Config) (*ImageCache, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("cache name %q must not contain path separators", name)
	}
	if cfg.Path == "" {
		return nil, errors.New("cache path required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	disk, err := NewDiskStorage(DiskConfig{
		Directory:     filepath.Join(cfg.Path, directoryPrefix+name),
		PathExtension: cfg.PathExtension,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	processQueue := cfg.ProcessQueue
	if processQueue == nil {
		processQueue = dispatch.NewConcurrentQueue("imagehub.cache.process."+name, 0)
	}
	c := &ImageCache{
		name:             name,
		memory:           NewMemoryCache(cfg.MaxMemoryCost, cfg.MaxMemoryCount),
		disk:             disk,
		maxCachePeriod:   cfg.MaxCachePeriod,
		maxDiskCacheSize: cfg.MaxDiskCacheSize,
		processQueue:     processQueue,
		center:           cfg.Notifications,
		logger:           logger,
	}
	if c.center != nil {
		c.observers = append(c.observers,
			c.center.Observe(host.MemoryWarning, func(notify.Notification) { c.ClearMemory() }),
			c.center.Observe(host.DidEnterBackground, func(notify.Notification) { c.BackgroundCleanExpiredDisk() }),
			c.center.Observe(host.WillTerminate, func(notify.Notification) { c.CleanExpiredDiskSync() }),
		)
	}
	return c, nil
}

func (c *ImageCache) Name() string { return c.name }

// Memory exposes the memory tier, mainly for status reporting.
func (c *ImageCache) Memory() *MemoryCache { return c.memory }

// Disk exposes the disk tier.
func (c *ImageCache) Disk() *DiskStorage { return c.disk }

// Store 同步写入内存；ToDisk 时在磁盘队列上序列化并落盘，completion 在落盘后回调。
func (c *ImageCache) Store(img *bitmap.Image, original []byte, key string, opts StoreOptions, completion func()) {
	if img == nil {
		dispatch.SafeAsync(opts.CallbackQueue, completion)
		return
	}
	computed := ComputedKey(key, opts.ProcessorID)
	c.memory.Store(computed, img, img.Cost())

	if !opts.ToDisk {
		dispatch.SafeAsync(opts.CallbackQueue, completion)
		return
	}
	serializer := opts.Serializer
	if serializer == nil {
		serializer = bitmap.DefaultSerializer{}
	}
	c.disk.queue.Async(func() {
		data, err := serializer.Data(img, original)
		if err == nil && len(data) > 0 {
			err = c.disk.writeLocked(data, computed)
		}
		if err != nil {
			// 落盘失败只影响磁盘层，内存中的条目仍然有效。
			c.logger.WithFields(logrus.Fields{
				"action": "cache_store",
				"cache":  c.name,
				"key":    computed,
			}).WithError(err).Warn("write disk cache failed")
		}
		dispatch.SafeAsync(c.offDiskQueue(opts.CallbackQueue), completion)
	})
}

// StoreToDisk 只把原始字节写入磁盘，不经过序列化也不进入内存。
func (c *ImageCache) StoreToDisk(data []byte, key, processorID string, completion func()) {
	computed := ComputedKey(key, processorID)
	c.disk.queue.Async(func() {
		if err := c.disk.writeLocked(data, computed); err != nil {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_store",
				"cache":  c.name,
				"key":    computed,
			}).WithError(err).Warn("write disk cache failed")
		}
		dispatch.SafeAsync(c.processQueue, completion)
	})
}

// offDiskQueue 保证在磁盘队列上产生的回调不会在磁盘队列上执行，
// 回调方因此可以同步调用本缓存的其他方法。
func (c *ImageCache) offDiskQueue(q dispatch.Queue) dispatch.Queue {
	if q == nil {
		return c.processQueue
	}
	return q
}

// Retrieve 先查内存，命中则立即回调；否则在磁盘队列上查找，命中后提升到内存。
// 两级都未命中时以 (nil, CacheTypeNone) 回调，这不是错误。
func (c *ImageCache) Retrieve(key string, opts kingfisher.Options, completion func(*bitmap.Image, kingfisher.CacheType)) *DiskTask {
	if completion == nil {
		return nil
	}
	computed := ComputedKey(key, opts.ProcessorIdentifier())
	if img, ok := c.memory.Fetch(computed); ok {
		dispatch.SafeAsync(opts.CallbackQueue, func() { completion(img, kingfisher.CacheTypeMemory) })
		return nil
	}

	task := &DiskTask{}
	deliver := func(img *bitmap.Image, cacheType kingfisher.CacheType) {
		if task.Cancelled() {
			return
		}
		dispatch.SafeAsync(c.offDiskQueue(opts.CallbackQueue), func() { completion(img, cacheType) })
	}
	c.disk.queue.Async(func() {
		if task.Cancelled() {
			return
		}
		img := c.diskImageLocked(computed, opts)
		if img == nil {
			deliver(nil, kingfisher.CacheTypeNone)
			return
		}
		if !opts.BackgroundDecode {
			c.memory.Store(computed, img, img.Cost())
			deliver(img, kingfisher.CacheTypeDisk)
			return
		}
		c.processQueue.Async(func() {
			decoded := img.Decoded()
			c.memory.Store(computed, decoded, decoded.Cost())
			deliver(decoded, kingfisher.CacheTypeDisk)
		})
	})
	return task
}

// RetrieveFromMemory 只查内存。
func (c *ImageCache) RetrieveFromMemory(key, processorID string) (*bitmap.Image, bool) {
	return c.memory.Fetch(ComputedKey(key, processorID))
}

// RetrieveFromDisk 同步查磁盘，不提升到内存。
func (c *ImageCache) RetrieveFromDisk(key string, opts kingfisher.Options) (img *bitmap.Image) {
	computed := ComputedKey(key, opts.ProcessorIdentifier())
	c.disk.queue.Sync(func() {
		img = c.diskImageLocked(computed, opts)
	})
	return img
}

// DiskData 返回磁盘上已序列化的字节，命中时刷新访问时间。
func (c *ImageCache) DiskData(key, processorID string) ([]byte, bool) {
	data, err := c.disk.Data(ComputedKey(key, processorID))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *ImageCache) diskImageLocked(computed string, opts kingfisher.Options) *bitmap.Image {
	data, err := c.disk.readLocked(computed)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_read",
				"cache":  c.name,
				"key":    computed,
			}).WithError(err).Warn("read disk cache failed")
		}
		return nil
	}
	img, err := opts.SerializerOrDefault().Image(data, opts.DecodeOptions())
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_read",
			"cache":  c.name,
			"key":    computed,
		}).WithError(err).Warn("deserialize disk cache failed")
		return nil
	}
	return img
}

// IsCached 返回条目所在的层级，内存优先。
func (c *ImageCache) IsCached(key, processorID string) kingfisher.CacheType {
	computed := ComputedKey(key, processorID)
	if c.memory.Contains(computed) {
		return kingfisher.CacheTypeMemory
	}
	if c.disk.Contains(computed) {
		return kingfisher.CacheTypeDisk
	}
	return kingfisher.CacheTypeNone
}

// Remove 从指定层级删除条目。
func (c *ImageCache) Remove(key, processorID string, fromMemory, fromDisk bool, completion func()) {
	computed := ComputedKey(key, processorID)
	if fromMemory {
		c.memory.Remove(computed)
	}
	if !fromDisk {
		dispatch.SafeAsync(nil, completion)
		return
	}
	c.disk.queue.Async(func() {
		if err := c.disk.removeLocked(computed); err != nil {
			c.logger.WithFields(logrus.Fields{"action": "cache_remove", "cache": c.name, "key": computed}).
				WithError(err).Warn("remove disk cache failed")
		}
		dispatch.SafeAsync(c.processQueue, completion)
	})
}

// ClearMemory 清空内存层。
func (c *ImageCache) ClearMemory() {
	c.memory.RemoveAll()
}

// ClearDisk 删除并重建磁盘目录。
func (c *ImageCache) ClearDisk(completion func()) {
	c.disk.queue.Async(func() {
		if err := c.disk.removeAllLocked(); err != nil {
			c.logger.WithFields(logrus.Fields{"action": "cache_clear", "cache": c.name}).
				WithError(err).Warn("clear disk cache failed")
		}
		dispatch.SafeAsync(c.processQueue, completion)
	})
}

// CleanExpiredDisk 异步清理磁盘，清理结束后广播通知并回调被删除的哈希。
func (c *ImageCache) CleanExpiredDisk(completion func(removed []string)) {
	c.sweeps.Add(1)
	c.disk.queue.Async(func() {
		removed := c.sweepLocked()
		c.processQueue.Async(func() {
			defer c.sweeps.Done()
			c.postCleaned(removed)
			if completion != nil {
				completion(removed)
			}
		})
	})
}

// CleanExpiredDiskSync 同步清理磁盘，用于进程退出前。
func (c *ImageCache) CleanExpiredDiskSync() []string {
	var removed []string
	c.disk.queue.Sync(func() {
		removed = c.sweepLocked()
	})
	c.postCleaned(removed)
	return removed
}

// BackgroundCleanExpiredDisk 发起一次不阻塞调用方的清理；Close 会等待它完成。
func (c *ImageCache) BackgroundCleanExpiredDisk() {
	c.CleanExpiredDisk(nil)
}

// WaitSweeps 阻塞到所有已发起的异步清理完成。
func (c *ImageCache) WaitSweeps() {
	c.sweeps.Wait()
}

func (c *ImageCache) sweepLocked() []string {
	start := time.Now()
	removed, err := c.disk.sweepLocked(c.maxCachePeriod, c.maxDiskCacheSize)
	fields := logrus.Fields{
		"action":  "disk_sweep",
		"cache":   c.name,
		"removed": len(removed),
		"elapsed": time.Since(start).String(),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("disk sweep failed")
		return removed
	}
	c.logger.WithFields(fields).Debug("disk sweep finished")
	return removed
}

func (c *ImageCache) postCleaned(removed []string) {
	if c.center == nil {
		return
	}
	c.center.Post(notify.Notification{
		Name:   DidCleanDiskCache,
		Sender: c,
		Info:   map[string]any{CleanedHashesKey: removed},
	})
}

// DiskSize 返回磁盘层占用的字节数。
func (c *ImageCache) DiskSize() (int64, error) {
	return c.disk.Size()
}

// CachePath 返回条目的磁盘路径。
func (c *ImageCache) CachePath(key, processorID string) string {
	return c.disk.Path(ComputedKey(key, processorID))
}

// HashFor 返回条目的磁盘文件哈希，与清理通知中的值一致。
func (c *ImageCache) HashFor(key, processorID string) string {
	return Hash(ComputedKey(key, processorID))
}

// Close 取消通知订阅，等待异步清理与磁盘队列排空。
func (c *ImageCache) Close() {
	c.closeOnce.Do(func() {
		for _, cancel := range c.observers {
			cancel()
		}
		c.WaitSweeps()
		c.disk.Close()
	})
}
