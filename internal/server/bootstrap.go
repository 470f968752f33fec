package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/etag"
	"github.com/any-hub/imagehub/internal/host"
	"github.com/any-hub/imagehub/internal/manager"
)

// Registry 持有进程内共享的默认实例。调用方应在启动阶段创建一次并复用。
type Registry struct {
	Config     *config.Config
	Platform   host.Platform
	Cache      *cache.ImageCache
	Downloader *downloader.Downloader
	Manager    *manager.Manager
	// ETags 在 ConditionalRequests 关闭时为 nil。
	ETags *etag.Store

	process *dispatch.ConcurrentQueue
	logger  *logrus.Logger
}

// Bootstrap 以 Headless 宿主构建注册表。
func Bootstrap(cfg *config.Config, logger *logrus.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	hostOpts := cfg.Global.HostOptions()
	hostOpts.Logger = logger
	return BootstrapWithPlatform(cfg, host.NewHeadless(hostOpts), logger)
}

// BootstrapWithPlatform 按“宿主 → 缓存 → ETag → 下载器 → 管理器”的顺序构建注册表。
// 默认缩放、回调队列与生命周期通知全部取自 platform。
func BootstrapWithPlatform(cfg *config.Config, platform host.Platform, logger *logrus.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	g := cfg.Global

	process := dispatch.NewConcurrentQueue("imagehub.process", g.ProcessConcurrency)

	cacheCfg := g.CacheConfig()
	cacheCfg.ProcessQueue = process
	cacheCfg.Notifications = platform.Notifications()
	cacheCfg.Logger = logger
	imageCache, err := cache.New(cacheCfg)
	if err != nil {
		platform.Stop()
		return nil, fmt.Errorf("初始化图片缓存失败: %w", err)
	}

	var etags *etag.Store
	dlCfg := g.DownloaderConfig()
	dlCfg.ProcessQueue = process
	dlCfg.Logger = logger
	if g.ConditionalRequests {
		etags = etag.NewStore(platform.Notifications(), logger)
		dlCfg.Delegate = etags
	}
	dl := downloader.New(dlCfg)

	mgr, err := manager.New(manager.Config{
		Cache:         imageCache,
		Downloader:    dl,
		CallbackQueue: platform.MainQueue(),
		ProcessQueue:  process,
		ScaleFactor:   platform.DefaultScale(),
		Logger:        logger,
	})
	if err != nil {
		imageCache.Close()
		platform.Stop()
		return nil, err
	}

	return &Registry{
		Config:     cfg,
		Platform:   platform,
		Cache:      imageCache,
		Downloader: dl,
		Manager:    mgr,
		ETags:      etags,
		process:    process,
		logger:     logger,
	}, nil
}

// Start 启动宿主的内存看门狗与后台清理定时器。
func (r *Registry) Start() {
	r.Platform.Start()
}

// Close 取消在途下载，广播 WillTerminate（触发一次同步过期清理），最后关闭缓存。
func (r *Registry) Close() {
	r.Downloader.CancelAll()
	r.Platform.Stop()
	r.process.Wait()
	if r.ETags != nil {
		r.ETags.Close()
	}
	r.Cache.Close()
	r.logger.WithField("action", "shutdown").Info("registry closed")
}
