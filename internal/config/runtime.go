package config

import (
	"fmt"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/host"
	"github.com/any-hub/imagehub/internal/kingfisher"
)

// CacheConfig 将全局配置映射为 ImageCache 参数；队列、通知中心与 logger 由调用方补齐。
func (g GlobalConfig) CacheConfig() cache.Config {
	return cache.Config{
		Name:             g.CacheName,
		Path:             g.StoragePath,
		PathExtension:    g.DiskPathExtension,
		MaxMemoryCost:    g.MaxMemoryCost,
		MaxMemoryCount:   g.MaxMemoryCount,
		MaxCachePeriod:   g.DiskCacheTTL.DurationValue(),
		MaxDiskCacheSize: g.MaxDiskCacheSize,
	}
}

// DownloaderConfig 映射下载器的传输参数。
func (g GlobalConfig) DownloaderConfig() downloader.Config {
	return downloader.Config{
		Name:            g.CacheName,
		Timeout:         g.DownloadTimeout.DurationValue(),
		Pipelining:      g.HTTPPipelining,
		TrustedHosts:    append([]string(nil), g.TrustedHosts...),
		MaxConnsPerHost: g.MaxConcurrentDownloads,
	}
}

// HostOptions 映射宿主的内存水位与后台清理周期。
func (g GlobalConfig) HostOptions() host.Options {
	return host.Options{
		Scale:               g.ScaleFactor,
		MemoryWarningBytes:  g.MemoryWarningBytes,
		MemoryWatchInterval: g.MemoryWatchInterval.DurationValue(),
		BackgroundInterval:  g.SweepInterval.DurationValue(),
	}
}

// PrefetchResources 把 Prefetch 列表解析为资源（假定 Validate 已经通过）。
func (g GlobalConfig) PrefetchResources() ([]kingfisher.Resource, error) {
	out := make([]kingfisher.Resource, 0, len(g.Prefetch))
	for i, raw := range g.Prefetch {
		res, err := kingfisher.ParseResource(raw, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", indexField("Global.Prefetch", i), err)
		}
		out = append(out, res)
	}
	return out, nil
}
