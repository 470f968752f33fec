package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedLogLevels = map[string]struct{}{
	"":      {},
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
	"panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedLogLevels[strings.ToLower(g.LogLevel)]; !ok {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if strings.ContainsAny(g.CacheName, `/\`) {
		return newFieldError("Global.CacheName", "不允许包含路径分隔符")
	}
	if strings.ContainsAny(g.DiskPathExtension, `/\`) {
		return newFieldError("Global.DiskPathExtension", "不允许包含路径分隔符")
	}
	if g.MaxMemoryCost < 0 {
		return newFieldError("Global.MaxMemoryCost", "不能为负数")
	}
	if g.MaxMemoryCount < 0 {
		return newFieldError("Global.MaxMemoryCount", "不能为负数")
	}
	if g.MaxDiskCacheSize < 0 {
		return newFieldError("Global.MaxDiskCacheSize", "不能为负数")
	}
	if g.SweepInterval.DurationValue() < 0 {
		return newFieldError("Global.SweepInterval", "不能为负数")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}
	if g.MaxConcurrentDownloads < 0 {
		return newFieldError("Global.MaxConcurrentDownloads", "不能为负数")
	}
	if g.ProcessConcurrency < 0 {
		return newFieldError("Global.ProcessConcurrency", "不能为负数")
	}
	if g.ScaleFactor <= 0 {
		return newFieldError("Global.ScaleFactor", "必须大于 0")
	}
	if g.MemoryWatchInterval.DurationValue() < 0 {
		return newFieldError("Global.MemoryWatchInterval", "不能为负数")
	}
	if g.PrefetchConcurrency < 0 {
		return newFieldError("Global.PrefetchConcurrency", "不能为负数")
	}

	for i, host := range g.TrustedHosts {
		if err := validateDomain(host); err != nil {
			return fmt.Errorf("%s: %w", indexField("Global.TrustedHosts", i), err)
		}
	}
	for i, raw := range g.Prefetch {
		if err := validateUpstream(raw); err != nil {
			return fmt.Errorf("%s: %w", indexField("Global.Prefetch", i), err)
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.Contains(domain, "://") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少图片地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("地址缺少 Host: %s", raw)
	}
	return nil
}
