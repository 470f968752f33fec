package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定未通过 --config 传入时使用的配置路径。
const EnvConfigPath = "IMAGE_HUB_CONFIG"

// ResolvePath 依次使用显式路径、环境变量与默认的 config.toml。
func ResolvePath(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return "config.toml"
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

// 内存层默认有上限；配置中显式写 0 才表示不限制或关闭看门狗。
const (
	DefaultMaxMemoryCost      int64  = 256 << 20
	DefaultMemoryWarningBytes uint64 = 1 << 30
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheName", "default")
	v.SetDefault("DiskPathExtension", "")
	v.SetDefault("MaxMemoryCost", DefaultMaxMemoryCost)
	v.SetDefault("MaxMemoryCount", 0)
	v.SetDefault("DiskCacheTTL", "168h")
	v.SetDefault("MaxDiskCacheSize", 0)
	v.SetDefault("SweepInterval", 0)
	v.SetDefault("DownloadTimeout", "15s")
	v.SetDefault("HTTPPipelining", false)
	v.SetDefault("MaxConcurrentDownloads", 0)
	v.SetDefault("ProcessConcurrency", 0)
	v.SetDefault("ConditionalRequests", true)
	v.SetDefault("ScaleFactor", 1.0)
	v.SetDefault("MemoryWarningBytes", DefaultMemoryWarningBytes)
	v.SetDefault("MemoryWatchInterval", "10s")
	v.SetDefault("PrefetchConcurrency", 5)
}

// applyGlobalDefaults 只填补零值；DiskCacheTTL 为 0 表示永不过期，不在此处覆盖。
func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.CacheName) == "" {
		g.CacheName = "default"
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(15 * time.Second)
	}
	if g.MemoryWatchInterval.DurationValue() == 0 {
		g.MemoryWatchInterval = Duration(10 * time.Second)
	}
	if g.ScaleFactor == 0 {
		g.ScaleFactor = 1
	}
	if g.PrefetchConcurrency <= 0 {
		g.PrefetchConcurrency = 5
	}
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	for i, host := range g.TrustedHosts {
		g.TrustedHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
