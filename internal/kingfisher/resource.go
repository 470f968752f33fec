package kingfisher

import (
	"errors"
	"net/url"
	"strings"
)

// Resource 描述一张图片的身份：下载地址 + 缓存键。构造后不可修改，
// 缓存层按 CacheKey 寻址，下载层按 DownloadURL 去重。
type Resource struct {
	cacheKey    string
	downloadURL url.URL
	valid       bool
}

// NewResource 创建 Resource；cacheKey 为空时退回 URL 的完整字符串。
func NewResource(downloadURL *url.URL, cacheKey string) Resource {
	if downloadURL == nil {
		return Resource{}
	}
	if cacheKey == "" {
		cacheKey = downloadURL.String()
	}
	return Resource{
		cacheKey:    cacheKey,
		downloadURL: *downloadURL,
		valid:       true,
	}
}

// ParseResource 解析原始地址，只接受带 Host 的 http/https URL。
func ParseResource(raw, cacheKey string) (Resource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resource{}, errors.New("resource url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Resource{}, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Resource{}, errors.New("resource url must be http or https")
	}
	if parsed.Host == "" {
		return Resource{}, errors.New("resource url has no host")
	}
	return NewResource(parsed, cacheKey), nil
}

// CacheKey 返回缓存键（未附加处理器后缀）。
func (r Resource) CacheKey() string {
	return r.cacheKey
}

// DownloadURL 返回下载地址的副本，调用方修改不会影响 Resource 本身。
func (r Resource) DownloadURL() *url.URL {
	if !r.valid {
		return nil
	}
	u := r.downloadURL
	return &u
}

// IsZero 表示这是一个空请求（对应“nil resource”）。
func (r Resource) IsZero() bool {
	return !r.valid
}

// Equal 比较两个 Resource 是否指向同一身份，供 UI 绑定层丢弃过期结果。
func (r Resource) Equal(other Resource) bool {
	if r.valid != other.valid {
		return false
	}
	return r.cacheKey == other.cacheKey && r.downloadURL.String() == other.downloadURL.String()
}

func (r Resource) String() string {
	if !r.valid {
		return "<nil resource>"
	}
	return r.downloadURL.String()
}
