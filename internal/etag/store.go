// Package etag remembers the validators upstream servers hand out for image
// responses so later refreshes can be sent as conditional requests. It plugs
// into the downloader as a Delegate and forgets entries whose disk cache
// files were swept, since a 304 for an entry no longer on disk cannot be
// resolved.
package etag

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/notify"
)

// Store 以默认处理器下的缓存哈希为键保存 ETag。
type Store struct {
	downloader.NopDelegate

	entries sync.Map // key: cache hash, value: etag string
	aliases sync.Map // key: download URL, value: cache hash of a custom cache key
	logger  *logrus.Logger
	cancel  func()
}

// NewStore 创建 Store；center 非空时订阅磁盘清理通知。
func NewStore(center *notify.Center, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{logger: logger, cancel: func() {}}
	if center != nil {
		s.cancel = center.Observe(cache.DidCleanDiskCache, s.handleCleaned)
	}
	return s
}

// HashForURL 返回 URL 作为缓存键、未经处理时的磁盘哈希。
func HashForURL(u *url.URL) string {
	return HashForKey(u.String())
}

// HashForKey 返回缓存键在默认处理器下的磁盘哈希，与清理通知中的值一致。
func HashForKey(cacheKey string) string {
	return cache.Hash(cache.ComputedKey(cacheKey, ""))
}

// Track 记录下载地址使用的自定义缓存键，之后该地址的响应按缓存键哈希保存。
// 缓存键与 URL 相同时无需记录。
func (s *Store) Track(u *url.URL, cacheKey string) {
	if u == nil || cacheKey == "" || cacheKey == u.String() {
		return
	}
	s.aliases.Store(u.String(), HashForKey(cacheKey))
}

func (s *Store) hashFor(u *url.URL) string {
	if value, ok := s.aliases.Load(u.String()); ok {
		if hash, ok := value.(string); ok {
			return hash
		}
	}
	return HashForURL(u)
}

// DidReceiveResponse 记录 200 响应携带的 ETag。
func (s *Store) DidReceiveResponse(_ *downloader.Downloader, u *url.URL, resp *http.Response) {
	if u == nil || resp == nil || resp.StatusCode != http.StatusOK {
		return
	}
	etag := normalizeETag(resp.Header.Get("Etag"))
	if etag == "" {
		return
	}
	s.Remember(s.hashFor(u), etag)
}

func (s *Store) Remember(hash, etag string) {
	s.entries.Store(hash, etag)
}

func (s *Store) Lookup(hash string) (string, bool) {
	if value, ok := s.entries.Load(hash); ok {
		if etag, ok := value.(string); ok {
			return etag, true
		}
	}
	return "", false
}

func (s *Store) Forget(hash string) {
	s.entries.Delete(hash)
}

// Len returns the number of remembered validators.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Modifier 返回给请求附加 If-None-Match 的改写钩子；没有记录时返回 nil。
func (s *Store) Modifier(hash string) kingfisher.RequestModifier {
	etag, ok := s.Lookup(hash)
	if !ok {
		return nil
	}
	header := etag
	if !strings.HasPrefix(header, "W/") {
		header = fmt.Sprintf("%q", etag)
	}
	return func(req *http.Request) *http.Request {
		req.Header.Set("If-None-Match", header)
		return req
	}
}

// Close stops observing sweep notifications.
func (s *Store) Close() {
	s.cancel()
}

func (s *Store) handleCleaned(n notify.Notification) {
	hashes, _ := n.Info[cache.CleanedHashesKey].([]string)
	swept := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		s.Forget(hash)
		swept[hash] = struct{}{}
	}
	if len(swept) > 0 {
		s.aliases.Range(func(key, value any) bool {
			if hash, ok := value.(string); ok {
				if _, gone := swept[hash]; gone {
					s.aliases.Delete(key)
				}
			}
			return true
		})
	}
	if len(hashes) > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":    "etag_forget",
			"forgotten": len(hashes),
		}).Debug("dropped validators for swept entries")
	}
}

func normalizeETag(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "W/") {
		return value
	}
	return strings.Trim(value, "\"")
}
