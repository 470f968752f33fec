package downloader

import (
	"context"
	"net/url"

	"github.com/any-hub/imagehub/internal/kingfisher"
)

type callbackEntry struct {
	id         uint64
	progress   ProgressFunc
	completion CompletionFunc
	options    kingfisher.Options
}

// fetchLoad 是同一 URL 的在途下载记录，字段只在 Downloader.mu 保护下修改。
// refs 统计仍在等待结果的调用方；降为 0 时传输被取消，记录在传输 goroutine
// 退出时从映射中移除，并关闭 done 通知等待中的新请求。
type fetchLoad struct {
	url       *url.URL
	key       string
	callbacks []*callbackEntry
	refs      int
	cancel    context.CancelFunc
	done      chan struct{}
}

func newFetchLoad(u *url.URL, key string) *fetchLoad {
	return &fetchLoad{
		url:  u,
		key:  key,
		done: make(chan struct{}),
	}
}

func (l *fetchLoad) attach(entry *callbackEntry) {
	l.callbacks = append(l.callbacks, entry)
}

// detach 摘除指定回调，未找到时返回 nil。
func (l *fetchLoad) detach(id uint64) *callbackEntry {
	for i, entry := range l.callbacks {
		if entry.id != id {
			continue
		}
		copy(l.callbacks[i:], l.callbacks[i+1:])
		l.callbacks[len(l.callbacks)-1] = nil
		l.callbacks = l.callbacks[:len(l.callbacks)-1]
		return entry
	}
	return nil
}
