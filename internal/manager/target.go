package manager

import (
	"net/url"
	"sync"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/kingfisher"
)

// Target 是绑定层为单个展示位持有的状态。每次 SetImage 都会取消上一次请求，
// 并丢弃晚到的旧结果，保证展示位只会收到最近一次请求的结果。
type Target struct {
	manager *Manager

	mu         sync.Mutex
	generation uint64
	resource   kingfisher.Resource
	task       *RetrieveTask
	image      *bitmap.Image
}

func NewTarget(m *Manager) *Target {
	return &Target{manager: m}
}

// SetImage 为展示位发起新请求。completion 只会收到仍然是最新请求的结果。
func (t *Target) SetImage(res kingfisher.Resource, opts Options, completion CompletionFunc) *RetrieveTask {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	previous := t.task
	t.task = nil
	t.resource = res
	if res.IsZero() {
		t.image = nil
	}
	t.mu.Unlock()

	previous.Cancel()

	task := t.manager.RetrieveImage(res, opts, nil, func(img *bitmap.Image, err error, cacheType kingfisher.CacheType, u *url.URL) {
		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			return
		}
		t.task = nil
		if err == nil && img != nil {
			t.image = img
		}
		t.mu.Unlock()
		if completion != nil {
			completion(img, err, cacheType, u)
		}
	})

	t.mu.Lock()
	if t.generation == gen && t.resource.Equal(res) {
		t.task = task
	}
	t.mu.Unlock()
	return task
}

// Cancel 取消当前请求，之后到达的结果都会被丢弃。
func (t *Target) Cancel() {
	t.mu.Lock()
	t.generation++
	task := t.task
	t.task = nil
	t.mu.Unlock()
	task.Cancel()
}

// Image 返回最近一次成功展示的位图。
func (t *Target) Image() *bitmap.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image
}

// Resource 返回最近一次请求的资源。
func (t *Target) Resource() kingfisher.Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resource
}
