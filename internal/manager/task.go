package manager

import (
	"sync"

	"github.com/google/uuid"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/kingfisher"
)

// RetrieveTask 是一次检索的取消句柄。下载尚未开始时取消会打上
// “开始前已取消”标记，之后的下载尝试会立即以取消错误结束；
// 下载开始后取消只摘除本次请求，不影响共享同一传输的其他调用方。
type RetrieveTask struct {
	id       string
	resource kingfisher.Resource

	mu                   sync.Mutex
	cancelledBeforeStart bool
	diskTask             *cache.DiskTask
	downloadTask         *downloader.DownloadTask
}

func newRetrieveTask(res kingfisher.Resource) *RetrieveTask {
	return &RetrieveTask{id: uuid.NewString(), resource: res}
}

// ID 用于日志关联。
func (t *RetrieveTask) ID() string { return t.id }

// Resource 返回任务所请求的资源，供绑定层比对并丢弃过期结果。
func (t *RetrieveTask) Resource() kingfisher.Resource { return t.resource }

// CancelledBeforeStart 实现 downloader.StartGate。
func (t *RetrieveTask) CancelledBeforeStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelledBeforeStart
}

// Cancel 可重复调用，也可在 nil 句柄上调用。
func (t *RetrieveTask) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	disk := t.diskTask
	download := t.downloadTask
	if download == nil {
		t.cancelledBeforeStart = true
	}
	t.mu.Unlock()

	disk.Cancel()
	download.Cancel()
}

func (t *RetrieveTask) setDiskTask(dt *cache.DiskTask) {
	if dt == nil {
		return
	}
	t.mu.Lock()
	t.diskTask = dt
	cancelled := t.cancelledBeforeStart
	t.mu.Unlock()
	if cancelled {
		dt.Cancel()
	}
}

// setDownloadTask 处理“检查通过之后、句柄登记之前”被取消的窗口。
func (t *RetrieveTask) setDownloadTask(dt *downloader.DownloadTask) {
	if dt == nil {
		return
	}
	t.mu.Lock()
	t.downloadTask = dt
	cancelled := t.cancelledBeforeStart
	t.mu.Unlock()
	if cancelled {
		dt.Cancel()
	}
}
