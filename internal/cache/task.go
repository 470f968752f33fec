package cache

import "sync/atomic"

// DiskTask 是一次磁盘检索的取消句柄。取消是协作式的：
// 尚未执行的磁盘查找会被跳过，且不会触发回调。
type DiskTask struct {
	cancelled atomic.Bool
}

// Cancel 可在 nil 句柄上调用（内存命中时 Retrieve 返回 nil）。
func (t *DiskTask) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
}

func (t *DiskTask) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
