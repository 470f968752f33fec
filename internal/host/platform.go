// Package host abstracts the process the loader runs in: the default display
// scale, the queue callbacks are delivered on by default, and the lifecycle
// notifications (memory warning, entering background, termination) the caches
// react to. Headless is the implementation used by the server binary.
package host

import (
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/notify"
)

const (
	// MemoryWarning 表示进程内存吃紧，内存缓存应全部清空。
	MemoryWarning notify.Name = "imagehub.host.memory_warning"
	// DidEnterBackground 触发一次后台磁盘清理。
	DidEnterBackground notify.Name = "imagehub.host.did_enter_background"
	// WillTerminate 在进程退出前同步触发一次磁盘清理。
	WillTerminate notify.Name = "imagehub.host.will_terminate"
)

// Platform 是缓存与管理器依赖的宿主能力。
// Start 开始产生生命周期事件；Stop 必须同步广播 WillTerminate 并排空主队列。
type Platform interface {
	DefaultScale() float64
	MainQueue() dispatch.Queue
	Notifications() *notify.Center
	Start()
	Stop()
}

// SimulateMemoryWarning 在宿主的通知中心立即广播内存警告。
func SimulateMemoryWarning(p Platform) {
	p.Notifications().PostName(MemoryWarning, p)
}

var _ Platform = (*Headless)(nil)
