package host

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/notify"
)

// Options 配置 Headless 宿主。零值表示关闭对应的定时器。
type Options struct {
	Scale               float64
	MemoryWarningBytes  uint64
	MemoryWatchInterval time.Duration
	BackgroundInterval  time.Duration
	Logger              *logrus.Logger
}

// Headless 以后台 goroutine 模拟移动端的生命周期事件：
// 堆内存超过阈值时发出内存警告，周期性发出“进入后台”，Stop 时发出“即将终止”。
type Headless struct {
	opts   Options
	main   *dispatch.SerialQueue
	center *notify.Center
	logger *logrus.Logger

	readHeap func() uint64

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewHeadless(opts Options) *Headless {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Headless{
		opts:     opts,
		main:     dispatch.NewSerialQueue("imagehub.main"),
		center:   notify.NewCenter(),
		logger:   logger,
		readHeap: heapAlloc,
		stop:     make(chan struct{}),
	}
}

func (h *Headless) DefaultScale() float64 { return h.opts.Scale }

func (h *Headless) MainQueue() dispatch.Queue { return h.main }

func (h *Headless) Notifications() *notify.Center { return h.center }

// Start 启动内存看门狗与后台清理定时器，重复调用无效。
func (h *Headless) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	if h.opts.MemoryWarningBytes > 0 && h.opts.MemoryWatchInterval > 0 {
		h.wg.Add(1)
		go h.watchMemory()
	}
	if h.opts.BackgroundInterval > 0 {
		h.wg.Add(1)
		go h.tickBackground()
	}
}

// Stop 停止定时器，同步广播 WillTerminate，然后排空主队列。
func (h *Headless) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	close(h.stop)
	h.mu.Unlock()

	h.wg.Wait()
	h.center.PostName(WillTerminate, h)
	h.main.Close()
}

// EnterBackground 立即广播进入后台。
func (h *Headless) EnterBackground() {
	h.center.PostName(DidEnterBackground, h)
}

func (h *Headless) watchMemory() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.MemoryWatchInterval)
	defer ticker.Stop()

	above := false
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			heap := h.readHeap()
			over := heap > h.opts.MemoryWarningBytes
			// 只在越过阈值的那一刻告警一次。
			if over && !above {
				h.logger.WithFields(logrus.Fields{
					"action":     "memory_warning",
					"heap_bytes": heap,
					"limit":      h.opts.MemoryWarningBytes,
				}).Warn("heap above limit")
				h.center.PostName(MemoryWarning, h)
			}
			above = over
		}
	}
}

func (h *Headless) tickBackground() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.BackgroundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.EnterBackground()
		}
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}
