package dispatch

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ConcurrentQueue 以固定宽度并发执行闭包，超出宽度的任务排队等待。
type ConcurrentQueue struct {
	label string
	width int64
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

// NewConcurrentQueue 创建并发队列；width<=0 时使用 CPU 核数。
func NewConcurrentQueue(label string, width int) *ConcurrentQueue {
	if width <= 0 {
		width = runtime.NumCPU()
	}
	return &ConcurrentQueue{
		label: label,
		width: int64(width),
		sem:   semaphore.NewWeighted(int64(width)),
	}
}

func (q *ConcurrentQueue) Label() string {
	return q.label
}

// Width reports how many closures may run at once.
func (q *ConcurrentQueue) Width() int {
	return int(q.width)
}

func (q *ConcurrentQueue) Async(fn func()) {
	if fn == nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		// Background 上下文不会被取消，Acquire 只会阻塞不会失败。
		_ = q.sem.Acquire(context.Background(), 1)
		defer q.sem.Release(1)
		fn()
	}()
}

// Wait 阻塞到所有已提交的任务完成。
func (q *ConcurrentQueue) Wait() {
	q.wg.Wait()
}
