package dispatch

import "sync"

// SerialQueue 按提交顺序逐个执行闭包，同一时刻只有一个在运行。
type SerialQueue struct {
	label string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
	// tail 在关闭后串起迟到的任务：每个任务等前一个结束再运行。
	tail <-chan struct{}
}

// NewSerialQueue 创建队列并启动其工作 goroutine。
func NewSerialQueue(label string) *SerialQueue {
	q := &SerialQueue{
		label: label,
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.tail = q.done
	go q.run()
	return q
}

// Label returns the name the queue was created with.
func (q *SerialQueue) Label() string {
	return q.label
}

// Async 追加任务后立即返回。队列关闭后提交的任务仍按提交顺序逐个执行，
// 且在已排队任务全部结束之后才开始。
func (q *SerialQueue) Async(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		prev := q.tail
		next := make(chan struct{})
		q.tail = next
		q.mu.Unlock()
		go func() {
			defer close(next)
			<-prev
			fn()
		}()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// Sync 提交任务并等待其完成。不能在本队列的任务内部调用，否则会死锁。
func (q *SerialQueue) Sync(fn func()) {
	if fn == nil {
		return
	}
	finished := make(chan struct{})
	q.Async(func() {
		defer close(finished)
		fn()
	})
	<-finished
}

// Close 执行完已排队的任务后停止工作 goroutine。
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
