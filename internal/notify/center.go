// Package notify is a small in-process notification center. Host lifecycle
// events (memory warnings, entering background, termination) and cache
// events (disk sweeps) are posted by name; observers subscribe by name and
// receive every notification posted after they subscribed.
package notify

import "sync"

// Name 标识一类通知。
type Name string

// Notification 是一次广播的内容。
type Notification struct {
	Name   Name
	Sender any
	Info   map[string]any
}

// Center 管理观察者并同步分发通知。
type Center struct {
	mu        sync.RWMutex
	seq       uint64
	observers map[Name]map[uint64]func(Notification)
}

func NewCenter() *Center {
	return &Center{observers: make(map[Name]map[uint64]func(Notification))}
}

// Observe 订阅指定名称的通知，返回的函数用于取消订阅，可重复调用。
func (c *Center) Observe(name Name, fn func(Notification)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.seq++
	id := c.seq
	if c.observers[name] == nil {
		c.observers[name] = make(map[uint64]func(Notification))
	}
	c.observers[name][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers[name], id)
			if len(c.observers[name]) == 0 {
				delete(c.observers, name)
			}
			c.mu.Unlock()
		})
	}
}

// Post 在调用方 goroutine 上依次调用观察者。观察者在锁外执行，可以再次 Post 或 Observe。
func (c *Center) Post(n Notification) {
	c.mu.RLock()
	targets := make([]func(Notification), 0, len(c.observers[n.Name]))
	for _, fn := range c.observers[n.Name] {
		targets = append(targets, fn)
	}
	c.mu.RUnlock()

	for _, fn := range targets {
		fn(n)
	}
}

// PostName posts a notification without payload.
func (c *Center) PostName(name Name, sender any) {
	c.Post(Notification{Name: name, Sender: sender})
}

// Observers reports how many observers are registered for name.
func (c *Center) Observers(name Name) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.observers[name])
}
