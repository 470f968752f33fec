// Package dispatch provides the execution contexts the image pipeline hops
// between: a serial queue that owns all filesystem work of one disk cache, a
// bounded concurrent queue for decoding and processing, and the caller-chosen
// callback queue results are delivered on.
package dispatch

// Queue 是可以异步执行闭包的执行上下文。
type Queue interface {
	Async(fn func())
}

// SafeAsync 在 q 上执行 fn；q 为 nil 时直接在当前 goroutine 执行。
func SafeAsync(q Queue, fn func()) {
	if fn == nil {
		return
	}
	if q == nil {
		fn()
		return
	}
	q.Async(fn)
}

type inlineQueue struct{}

func (inlineQueue) Async(fn func()) { fn() }

// Inline runs every closure synchronously on the submitting goroutine.
var Inline Queue = inlineQueue{}
