// internal/record/view.go
package record

import "sync"

// View 是一个可观察的值：Get 返回最新快照，Subscribe 接收后续变更。
// 订阅通道只保留最新值，写入方永远不会被慢速的订阅者阻塞。
type View[T any] struct {
	mu      sync.Mutex
	value   T
	subs    map[chan T]struct{}
	closed  bool
	onClose func()
}

func newView[T any](initial T) *View[T] {
	return &View[T]{value: initial, subs: make(map[chan T]struct{})}
}

// Get 返回最新的值
func (v *View[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Subscribe 返回变更通道和取消函数
func (v *View[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
		})
	}
}

// Close 注销视图并关闭所有订阅通道
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	for ch := range v.subs {
		close(ch)
	}
	v.subs = nil
	onClose := v.onClose
	v.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (v *View[T]) publish(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.value = val
	for ch := range v.subs {
		// 丢弃尚未被读取的旧值，只保留最新值
		select {
		case <-ch:
		default:
		}
		ch <- val
	}
}
