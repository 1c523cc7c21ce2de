// internal/downloader/listener.go
package downloader

import "sync"

// 传给 OnError 的失败原因
const (
	ReasonConnect  = "cannot connect to server"
	ReasonServer   = "server error"
	ReasonDownload = "download error"
)

// NoValue 是尚未开始传输时速度和剩余时间的占位文本
const NoValue = "-"

// Listener 接收任务事件，所有方法都在串行投递队列上被调用，
// 同一时刻只会有一个回调在执行，不要在回调里做阻塞操作。
type Listener interface {
	OnTaskCreated(t *Task)
	OnTaskCreateFail(err error)
	OnError(t *Task, reason string)
	OnProgressUpdate(t *Task, written, total int64, speed, eta string)
}

// FinishListener 是可选接口，实现它的监听器会在文件落盘完成后收到通知
type FinishListener interface {
	OnTaskFinished(t *Task)
}

// observers 将事件转发给所有已注册的监听器
type observers struct {
	mu   sync.RWMutex
	list []Listener
}

func (o *observers) add(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, l)
}

func (o *observers) snapshot() []Listener {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Listener(nil), o.list...)
}

func (o *observers) OnTaskCreated(t *Task) {
	for _, l := range o.snapshot() {
		l.OnTaskCreated(t)
	}
}

func (o *observers) OnTaskCreateFail(err error) {
	for _, l := range o.snapshot() {
		l.OnTaskCreateFail(err)
	}
}

func (o *observers) OnError(t *Task, reason string) {
	for _, l := range o.snapshot() {
		l.OnError(t, reason)
	}
}

func (o *observers) OnProgressUpdate(t *Task, written, total int64, speed, eta string) {
	for _, l := range o.snapshot() {
		l.OnProgressUpdate(t, written, total, speed, eta)
	}
}

func (o *observers) OnTaskFinished(t *Task) {
	for _, l := range o.snapshot() {
		if fl, ok := l.(FinishListener); ok {
			fl.OnTaskFinished(t)
		}
	}
}
