// internal/executor/executor.go
package executor

import (
	"errors"
	"log"
	"runtime"
	"sync"
)

var (
	ErrRejected = errors.New("executor: compute queue is full")
	ErrClosed   = errors.New("executor: closed")
)

// Options 配置各个工作池的大小，零值表示使用默认值
type Options struct {
	// ComputeWorkers 默认为 max(NumCPU-1, 2)
	ComputeWorkers int
	// ComputeQueue 默认为 8
	ComputeQueue int
}

// Executors 是下载引擎的执行上下文：
// 磁盘池执行文件/数据库这类短任务，计算池大小有限，
// 投递队列保证所有监听器回调串行且按提交顺序执行。
type Executors struct {
	computeJobs chan func()
	computeWG   sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	closed   bool
	// draining 在磁盘任务和计算任务都结束后才置位，此前的回调仍会被投递
	draining bool
	drained  chan struct{}
	diskWG   sync.WaitGroup
	shutdown sync.Once
}

// New 创建执行上下文并启动计算池和投递协程
func New(opts Options) *Executors {
	if opts.ComputeWorkers <= 0 {
		opts.ComputeWorkers = max(runtime.NumCPU()-1, 2)
	}
	if opts.ComputeQueue <= 0 {
		opts.ComputeQueue = 8
	}

	e := &Executors{
		computeJobs: make(chan func(), opts.ComputeQueue),
		drained:     make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	for i := 0; i < opts.ComputeWorkers; i++ {
		e.computeWG.Add(1)
		go func() {
			defer e.computeWG.Done()
			for fn := range e.computeJobs {
				run("compute", fn)
			}
		}()
	}
	go e.deliverLoop()
	return e
}

// Disk 在新的协程上执行磁盘/数据库任务，数量不设上限
func (e *Executors) Disk(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		log.Printf("⚠️ 执行上下文已关闭，丢弃磁盘任务")
		return
	}
	e.diskWG.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.diskWG.Done()
		run("disk", fn)
	}()
}

// Compute 将任务提交给有界计算池，队列满时返回 ErrRejected
func (e *Executors) Compute(fn func()) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.computeJobs <- fn:
		return nil
	default:
		return ErrRejected
	}
}

// Deliver 将回调追加到串行投递队列，永不阻塞调用方
func (e *Executors) Deliver(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		log.Printf("⚠️ 执行上下文已关闭，丢弃回调")
		return
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
}

// Flush 阻塞直到调用前提交的所有回调都已执行完毕。
// 不能在投递协程内部调用，否则会死锁。
func (e *Executors) Flush() {
	done := make(chan struct{})
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		<-e.drained
		return
	}
	e.queue = append(e.queue, func() { close(done) })
	e.cond.Signal()
	e.mu.Unlock()
	<-done
}

// Close 停止接收新任务，等待磁盘任务结束，并排空投递队列
func (e *Executors) Close() {
	e.shutdown.Do(func() {
		// 先标记关闭，之后的 Disk 不会再 Add
		e.mu.Lock()
		e.closed = true
		close(e.computeJobs)
		e.mu.Unlock()

		e.diskWG.Wait()
		e.computeWG.Wait()

		e.mu.Lock()
		e.draining = true
		e.cond.Signal()
		e.mu.Unlock()
		<-e.drained
	})
}

func (e *Executors) deliverLoop() {
	defer close(e.drained)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.draining {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.draining {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		run("deliver", fn)
	}
}

// run 执行任务，监听器 panic 不应拖垮整个工作协程
func run(pool string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("‼️ %s 任务发生 panic: %v", pool, r)
		}
	}()
	fn()
}
