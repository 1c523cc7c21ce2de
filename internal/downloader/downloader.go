// internal/downloader/downloader.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/client"
	"github.com/Slade66/resumable-fetcher/internal/executor"
	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
)

// DefaultMaxRunning 是同时进行的传输数量上限的默认值
const DefaultMaxRunning = 4

var (
	ErrUnsupportedURL = errors.New("downloader: only http and https URLs are supported")
	ErrUnknownTask    = errors.New("downloader: unknown task")
	ErrClosed         = errors.New("downloader: closed")
)

// Options 配置 Downloader，Gateway 必填，其余字段为零值时使用默认值
type Options struct {
	Gateway *record.Gateway
	// Executors 为空时 Downloader 自己创建，并在 Close 时关闭
	Executors *executor.Executors
	Client    *http.Client

	MaxRunning int
	ChunkSize  int
	// SpeedLimit 是所有任务共享的字节/秒上限，0 表示不限速
	SpeedLimit       int64
	ProgressInterval time.Duration
	// ReadTimeout 是两次读到数据之间允许的最长间隔，0 表示不限制
	ReadTimeout time.Duration
	Headers     http.Header
	// ManualStart 为 true 时新建的任务不会自动开始
	ManualStart bool
}

// Downloader 管理一组任务：创建、排队、限制并发数量、暂停/恢复以及从记录中恢复
type Downloader struct {
	env       *env
	ownsExec  bool
	manual    bool
	observers observers

	mu         sync.Mutex
	tasks      map[int64]*Task
	waiting    []*Task
	running    map[*Task]struct{}
	// stopped 在任务离开 running 时广播
	stopped    *sync.Cond
	maxRunning int
	closed     bool
	wg         sync.WaitGroup
}

// New 创建 Downloader
func New(opts Options) (*Downloader, error) {
	if opts.Gateway == nil {
		return nil, errors.New("downloader: gateway is required")
	}
	d := &Downloader{
		manual:     opts.ManualStart,
		tasks:      make(map[int64]*Task),
		running:    make(map[*Task]struct{}),
		maxRunning: opts.MaxRunning,
	}
	d.stopped = sync.NewCond(&d.mu)
	if d.maxRunning <= 0 {
		d.maxRunning = DefaultMaxRunning
	}

	exec := opts.Executors
	if exec == nil {
		exec = executor.New(executor.Options{})
		d.ownsExec = true
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = client.GetClient()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	d.env = &env{
		gateway:     opts.Gateway,
		exec:        exec,
		events:      hooks{d},
		client:      httpClient,
		headers:     opts.Headers.Clone(),
		chunkSize:   chunk,
		interval:    opts.ProgressInterval,
		limiter:     newLimiter(opts.SpeedLimit, chunk),
		readTimeout: opts.ReadTimeout,
	}
	return d, nil
}

// AddObserver 注册监听器，所有事件都会在投递队列上转发给每个监听器
func (d *Downloader) AddObserver(l Listener) {
	d.observers.add(l)
}

// Executors 返回 Downloader 使用的执行上下文
func (d *Downloader) Executors() *executor.Executors { return d.env.exec }

// Submit 为 rawURL 创建一个下载到 dir 的任务。创建是异步的，
// 结果通过 OnTaskCreated / OnTaskCreateFail 通知；创建成功的任务会自动排队。
func (d *Downloader) Submit(rawURL, dir string) (*Task, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("无效的 URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedURL
	}
	if d.isClosed() {
		return nil, ErrClosed
	}
	t := newTask(d.env, rawURL, dir)
	t.CreateTask()
	return t, nil
}

// Task 按 id 查找任务
func (d *Downloader) Task(id int64) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	return t, ok
}

// Tasks 按 id 顺序返回所有已创建的任务
func (d *Downloader) Tasks() []*Task {
	d.mu.Lock()
	list := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		list = append(list, t)
	}
	d.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// Start 让任务重新排队，任务不可开始时返回错误
func (d *Downloader) Start(id int64) error {
	t, ok := d.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if !state.CanStart(t.State()) {
		return fmt.Errorf("任务 #%d 处于 %s 状态，无法开始", id, t.State())
	}
	d.enqueue(t)
	return nil
}

// Pause 暂停正在下载的任务，或者把排队中的任务直接置为 Paused
func (d *Downloader) Pause(id int64) error {
	t, ok := d.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if !d.pause(t) {
		return fmt.Errorf("任务 #%d 处于 %s 状态，无法暂停", id, t.State())
	}
	return nil
}

func (d *Downloader) pause(t *Task) bool {
	return t.Pause() || t.transition(state.Waiting, state.Paused)
}

// Cancel 取消任务，已完成的任务不受影响
func (d *Downloader) Cancel(id int64) error {
	t, ok := d.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	t.Cancel()
	return nil
}

// Restart 丢弃已下载的部分并从头下载，进行中的传输会先被中断
func (d *Downloader) Restart(id int64) error {
	t, ok := d.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if s := t.State(); s == state.Idle || s == state.Finished {
		return fmt.Errorf("任务 #%d 处于 %s 状态，无法重新下载", id, s)
	}
	d.pause(t)
	t.transfer.Cancel()
	d.waitStopped(t)
	if t.State() == state.Finished {
		return fmt.Errorf("任务 #%d 已经下载完成", id)
	}

	// 清空而不是删除，临时文件同时占用着文件名
	if err := os.Truncate(BackupPath(t.Path()), 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("无法清空临时文件: %w", err)
	}
	log.Printf("🔄 任务 #%d 将从头重新下载", id)
	d.enqueue(t)
	return nil
}

// Delete 删除任务和它的记录，deleteFile 为 true 时同时删除已下载完成的文件。
// 未完成的临时文件总是会被删除。
func (d *Downloader) Delete(ctx context.Context, id int64, deleteFile bool) error {
	var path string
	t, known := d.Task(id)
	if known {
		t.Cancel()
		d.waitStopped(t)
		d.forget(t)
		t.closeView()
		path = t.Path()
	}

	rec, err := d.env.gateway.Get(ctx, id)
	switch {
	case errors.Is(err, record.ErrNotFound):
		if !known {
			return ErrUnknownTask
		}
	case err != nil:
		return fmt.Errorf("读取任务 #%d 的记录失败: %w", id, err)
	default:
		path = rec.Path
		if err := d.env.gateway.Delete(ctx, id); err != nil && !errors.Is(err, record.ErrNotFound) {
			return err
		}
	}

	if path != "" {
		removeIfExists(BackupPath(path))
		if deleteFile {
			removeIfExists(path)
		}
	}
	log.Printf("🗑️ 任务 #%d 已删除", id)
	return nil
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ 无法删除文件 %s: %v", path, err)
	}
}

// StartAll 让所有可开始的任务重新排队
func (d *Downloader) StartAll() {
	d.compute(func() {
		for _, t := range d.Tasks() {
			if state.CanStart(t.State()) {
				d.enqueue(t)
			}
		}
	})
}

// PauseAll 暂停所有正在下载或排队中的任务
func (d *Downloader) PauseAll() {
	d.compute(d.pauseAll)
}

func (d *Downloader) pauseAll() {
	for _, t := range d.Tasks() {
		d.pause(t)
	}
}

// compute 优先在计算池上执行，池满时在当前协程执行
func (d *Downloader) compute(fn func()) {
	if err := d.env.exec.Compute(fn); err != nil {
		fn()
	}
}

// SetMaxRunning 调整并发上限，立即生效
func (d *Downloader) SetMaxRunning(n int) {
	if n < 1 {
		n = 1
	}
	d.mu.Lock()
	d.maxRunning = n
	d.mu.Unlock()
	d.schedule()
}

// SetSpeedLimit 调整共享的限速，0 表示不限速
func (d *Downloader) SetSpeedLimit(bytesPerSec int64) {
	setLimit(d.env.limiter, bytesPerSec, d.env.chunkSize)
}

// Recover 从记录中重建未完成的任务：
// 排队或下载中的任务重新排队，暂停中的任务保持暂停，失败的任务保持失败。
func (d *Downloader) Recover(ctx context.Context) ([]*Task, error) {
	records, err := d.env.gateway.ListByState(ctx,
		state.Pending, state.Waiting, state.Downloading, state.Pausing, state.Paused, state.Error)
	if err != nil {
		return nil, fmt.Errorf("读取待恢复的任务失败: %w", err)
	}

	var restored []*Task
	for _, rec := range records {
		if _, ok := d.Task(rec.ID); ok {
			continue
		}
		initial := recoveredState(rec.State)
		t := restoreTask(ctx, d.env, rec, initial)
		if initial != rec.State {
			t.persist()
		}
		d.register(t)
		restored = append(restored, t)
		if initial == state.Waiting {
			d.enqueue(t)
		}
	}
	if len(restored) > 0 {
		log.Printf("✅ 已从记录中恢复 %d 个任务", len(restored))
	}
	return restored, nil
}

func recoveredState(s state.State) state.State {
	switch s {
	case state.Pending, state.Waiting, state.Downloading:
		return state.Waiting
	case state.Pausing, state.Paused:
		return state.Paused
	}
	return s
}

// Close 暂停所有任务并等待传输退出，然后排空投递队列
func (d *Downloader) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pauseAll()
	d.mu.Lock()
	for t := range d.running {
		// 中断阻塞中的读取，任务仍会以 Paused 结束并保留已下载的字节
		t.transfer.Cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.env.exec.Flush()
	for _, t := range d.Tasks() {
		t.closeView()
	}
	if d.ownsExec {
		d.env.exec.Close()
	}
}

func (d *Downloader) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Downloader) register(t *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[t.ID()] = t
}

// enqueue 把可开始的任务置为 Waiting 并放入 FIFO 队列
func (d *Downloader) enqueue(t *Task) {
	s := t.State()
	if s != state.Waiting && (!state.CanStart(s) || !t.transition(s, state.Waiting)) {
		return
	}
	d.mu.Lock()
	d.push(t)
	d.mu.Unlock()
	d.schedule()
}

// waitStopped 等待任务的传输协程退出
func (d *Downloader) waitStopped(t *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if _, ok := d.running[t]; !ok {
			return
		}
		d.stopped.Wait()
	}
}

// forget 把任务从 Downloader 中移除
func (d *Downloader) forget(t *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tasks, t.ID())
	d.waiting = slices.DeleteFunc(d.waiting, func(w *Task) bool { return w == t })
}

// push 需要持有 d.mu
func (d *Downloader) push(t *Task) {
	for _, w := range d.waiting {
		if w == t {
			return
		}
	}
	d.waiting = append(d.waiting, t)
}

// schedule 在并发上限内启动排队中的任务
func (d *Downloader) schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.closed && len(d.running) < d.maxRunning && len(d.waiting) > 0 {
		t := d.waiting[0]
		d.waiting[0] = nil
		d.waiting = d.waiting[1:]
		if t.State() != state.Waiting {
			// 排队期间被暂停或取消
			continue
		}
		if _, ok := d.running[t]; ok {
			// 上一次传输还没退出，由 run 重新放回队列
			continue
		}
		d.running[t] = struct{}{}
		d.wg.Add(1)
		go d.run(t)
	}
}

func (d *Downloader) run(t *Task) {
	defer d.wg.Done()
	t.startFrom(state.Waiting)

	d.mu.Lock()
	delete(d.running, t)
	d.stopped.Broadcast()
	if t.State() == state.Waiting {
		d.push(t)
	}
	d.mu.Unlock()
	d.schedule()
}

// hooks 在事件转发给外部监听器之前维护 Downloader 自己的状态
type hooks struct {
	d *Downloader
}

func (h hooks) OnTaskCreated(t *Task) {
	h.d.register(t)
	h.d.observers.OnTaskCreated(t)
	if !h.d.manual {
		h.d.enqueue(t)
	}
}

func (h hooks) OnTaskCreateFail(err error) {
	h.d.observers.OnTaskCreateFail(err)
}

func (h hooks) OnError(t *Task, reason string) {
	h.d.observers.OnError(t, reason)
}

func (h hooks) OnProgressUpdate(t *Task, written, total int64, speed, eta string) {
	h.d.observers.OnProgressUpdate(t, written, total, speed, eta)
}

func (h hooks) OnTaskFinished(t *Task) {
	h.d.observers.OnTaskFinished(t)
}
