// internal/downloader/task.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/executor"
	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
	"golang.org/x/time/rate"
)

// env 是同一个 Downloader 下所有任务共享的依赖
type env struct {
	gateway *record.Gateway
	exec    *executor.Executors
	// events 接收任务事件，只能在投递队列上调用
	events Listener

	client      *http.Client
	headers     http.Header
	chunkSize   int
	interval    time.Duration
	limiter     *rate.Limiter
	readTimeout time.Duration
}

// Task 是一个下载任务：一个 URL 对应本地目录里的一个文件
type Task struct {
	url string
	dir string
	sm  *state.Machine
	env *env

	transfer Transferable

	mu         sync.Mutex
	id         int64
	name       string
	path       string
	view       *record.View[record.Record]
	finishedAt *time.Time

	// persistMu 保证状态写入按顺序落库
	persistMu sync.Mutex
}

func newTask(e *env, rawURL, dir string) *Task {
	t := &Task{
		url: rawURL,
		dir: dir,
		sm:  state.NewMachine(state.Idle),
		env: e,
	}
	t.transfer = newHTTPTransfer(t)
	return t
}

// restoreTask 根据已持久化的记录重建任务，initial 是恢复后的状态
func restoreTask(ctx context.Context, e *env, rec record.Record, initial state.State) *Task {
	t := &Task{
		url:        rec.URL,
		dir:        filepath.Dir(rec.Path),
		sm:         state.NewMachine(initial),
		env:        e,
		id:         rec.ID,
		name:       rec.Name,
		path:       rec.Path,
		finishedAt: rec.FinishedAt,
	}
	t.transfer = newHTTPTransfer(t)

	view, err := e.gateway.QueryByID(ctx, rec.ID)
	if err != nil {
		log.Printf("⚠️ 无法订阅任务 #%d 的记录: %v", rec.ID, err)
	} else {
		t.view = view
	}
	return t
}

func (t *Task) ID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Task) URL() string { return t.url }
func (t *Task) Dir() string { return t.dir }

// Name 返回去重后的文件名，创建完成前为空
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Path 返回最终文件路径，创建完成前为空
func (t *Task) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func (t *Task) State() state.State { return t.sm.Load() }

// Record 返回任务记录的可观察视图，创建完成前返回 nil
func (t *Task) Record() *record.View[record.Record] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// CreateTask 为任务生成文件名并写入记录。只有 Idle 状态的任务会真正执行，
// 结果通过 OnTaskCreated / OnTaskCreateFail 在投递队列上通知。
func (t *Task) CreateTask() {
	if !t.sm.TryTransition(state.Idle, state.Pending) {
		return
	}
	t.env.exec.Disk(func() {
		err := t.create(context.Background())
		if err != nil {
			t.sm.ForceIdle()
			log.Printf("❌ 创建任务失败 %s: %v", t.url, err)
			t.env.exec.Deliver(func() { t.env.events.OnTaskCreateFail(err) })
			return
		}
		log.Printf("✅ 任务 #%d 已创建: %s", t.ID(), t.Path())
		t.env.exec.Deliver(func() { t.env.events.OnTaskCreated(t) })
	})
}

func (t *Task) create(ctx context.Context) error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("无法创建下载目录: %w", err)
	}
	name, err := reserveName(t.dir, DeriveName(t.url))
	if err != nil {
		return err
	}
	path := filepath.Join(t.dir, name)

	id, err := t.env.gateway.Insert(ctx, record.Record{
		URL:       t.url,
		Name:      name,
		Path:      path,
		State:     state.Pending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		_ = os.Remove(BackupPath(path))
		return err
	}

	view, err := t.env.gateway.QueryByID(ctx, id)
	if err != nil {
		log.Printf("⚠️ 无法订阅任务 #%d 的记录: %v", id, err)
	}

	t.mu.Lock()
	t.id, t.name, t.path, t.view = id, name, path, view
	t.mu.Unlock()

	// 创建期间被取消时，记录里的 Pending 需要被覆盖
	if t.sm.Load() != state.Pending {
		t.persist()
	}
	return nil
}

// Pause 请求暂停，只有 Downloading 状态的任务可以暂停，
// 传输循环会在下一个分块前看到 Pausing 并停下。
func (t *Task) Pause() bool {
	return t.transition(state.Downloading, state.Pausing)
}

// Cancel 将任务置为 Idle 并中断进行中的请求，Finished 的任务不受影响
func (t *Task) Cancel() {
	if _, ok := t.sm.ForceIdle(); !ok {
		return
	}
	t.transfer.Cancel()
	t.persist()
}

// Start 在当前协程上执行一次传输，直到完成、暂停或失败才返回
func (t *Task) Start() {
	t.transfer.Start()
}

func (t *Task) startFrom(expected state.State) {
	t.transfer.StartFrom(expected)
}

// transition 执行一次 CAS 迁移，成功后异步持久化
func (t *Task) transition(from, to state.State) bool {
	if !t.sm.TryTransition(from, to) {
		return false
	}
	t.persist()
	return true
}

// persist 在磁盘池上把当前状态写入记录。
// 每次写入都读取最新状态，多次迁移合并成最后一次写入也不会丢失结果。
func (t *Task) persist() {
	id := t.ID()
	if id == 0 {
		return
	}
	t.env.exec.Disk(func() {
		t.persistMu.Lock()
		defer t.persistMu.Unlock()

		s := t.sm.Load()
		var finishedAt *time.Time
		if s == state.Finished {
			t.mu.Lock()
			finishedAt = t.finishedAt
			t.mu.Unlock()
		}
		err := t.env.gateway.UpdateState(context.Background(), id, s, finishedAt)
		if errors.Is(err, record.ErrNotFound) {
			// 记录已被删除
			return
		}
		if err != nil {
			log.Printf("⚠️ 持久化任务 #%d 状态 %s 失败: %v", id, s, err)
		}
	})
}

func (t *Task) markFinished(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finishedAt == nil {
		t.finishedAt = &at
	}
}

func (t *Task) emitProgress(written, total int64, speed, eta string) {
	t.env.exec.Deliver(func() { t.env.events.OnProgressUpdate(t, written, total, speed, eta) })
}

func (t *Task) emitError(reason string) {
	t.env.exec.Deliver(func() { t.env.events.OnError(t, reason) })
}

func (t *Task) emitFinished() {
	t.env.exec.Deliver(func() {
		if fl, ok := t.env.events.(FinishListener); ok {
			fl.OnTaskFinished(t)
		}
	})
}

func (t *Task) closeView() {
	if v := t.Record(); v != nil {
		v.Close()
	}
}
