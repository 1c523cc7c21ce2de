// internal/downloader/http_transfer.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/state"
)

// Transferable 是任务的传输策略，目前只有 HTTP 一种实现
type Transferable interface {
	// Start 从任意可开始的状态阻塞执行一次传输
	Start()
	// StartFrom 只在任务仍处于 expected 状态时执行传输
	StartFrom(expected state.State)
	// Cancel 中断进行中的请求
	Cancel()
}

// inflight 是一次进行中的请求
type inflight struct {
	cancel context.CancelFunc
}

// HTTPTransfer 使用单个 Range 请求下载文件，临时文件的长度就是续传偏移
type HTTPTransfer struct {
	task *Task

	mu      sync.Mutex
	current *inflight
}

func newHTTPTransfer(t *Task) *HTTPTransfer {
	return &HTTPTransfer{task: t}
}

// Cancel 实现 Transferable 接口
func (h *HTTPTransfer) Cancel() {
	h.mu.Lock()
	cur := h.current
	h.current = nil
	h.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

func (h *HTTPTransfer) hold(in *inflight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = in
}

// release 取消并移除 in，只有它仍是当前请求时才清空
func (h *HTTPTransfer) release(in *inflight) {
	in.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == in {
		h.current = nil
	}
}

// Start 实现 Transferable 接口
func (h *HTTPTransfer) Start() {
	observed := h.task.sm.Load()
	if !state.CanStart(observed) {
		return
	}
	h.StartFrom(observed)
}

// StartFrom 实现 Transferable 接口。
// 调度器只从 Waiting 开始，排队后被暂停或取消的任务不会被启动。
func (h *HTTPTransfer) StartFrom(expected state.State) {
	t := h.task
	if t.ID() == 0 || !t.transition(expected, state.Downloading) {
		return
	}
	// 上一次传输可能还没有完全退出
	h.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	in := &inflight{cancel: cancel}
	h.hold(in)
	// CAS 和登记之间可能已经被取消
	if t.sm.Load() != state.Downloading {
		cancel()
	}

	path := t.Path()
	backup := BackupPath(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ 无法删除已存在的文件 %s: %v", path, err)
	}
	offset := fileSize(backup)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		h.failEarly(in, offset, ReasonConnect, err)
		return
	}
	for k, vs := range t.env.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := t.env.client.Do(req)
	if err != nil {
		h.failEarly(in, offset, ReasonConnect, err)
		return
	}
	if resp.Body == nil {
		h.failEarly(in, offset, ReasonServer, errors.New("响应没有消息体"))
		return
	}
	defer resp.Body.Close()

	cr, hasRange := parseContentRange(resp.Header.Get("Content-Range"))

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && hasRange && cr.total == offset {
		// 临时文件已经是完整内容
		h.complete(in, offset, offset)
		return
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && hasRange && cr.total >= 0 && offset > cr.total {
		// 临时文件比远端文件还长，无法续传，丢弃后下次从头开始
		h.settle(in, LoopResult{Outcome: Failed, Written: offset,
			Err: fmt.Errorf("临时文件长度 %d 超过远端文件大小 %d", offset, cr.total)}, cr.total)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.failEarly(in, offset, ReasonServer, fmt.Errorf("服务器返回了非预期的状态码: %s", resp.Status))
		return
	}

	partial := resp.StatusCode == http.StatusPartialContent
	if partial && hasRange && cr.start >= 0 && cr.start != offset {
		h.failEarly(in, offset, ReasonServer, fmt.Errorf("Content-Range 起点 %d 与偏移 %d 不一致", cr.start, offset))
		return
	}

	// 连接期间被暂停或取消时不能再动临时文件
	if t.sm.Load() != state.Downloading {
		h.failEarly(in, offset, ReasonConnect, errors.New("连接期间任务已被暂停或取消"))
		return
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !partial && offset > 0 {
		log.Printf("⚠️ 服务器不支持断点续传，任务 #%d 将从头开始下载", t.ID())
		flags |= os.O_TRUNC
		offset = 0
	}

	total := resolveTotal(resp, partial, offset, cr, hasRange)

	f, err := os.OpenFile(backup, flags, 0644)
	if err != nil {
		h.settle(in, LoopResult{Outcome: Failed, Written: offset, Err: err}, total)
		return
	}

	log.Printf("🚀 任务 #%d 开始下载 %s (偏移 %d, 总大小 %d)", t.ID(), t.url, offset, total)

	body := NewIdleTimeoutReader(resp.Body, t.env.readTimeout, cancel)
	res := copyLoop(ctx, body, f, total, offset, loopOptions{
		chunkSize: t.env.chunkSize,
		interval:  t.env.interval,
		limiter:   t.env.limiter,
		running:   func() bool { return t.sm.Load() == state.Downloading },
		progress:  t.emitProgress,
	})
	body.Stop()

	if err := f.Close(); err != nil && res.Outcome == Completed {
		res = LoopResult{Outcome: Failed, Written: res.Written, Err: fmt.Errorf("关闭文件失败: %w", err)}
	}
	if res.Outcome != Completed {
		h.settle(in, res, total)
		return
	}
	h.complete(in, res.Written, total)
}

// complete 将临时文件改名为最终文件并把任务置为 Finished
func (h *HTTPTransfer) complete(in *inflight, written, total int64) {
	t := h.task
	path := t.Path()
	if err := os.Rename(BackupPath(path), path); err != nil {
		h.settle(in, LoopResult{Outcome: Failed, Written: written, Err: err}, total)
		return
	}
	h.release(in)

	t.markFinished(time.Now())
	if !t.transition(state.Downloading, state.Finished) && !t.transition(state.Pausing, state.Finished) {
		return
	}
	if total < 0 {
		total = written
	}
	log.Printf("✅ 任务 #%d 下载完成: %s", t.ID(), path)
	t.emitProgress(written, total, NoValue, NoValue)
	t.emitFinished()
}

// settle 处理传输循环没有正常结束的情况。
// 正在暂停的任务保留已下载的字节；其余情况删除临时文件并进入 Error，已取消的任务不发出任何事件。
func (h *HTTPTransfer) settle(in *inflight, res LoopResult, total int64) {
	t := h.task
	if t.sm.Load() == state.Pausing {
		h.release(in)
		h.pause(res.Written, total)
		return
	}

	if err := os.Remove(BackupPath(t.Path())); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ 无法删除临时文件: %v", err)
	}
	h.release(in)
	if t.transition(state.Downloading, state.Error) {
		log.Printf("❌ 任务 #%d 下载失败: %v", t.ID(), res.Err)
		t.emitError(ReasonDownload)
	}
}

// failEarly 处理传输循环开始之前的失败，临时文件保持不变
func (h *HTTPTransfer) failEarly(in *inflight, offset int64, reason string, err error) {
	t := h.task
	h.release(in)
	if t.sm.Load() == state.Pausing {
		h.pause(offset, -1)
		return
	}
	if t.transition(state.Downloading, state.Error) {
		log.Printf("❌ 任务 #%d %s: %v", t.ID(), reason, err)
		t.emitError(reason)
	}
}

func (h *HTTPTransfer) pause(written, total int64) {
	t := h.task
	if t.transition(state.Pausing, state.Paused) {
		log.Printf("⏸️ 任务 #%d 已暂停，已下载 %d 字节", t.ID(), written)
		t.emitProgress(written, total, NoValue, NoValue)
	}
}

// contentRange 是解析后的 Content-Range，未知的部分为 -1
type contentRange struct {
	start, end, total int64
}

// parseContentRange 解析 "bytes 0-99/1000"、"bytes */1000" 和 "bytes 0-99/*"
func parseContentRange(v string) (contentRange, bool) {
	cr := contentRange{start: -1, end: -1, total: -1}
	v, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return cr, false
	}
	rng, size, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return cr, false
	}

	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return cr, false
		}
		cr.total = n
	}
	if rng != "*" {
		from, to, ok := strings.Cut(rng, "-")
		if !ok {
			return cr, false
		}
		s, err1 := strconv.ParseInt(from, 10, 64)
		e, err2 := strconv.ParseInt(to, 10, 64)
		if err1 != nil || err2 != nil || s < 0 || e < s {
			return cr, false
		}
		cr.start, cr.end = s, e
	}
	return cr, true
}

// resolveTotal 计算文件总大小，无法确定时返回 -1
func resolveTotal(resp *http.Response, partial bool, offset int64, cr contentRange, hasRange bool) int64 {
	switch {
	case partial && hasRange && cr.total >= 0:
		return cr.total
	case resp.ContentLength >= 0 && partial:
		return resp.ContentLength + offset
	case resp.ContentLength >= 0:
		return resp.ContentLength
	case hasRange && cr.total >= 0:
		return cr.total
	}
	return -1
}

var _ Transferable = (*HTTPTransfer)(nil)
