// internal/observer/progress_bar.go
package observer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/dustin/go-humanize"
)

// ProgressBarObserver 是一个具体的观察者，用于显示终端进度条
type ProgressBarObserver struct {
	out      io.Writer
	barWidth int
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
	failed   string
	target   *downloader.Task
}

// NewProgressBarObserver 创建一个新的进度条观察者，out 为 nil 时输出到标准输出
func NewProgressBarObserver(out io.Writer) *ProgressBarObserver {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressBarObserver{
		out:      out,
		barWidth: 50, // 进度条在终端的显示宽度
		done:     make(chan struct{}),
	}
}

// Track 只显示 t 的事件，未调用时显示所有任务的事件
func (p *ProgressBarObserver) Track(t *downloader.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = t
}

func (p *ProgressBarObserver) ignored(t *downloader.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target != nil && p.target != t
}

// Done 在任务完成、失败或创建失败后关闭
func (p *ProgressBarObserver) Done() <-chan struct{} { return p.done }

// Failure 返回失败原因，成功时为空
func (p *ProgressBarObserver) Failure() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *ProgressBarObserver) OnTaskCreated(t *downloader.Task) {
	if p.ignored(t) {
		return
	}
	fmt.Fprintf(p.out, "⏬ 开始下载 %s -> %s\n", t.URL(), t.Path())
}

func (p *ProgressBarObserver) OnTaskCreateFail(err error) {
	p.finish(fmt.Sprintf("创建任务失败: %v", err))
}

func (p *ProgressBarObserver) OnError(t *downloader.Task, reason string) {
	if p.ignored(t) {
		return
	}
	fmt.Fprintln(p.out)
	p.finish(reason)
}

func (p *ProgressBarObserver) OnTaskFinished(t *downloader.Task) {
	if p.ignored(t) {
		return
	}
	fmt.Fprintf(p.out, "\n✅ 下载完成: %s\n", t.Path())
	p.finish("")
}

// OnProgressUpdate 在终端上绘制进度条，总大小未知时只显示已下载字节数
func (p *ProgressBarObserver) OnProgressUpdate(t *downloader.Task, written, total int64, speed, eta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target != nil && p.target != t {
		return
	}

	if total <= 0 {
		fmt.Fprintf(p.out, "\r%s %s", humanize.IBytes(uint64(max(written, 0))), speed)
		return
	}

	percent := min(float64(written)/float64(total), 1)
	filledWidth := int(percent * float64(p.barWidth))
	bar := strings.Repeat("=", filledWidth) + strings.Repeat(" ", p.barWidth-filledWidth)

	// 使用 \r 回到行首来刷新进度条，而不是每次都换行
	fmt.Fprintf(p.out, "\r[%s] %.2f%% (%s/%s) %s ETA %s",
		bar,
		percent*100,
		humanize.IBytes(uint64(written)),
		humanize.IBytes(uint64(total)),
		speed,
		eta,
	)
}

func (p *ProgressBarObserver) finish(reason string) {
	p.once.Do(func() {
		p.mu.Lock()
		p.failed = reason
		p.mu.Unlock()
		close(p.done)
	})
}
