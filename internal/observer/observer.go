// internal/observer/observer.go
package observer

import (
	"log"

	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/dustin/go-humanize"
)

// LogObserver 把任务事件写入日志，供没有终端的后台进程使用
type LogObserver struct {
	// Progress 为 false 时不记录进度事件
	Progress bool
}

func (LogObserver) OnTaskCreated(t *downloader.Task) {
	log.Printf("✅ 任务 #%d 已加入: %s", t.ID(), t.URL())
}

func (LogObserver) OnTaskCreateFail(err error) {
	log.Printf("❌ 任务创建失败: %v", err)
}

func (LogObserver) OnError(t *downloader.Task, reason string) {
	log.Printf("❌ 任务 #%d 失败 (%s): %s", t.ID(), reason, t.URL())
}

func (o LogObserver) OnProgressUpdate(t *downloader.Task, written, total int64, speed, eta string) {
	if !o.Progress {
		return
	}
	if total > 0 {
		log.Printf("任务 #%d: %s / %s, %s, 剩余 %s", t.ID(), humanize.IBytes(uint64(written)), humanize.IBytes(uint64(total)), speed, eta)
		return
	}
	log.Printf("任务 #%d: %s, %s", t.ID(), humanize.IBytes(uint64(max(written, 0))), speed)
}

func (LogObserver) OnTaskFinished(t *downloader.Task) {
	log.Printf("🎉 任务 #%d 下载完成: %s", t.ID(), t.Path())
}

var (
	_ downloader.Listener       = LogObserver{}
	_ downloader.FinishListener = LogObserver{}
	_ downloader.Listener       = (*ProgressBarObserver)(nil)
	_ downloader.FinishListener = (*ProgressBarObserver)(nil)
)
