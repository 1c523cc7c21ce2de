// internal/uploader/listener.go
package uploader

import (
	"log"
	"os"
	"path"

	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/Slade66/resumable-fetcher/internal/executor"
)

// FinishUploader 在任务完成后把文件上传到对象存储。
// 上传在磁盘池上进行，不会阻塞投递队列。
type FinishUploader struct {
	up     Uploader
	exec   *executor.Executors
	prefix string
	// RemoveLocal 为 true 时上传成功后删除本地文件
	RemoveLocal bool
}

func NewFinishUploader(up Uploader, exec *executor.Executors, prefix string) *FinishUploader {
	return &FinishUploader{up: up, exec: exec, prefix: prefix}
}

func (f *FinishUploader) OnTaskCreated(*downloader.Task)                                  {}
func (f *FinishUploader) OnTaskCreateFail(error)                                          {}
func (f *FinishUploader) OnError(*downloader.Task, string)                                {}
func (f *FinishUploader) OnProgressUpdate(*downloader.Task, int64, int64, string, string) {}

// OnTaskFinished 实现 downloader.FinishListener 接口
func (f *FinishUploader) OnTaskFinished(t *downloader.Task) {
	key := path.Join(f.prefix, t.Name())
	file := t.Path()
	f.exec.Disk(func() {
		if err := f.up.UploadFile(key, file); err != nil {
			log.Printf("❌ 任务 #%d 上传失败: %v", t.ID(), err)
			return
		}
		if f.RemoveLocal {
			if err := os.Remove(file); err != nil {
				log.Printf("⚠️ 无法删除本地文件 %s: %v", file, err)
			}
		}
	})
}

var _ downloader.FinishListener = (*FinishUploader)(nil)
var _ downloader.Listener = (*FinishUploader)(nil)
