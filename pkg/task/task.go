// pkg/task/task.go
package task

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DownloadTask 是一个下载请求，它将作为消息在 Redis Stream 中传递。
type DownloadTask struct {
	// 请求的唯一标识符，由投递方生成。
	ID uuid.UUID `json:"id"`

	// 要下载的文件的完整 URL。
	URL string `json:"url"`

	// 文件保存的目录，文件名由下载器根据 URL 决定。
	// 为空时使用 Worker 配置的 download_dir。
	Dir string `json:"dir,omitempty"`
}

// New 创建一个带新 ID 的下载请求
func New(url, dir string) *DownloadTask {
	return &DownloadTask{ID: uuid.New(), URL: url, Dir: dir}
}

// Encode 序列化为消息负载
func (t *DownloadTask) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("序列化任务失败: %w", err)
	}
	return string(b), nil
}

// Decode 解析消息负载
func Decode(payload string) (*DownloadTask, error) {
	var t DownloadTask
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, fmt.Errorf("无法解析任务 payload: %w", err)
	}
	if t.URL == "" {
		return nil, fmt.Errorf("任务 %s 缺少 URL", t.ID)
	}
	return &t, nil
}
