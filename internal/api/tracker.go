// internal/api/tracker.go
package api

import (
	"sync"

	"github.com/Slade66/resumable-fetcher/internal/downloader"
)

// Progress 是某个任务最近一次的进度
type Progress struct {
	Written int64  `json:"written"`
	Total   int64  `json:"total"`
	Speed   string `json:"speed"`
	ETA     string `json:"eta"`
	Error   string `json:"error,omitempty"`
}

// Tracker 记录每个任务最近一次的进度，供查询接口使用
type Tracker struct {
	mu   sync.RWMutex
	byID map[int64]Progress
}

func NewTracker() *Tracker {
	return &Tracker{byID: make(map[int64]Progress)}
}

func (t *Tracker) Get(id int64) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byID[id]
	return p, ok
}

func (t *Tracker) OnTaskCreated(task *downloader.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[task.ID()] = Progress{Speed: downloader.NoValue, ETA: downloader.NoValue}
}

func (t *Tracker) OnTaskCreateFail(error) {}

func (t *Tracker) OnError(task *downloader.Task, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.byID[task.ID()]
	p.Error = reason
	p.Speed, p.ETA = downloader.NoValue, downloader.NoValue
	t.byID[task.ID()] = p
}

func (t *Tracker) OnProgressUpdate(task *downloader.Task, written, total int64, speed, eta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[task.ID()] = Progress{Written: written, Total: total, Speed: speed, ETA: eta}
}
