// internal/record/record.go
package record

import (
	"context"
	"errors"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/state"
)

var (
	ErrNotFound  = errors.New("record: not found")
	ErrInvalidID = errors.New("record: store returned no usable id")
)

// Record 是任务的持久化元数据，与进行中的传输无关
type Record struct {
	ID         int64       `json:"id"`
	URL        string      `json:"url"`
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	State      state.State `json:"state"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Store 是记录的持久化契约，任何带主键的持久存储都可以实现它
type Store interface {
	// Insert 写入新记录并返回单调递增的 id
	Insert(ctx context.Context, r Record) (int64, error)
	Get(ctx context.Context, id int64) (Record, error)
	// UpdateState 更新状态，finishedAt 为 nil 时清空完成时间
	UpdateState(ctx context.Context, id int64, s state.State, finishedAt *time.Time) error
	// ListByState 按创建顺序返回处于任一给定状态的记录
	ListByState(ctx context.Context, states ...state.State) ([]Record, error)
	DeleteByState(ctx context.Context, s state.State) (int64, error)
	// Delete 删除一条记录，记录不存在时返回 ErrNotFound
	Delete(ctx context.Context, id int64) error
}
