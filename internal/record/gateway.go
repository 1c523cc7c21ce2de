// internal/record/gateway.go
package record

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/state"
)

// Gateway 包装一个 Store，并为界面层提供可观察的只读视图
type Gateway struct {
	store Store

	mu      sync.Mutex
	byID    map[int64]map[*View[Record]]struct{}
	byState map[state.State]map[*View[[]Record]]struct{}
}

// NewGateway 创建记录网关
func NewGateway(store Store) *Gateway {
	return &Gateway{
		store:   store,
		byID:    make(map[int64]map[*View[Record]]struct{}),
		byState: make(map[state.State]map[*View[[]Record]]struct{}),
	}
}

// Insert 写入新记录，id 不可用时返回 ErrInvalidID
func (g *Gateway) Insert(ctx context.Context, r Record) (int64, error) {
	id, err := g.store.Insert(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("插入记录失败: %w", err)
	}
	if id <= 0 {
		return 0, ErrInvalidID
	}
	g.refreshState(ctx, r.State)
	return id, nil
}

// Get 读取一条记录的快照
func (g *Gateway) Get(ctx context.Context, id int64) (Record, error) {
	return g.store.Get(ctx, id)
}

// ListByState 读取处于给定状态的记录快照
func (g *Gateway) ListByState(ctx context.Context, states ...state.State) ([]Record, error) {
	return g.store.ListByState(ctx, states...)
}

// UpdateState 写入新状态并刷新所有可能受影响的视图
func (g *Gateway) UpdateState(ctx context.Context, id int64, s state.State, finishedAt *time.Time) error {
	var old state.State
	prev, err := g.store.Get(ctx, id)
	if err == nil {
		old = prev.State
	}
	if err := g.store.UpdateState(ctx, id, s, finishedAt); err != nil {
		return fmt.Errorf("更新记录 %d 状态失败: %w", id, err)
	}
	g.refreshID(ctx, id)
	g.refreshState(ctx, s)
	if old != s {
		g.refreshState(ctx, old)
	}
	return nil
}

// DeleteByState 删除处于给定状态的全部记录（例如"清空已完成"）
func (g *Gateway) DeleteByState(ctx context.Context, s state.State) (int64, error) {
	doomed, err := g.store.ListByState(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("按状态删除记录失败: %w", err)
	}
	n, err := g.store.DeleteByState(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("按状态删除记录失败: %w", err)
	}
	for _, r := range doomed {
		g.closeID(r.ID)
	}
	g.refreshState(ctx, s)
	return n, nil
}

// Delete 删除一条记录，并关闭它的单条视图
func (g *Gateway) Delete(ctx context.Context, id int64) error {
	prev, err := g.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("删除记录 %d 失败: %w", id, err)
	}
	g.closeID(id)
	g.refreshState(ctx, prev.State)
	return nil
}

// QueryByID 返回一条记录的可观察视图，使用完毕后需调用 Close
func (g *Gateway) QueryByID(ctx context.Context, id int64) (*View[Record], error) {
	r, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newView(r)
	g.mu.Lock()
	set, ok := g.byID[id]
	if !ok {
		set = make(map[*View[Record]]struct{})
		g.byID[id] = set
	}
	set[v] = struct{}{}
	g.mu.Unlock()

	v.onClose = func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.byID[id], v)
		if len(g.byID[id]) == 0 {
			delete(g.byID, id)
		}
	}
	return v, nil
}

// QueryByState 返回某状态下记录列表的可观察视图，使用完毕后需调用 Close
func (g *Gateway) QueryByState(ctx context.Context, s state.State) (*View[[]Record], error) {
	list, err := g.store.ListByState(ctx, s)
	if err != nil {
		return nil, err
	}
	v := newView(list)
	g.mu.Lock()
	set, ok := g.byState[s]
	if !ok {
		set = make(map[*View[[]Record]]struct{})
		g.byState[s] = set
	}
	set[v] = struct{}{}
	g.mu.Unlock()

	v.onClose = func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.byState[s], v)
		if len(g.byState[s]) == 0 {
			delete(g.byState, s)
		}
	}
	return v, nil
}

// closeID 关闭某条已删除记录的所有视图，订阅者会看到通道被关闭
func (g *Gateway) closeID(id int64) {
	g.mu.Lock()
	views := make([]*View[Record], 0, len(g.byID[id]))
	for v := range g.byID[id] {
		views = append(views, v)
	}
	g.mu.Unlock()
	// Close 会回调 onClose 再次获取 g.mu，所以在锁外关闭
	for _, v := range views {
		v.Close()
	}
}

func (g *Gateway) refreshID(ctx context.Context, id int64) {
	g.mu.Lock()
	views := make([]*View[Record], 0, len(g.byID[id]))
	for v := range g.byID[id] {
		views = append(views, v)
	}
	g.mu.Unlock()
	if len(views) == 0 {
		return
	}

	r, err := g.store.Get(ctx, id)
	if err != nil {
		log.Printf("⚠️ 刷新记录视图 %d 失败: %v", id, err)
		return
	}
	for _, v := range views {
		v.publish(r)
	}
}

func (g *Gateway) refreshState(ctx context.Context, s state.State) {
	g.mu.Lock()
	views := make([]*View[[]Record], 0, len(g.byState[s]))
	for v := range g.byState[s] {
		views = append(views, v)
	}
	g.mu.Unlock()
	if len(views) == 0 {
		return
	}

	list, err := g.store.ListByState(ctx, s)
	if err != nil {
		log.Printf("⚠️ 刷新状态 %s 的列表视图失败: %v", s, err)
		return
	}
	for _, v := range views {
		v.publish(list)
	}
}
