// internal/status/manager.go
package status

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
	"github.com/redis/go-redis/v9"
)

const (
	seqKey     = "task:record:seq"
	maxRetries = 5
)

// Manager 是基于 Redis 的 record.Store 实现：
// 每条记录是一个 Hash，id 来自 INCR，另外按状态维护 id 集合用于查询。
type Manager struct {
	rdb *redis.Client
}

// NewManager 创建一个新的 Redis 记录存储
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// recordKey 返回一条记录在 Redis 中的键名
func (m *Manager) recordKey(id int64) string {
	return fmt.Sprintf("task:record:%d", id)
}

// stateKey 返回某状态下 id 集合的键名
func (m *Manager) stateKey(s state.State) string {
	return fmt.Sprintf("task:state:%d", int32(s))
}

// Insert 分配新的 id 并写入记录
func (m *Manager) Insert(ctx context.Context, r record.Record) (int64, error) {
	id, err := m.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("分配记录 id 失败: %w", err)
	}
	r.ID = id
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		// HSet 会一次性设置多个字段
		p.HSet(ctx, m.recordKey(id), toMap(r))
		p.SAdd(ctx, m.stateKey(r.State), id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("写入记录失败: %w", err)
	}
	return id, nil
}

// Get 读取一条记录
func (m *Manager) Get(ctx context.Context, id int64) (record.Record, error) {
	data, err := m.rdb.HGetAll(ctx, m.recordKey(id)).Result()
	if err != nil {
		return record.Record{}, err
	}
	if len(data) == 0 {
		return record.Record{}, record.ErrNotFound
	}
	return fromMap(data)
}

// UpdateState 在 WATCH 事务中更新状态并移动索引集合
func (m *Manager) UpdateState(ctx context.Context, id int64, s state.State, finishedAt *time.Time) error {
	key := m.recordKey(id)
	txf := func(tx *redis.Tx) error {
		old, err := tx.HGet(ctx, key, "state").Int()
		if errors.Is(err, redis.Nil) {
			return record.ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "state", int(s))
			if finishedAt != nil {
				p.HSet(ctx, key, "finished_at", finishedAt.UnixMilli())
			} else {
				p.HDel(ctx, key, "finished_at")
			}
			p.SRem(ctx, m.stateKey(state.State(old)), id)
			p.SAdd(ctx, m.stateKey(s), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := m.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// 乐观锁冲突，重试
			continue
		}
		return err
	}
	return fmt.Errorf("更新记录 %d 状态失败: 重试 %d 次后仍冲突", id, maxRetries)
}

// ListByState 返回处于任一给定状态的记录，按 id 排序
func (m *Manager) ListByState(ctx context.Context, states ...state.State) ([]record.Record, error) {
	var ids []int64
	for _, s := range states {
		members, err := m.rdb.SMembers(ctx, m.stateKey(s)).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range members {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) == 0 {
		return []record.Record{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, m.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]record.Record, 0, len(ids))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			// 索引里残留的 id，记录已被删除
			continue
		}
		r, err := fromMap(data)
		if err != nil {
			return nil, err
		}
		if slices.Contains(states, r.State) {
			records = append(records, r)
		}
	}
	return records, nil
}

// DeleteByState 删除某状态下的所有记录以及该状态的索引集合
func (m *Manager) DeleteByState(ctx context.Context, s state.State) (int64, error) {
	members, err := m.rdb.SMembers(ctx, m.stateKey(s)).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, 0, len(members))
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, v := range members {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			dels = append(dels, p.Del(ctx, m.recordKey(id)))
		}
		p.Del(ctx, m.stateKey(s))
		return nil
	})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, d := range dels {
		n += d.Val()
	}
	return n, nil
}

// Delete 删除记录 Hash，并把 id 从它所在的状态索引中移除
func (m *Manager) Delete(ctx context.Context, id int64) error {
	key := m.recordKey(id)
	old, err := m.rdb.HGet(ctx, key, "state").Int()
	if errors.Is(err, redis.Nil) {
		return record.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.SRem(ctx, m.stateKey(state.State(old)), id)
		return nil
	})
	return err
}

// toMap 将记录转换为 Hash 字段
func toMap(r record.Record) map[string]interface{} {
	m := map[string]interface{}{
		"id":         r.ID,
		"url":        r.URL,
		"name":       r.Name,
		"path":       r.Path,
		"state":      int(r.State),
		"created_at": r.CreatedAt.UnixMilli(),
	}
	if r.FinishedAt != nil {
		m["finished_at"] = r.FinishedAt.UnixMilli()
	}
	return m
}

func fromMap(data map[string]string) (record.Record, error) {
	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return record.Record{}, fmt.Errorf("记录 id 无效: %w", err)
	}
	st, err := strconv.Atoi(data["state"])
	if err != nil {
		return record.Record{}, fmt.Errorf("记录 %d 状态无效: %w", id, err)
	}
	created, _ := strconv.ParseInt(data["created_at"], 10, 64)

	r := record.Record{
		ID:        id,
		URL:       data["url"],
		Name:      data["name"],
		Path:      data["path"],
		State:     state.State(st),
		CreatedAt: time.UnixMilli(created),
	}
	if v, ok := data["finished_at"]; ok && v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.UnixMilli(ms)
			r.FinishedAt = &t
		}
	}
	return r, nil
}
