// internal/state/state.go
package state

import (
	"fmt"
	"sync/atomic"
)

// State 表示一个下载任务的生命周期状态，数值会被持久化，不能随意修改
type State int32

const (
	Idle        State = 0
	Pending     State = 2
	Waiting     State = 3
	Downloading State = 4
	Pausing     State = 5
	Paused      State = 6
	Finished    State = 7
	Error       State = 8
)

var names = map[State]string{
	Idle:        "idle",
	Pending:     "pending",
	Waiting:     "waiting",
	Downloading: "downloading",
	Pausing:     "pausing",
	Paused:      "paused",
	Finished:    "finished",
	Error:       "error",
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Valid 判断是否为已定义的状态值
func (s State) Valid() bool {
	_, ok := names[s]
	return ok
}

// Parse 将名称或数字形式的状态解析为 State
func Parse(v string) (State, error) {
	for s, n := range names {
		if n == v {
			return s, nil
		}
	}
	var n int32
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil && State(n).Valid() {
		return State(n), nil
	}
	return Idle, fmt.Errorf("未知的任务状态: %q", v)
}

// legal 是合法状态迁移表，Finished 没有任何出边
var legal = map[State][]State{
	Idle:        {Pending},
	Pending:     {Waiting, Downloading},
	Waiting:     {Downloading, Paused},
	Paused:      {Waiting, Downloading},
	Error:       {Waiting, Downloading},
	Downloading: {Pausing, Paused, Finished, Error},
	Pausing:     {Paused, Finished, Error},
}

// Legal 判断 from -> to 是否为允许的迁移
func Legal(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart 判断处于该状态的任务是否可以开始一次传输
func CanStart(s State) bool {
	switch s {
	case Pending, Waiting, Paused, Error:
		return true
	}
	return false
}

// Machine 是单个任务的状态机，所有修改都通过 CAS 完成
type Machine struct {
	v atomic.Int32
}

// NewMachine 以指定初始状态创建状态机
func NewMachine(initial State) *Machine {
	m := &Machine{}
	m.v.Store(int32(initial))
	return m
}

// Load 返回当前状态
func (m *Machine) Load() State {
	return State(m.v.Load())
}

// TryTransition 仅当迁移合法且当前状态等于 expected 时才会成功
func (m *Machine) TryTransition(expected, next State) bool {
	if !Legal(expected, next) {
		return false
	}
	return m.v.CompareAndSwap(int32(expected), int32(next))
}

// ForceIdle 无论当前状态为何都将其置为 Idle（取消），但 Finished 不会被离开。
// 返回被替换掉的状态。
func (m *Machine) ForceIdle() (State, bool) {
	for {
		cur := m.v.Load()
		if State(cur) == Finished {
			return Finished, false
		}
		if m.v.CompareAndSwap(cur, int32(Idle)) {
			return State(cur), true
		}
	}
}
