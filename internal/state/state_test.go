package state

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryTransitionRejectsIllegal(t *testing.T) {
	m := NewMachine(Idle)
	if m.TryTransition(Idle, Downloading) {
		t.Fatal("Idle -> Downloading must be rejected")
	}
	if m.Load() != Idle {
		t.Fatalf("state changed to %s", m.Load())
	}
	if !m.TryTransition(Idle, Pending) {
		t.Fatal("Idle -> Pending should succeed")
	}
	if m.TryTransition(Idle, Pending) {
		t.Fatal("second Idle -> Pending should fail, state is already Pending")
	}
}

func TestFinishedIsNeverLeft(t *testing.T) {
	m := NewMachine(Finished)
	for _, next := range []State{Idle, Pending, Waiting, Downloading, Pausing, Paused, Error} {
		if m.TryTransition(Finished, next) {
			t.Errorf("Finished -> %s must be rejected", next)
		}
	}
	if _, ok := m.ForceIdle(); ok {
		t.Error("ForceIdle must not leave Finished")
	}
	if m.Load() != Finished {
		t.Errorf("expected finished, got %s", m.Load())
	}
}

func TestForceIdleFromAnyState(t *testing.T) {
	for _, s := range []State{Pending, Waiting, Downloading, Pausing, Paused, Error} {
		m := NewMachine(s)
		prev, ok := m.ForceIdle()
		if !ok || prev != s {
			t.Errorf("ForceIdle from %s: prev=%s ok=%v", s, prev, ok)
		}
		if m.Load() != Idle {
			t.Errorf("ForceIdle from %s left %s", s, m.Load())
		}
	}
}

func TestPauseOnlyFromDownloading(t *testing.T) {
	for _, s := range []State{Idle, Pending, Waiting, Pausing, Paused, Finished, Error} {
		m := NewMachine(s)
		if m.TryTransition(m.Load(), Pausing) {
			t.Errorf("%s -> Pausing must be rejected", s)
		}
	}
	m := NewMachine(Downloading)
	if !m.TryTransition(Downloading, Pausing) {
		t.Error("Downloading -> Pausing should succeed")
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	for _, from := range []State{Pending, Waiting, Paused, Error} {
		m := NewMachine(from)
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if m.TryTransition(from, Downloading) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if wins.Load() != 1 {
			t.Errorf("from %s: expected exactly one winner, got %d", from, wins.Load())
		}
	}
}

func TestCanStart(t *testing.T) {
	want := map[State]bool{
		Idle: false, Pending: true, Waiting: true, Downloading: false,
		Pausing: false, Paused: true, Finished: false, Error: true,
	}
	for s, ok := range want {
		if CanStart(s) != ok {
			t.Errorf("CanStart(%s) = %v, want %v", s, !ok, ok)
		}
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse("paused"); err != nil || s != Paused {
		t.Errorf("Parse(paused) = %v, %v", s, err)
	}
	if s, err := Parse("7"); err != nil || s != Finished {
		t.Errorf("Parse(7) = %v, %v", s, err)
	}
	if _, err := Parse("1"); err == nil {
		t.Error("1 is not a defined state")
	}
}
