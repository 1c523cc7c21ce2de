package executor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliverPreservesOrder(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	var got []int
	for i := 0; i < 1000; i++ {
		i := i
		e.Deliver(func() { got = append(got, i) })
	}
	e.Flush()

	if len(got) != 1000 {
		t.Fatalf("expected 1000 callbacks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}
}

func TestDeliverNeverConcurrent(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	var running, overlaps atomic.Int32
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.Deliver(func() {
					if running.Add(1) > 1 {
						overlaps.Add(1)
					}
					time.Sleep(10 * time.Microsecond)
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	e.Flush()

	if overlaps.Load() != 0 {
		t.Errorf("delivery callbacks overlapped %d times", overlaps.Load())
	}
}

func TestDeliverSurvivesPanic(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	ran := false
	e.Deliver(func() { panic("boom") })
	e.Deliver(func() { ran = true })
	e.Flush()

	if !ran {
		t.Error("callback after a panicking one did not run")
	}
}

func TestComputeRejectsWhenFull(t *testing.T) {
	e := New(Options{ComputeWorkers: 1, ComputeQueue: 1})
	defer e.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := e.Compute(func() { close(started); <-block }); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-started
	if err := e.Compute(func() {}); err != nil {
		t.Fatalf("second submit should be queued: %v", err)
	}
	if err := e.Compute(func() {}); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	close(block)
}

func TestDiskRunsAndCloseWaits(t *testing.T) {
	e := New(Options{})

	var n atomic.Int32
	for i := 0; i < 20; i++ {
		e.Disk(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		})
	}
	e.Close()

	if n.Load() != 20 {
		t.Errorf("expected 20 disk jobs to finish before Close returned, got %d", n.Load())
	}
	if err := e.Compute(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestCloseWithConcurrentDisk(t *testing.T) {
	e := New(Options{})

	var delivered atomic.Int32
	e.Disk(func() {
		time.Sleep(20 * time.Millisecond)
		e.Deliver(func() { delivered.Add(1) })
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				e.Disk(func() {})
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	e.Close()
	close(stop)
	wg.Wait()

	// 关闭前已在运行的磁盘任务，其回调仍然会被投递
	if delivered.Load() != 1 {
		t.Fatalf("delivered = %d, want 1", delivered.Load())
	}
}
