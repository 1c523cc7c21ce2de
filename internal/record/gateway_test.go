package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/state"
)

type zeroIDStore struct{ *MemoryStore }

func (zeroIDStore) Insert(context.Context, Record) (int64, error) { return 0, nil }

func TestGatewayInsertRejectsZeroID(t *testing.T) {
	g := NewGateway(zeroIDStore{NewMemoryStore()})
	_, err := g.Insert(context.Background(), Record{URL: "http://example.com/a"})
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestGatewayIDsAreMonotonic(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		id, err := g.Insert(ctx, Record{URL: "http://example.com/a", State: state.Pending})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestQueryByIDObservesUpdates(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()
	id, err := g.Insert(ctx, Record{URL: "http://example.com/a", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, err := g.QueryByID(ctx, id)
	if err != nil {
		t.Fatalf("QueryByID: %v", err)
	}
	defer v.Close()
	ch, cancel := v.Subscribe()
	defer cancel()

	now := time.Now()
	if err := g.UpdateState(ctx, id, state.Finished, &now); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	select {
	case r := <-ch:
		if r.State != state.Finished || r.FinishedAt == nil {
			t.Errorf("unexpected record %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
	if v.Get().State != state.Finished {
		t.Errorf("Get returned %s", v.Get().State)
	}
}

func TestQueryByStateTracksMembership(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()

	paused, err := g.QueryByState(ctx, state.Paused)
	if err != nil {
		t.Fatalf("QueryByState: %v", err)
	}
	defer paused.Close()

	id, _ := g.Insert(ctx, Record{URL: "http://example.com/a", State: state.Pending})
	if err := g.UpdateState(ctx, id, state.Paused, nil); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if got := paused.Get(); len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected paused list with %d, got %+v", id, got)
	}

	if err := g.UpdateState(ctx, id, state.Waiting, nil); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if got := paused.Get(); len(got) != 0 {
		t.Errorf("record should have left the paused list, got %+v", got)
	}
}

func TestDeleteByState(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()
	a, _ := g.Insert(ctx, Record{URL: "a", State: state.Finished})
	b, _ := g.Insert(ctx, Record{URL: "b", State: state.Paused})

	n, err := g.DeleteByState(ctx, state.Finished)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByState = %d, %v", n, err)
	}
	if _, err := g.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("finished record should be gone, got %v", err)
	}
	if _, err := g.Get(ctx, b); err != nil {
		t.Errorf("paused record should remain: %v", err)
	}
}

func TestViewCloseUnregisters(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()
	id, _ := g.Insert(ctx, Record{URL: "a", State: state.Pending})

	v, _ := g.QueryByID(ctx, id)
	ch, _ := v.Subscribe()
	v.Close()

	if _, ok := <-ch; ok {
		t.Error("subscription channel should be closed")
	}
	g.mu.Lock()
	n := len(g.byID)
	g.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no registered views, got %d", n)
	}
}

func TestDeletingRecordsClosesTheirViews(t *testing.T) {
	g := NewGateway(NewMemoryStore())
	ctx := context.Background()
	a, _ := g.Insert(ctx, Record{URL: "a", State: state.Finished})
	b, _ := g.Insert(ctx, Record{URL: "b", State: state.Paused})

	va, _ := g.QueryByID(ctx, a)
	vb, _ := g.QueryByID(ctx, b)
	chA, _ := va.Subscribe()
	chB, _ := vb.Subscribe()
	paused, _ := g.QueryByState(ctx, state.Paused)
	defer paused.Close()

	if _, err := g.DeleteByState(ctx, state.Finished); err != nil {
		t.Fatalf("DeleteByState: %v", err)
	}
	if _, ok := <-chA; ok {
		t.Error("view of a record removed by state should be closed")
	}

	if err := g.Delete(ctx, b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := <-chB; ok {
		t.Error("view of a deleted record should be closed")
	}
	if got := paused.Get(); len(got) != 0 {
		t.Errorf("paused list should be empty, got %+v", got)
	}
	if err := g.Delete(ctx, b); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}

	g.mu.Lock()
	n := len(g.byID)
	g.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no registered views, got %d", n)
	}
}
