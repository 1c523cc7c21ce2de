package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.Insert(ctx, record.Record{URL: "http://example.com/a.txt", Name: "a.txt", Path: "/tmp/a.txt", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := s.Insert(ctx, record.Record{URL: "http://example.com/b.txt", Name: "b.txt", Path: "/tmp/b.txt", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id1 <= 0 || id2 <= id1 {
		t.Fatalf("ids not monotonic: %d, %d", id1, id2)
	}

	r, err := s.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Name != "a.txt" || r.State != state.Pending || r.FinishedAt != nil {
		t.Errorf("unexpected record %+v", r)
	}
	if r.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateState(context.Background(), 42, state.Paused, nil); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestStoreUpdateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Insert(ctx, record.Record{URL: "a", Name: "a", Path: "a", State: state.Pending})
	b, _ := s.Insert(ctx, record.Record{URL: "b", Name: "b", Path: "b", State: state.Pending})

	done := time.Now().Truncate(time.Millisecond)
	if err := s.UpdateState(ctx, a, state.Finished, &done); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := s.UpdateState(ctx, b, state.Paused, nil); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	finished, err := s.ListByState(ctx, state.Finished)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(finished) != 1 || finished[0].ID != a || finished[0].FinishedAt == nil || !finished[0].FinishedAt.Equal(done) {
		t.Fatalf("unexpected finished list %+v", finished)
	}

	active, _ := s.ListByState(ctx, state.Paused, state.Error)
	if len(active) != 1 || active[0].ID != b {
		t.Fatalf("unexpected active list %+v", active)
	}

	n, err := s.DeleteByState(ctx, state.Finished)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByState = %d, %v", n, err)
	}
	if _, err := s.Get(ctx, a); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("deleted record still readable: %v", err)
	}
}

func TestStoreBehindGateway(t *testing.T) {
	g := record.NewGateway(newTestStore(t))
	ctx := context.Background()

	id, err := g.Insert(ctx, record.Record{URL: "a", Name: "a", Path: "a", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := g.QueryByID(ctx, id)
	if err != nil {
		t.Fatalf("QueryByID: %v", err)
	}
	defer v.Close()

	if err := g.UpdateState(ctx, id, state.Downloading, nil); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if v.Get().State != state.Downloading {
		t.Errorf("view not refreshed: %s", v.Get().State)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Insert(ctx, record.Record{URL: "http://example.com/a", Name: "a", Path: "/tmp/a", State: state.Error})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Get after Delete = %v", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}
