package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb), mr
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	a, err := m.Insert(ctx, record.Record{URL: "http://example.com/a", Name: "a", Path: "/d/a", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	b, err := m.Insert(ctx, record.Record{URL: "http://example.com/b", Name: "b", Path: "/d/b", State: state.Pending})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if a != 1 || b != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", a, b)
	}
	if ok, _ := mr.SIsMember("task:state:2", "1"); !ok {
		t.Error("id 1 missing from pending index")
	}

	r, err := m.Get(ctx, a)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.URL != "http://example.com/a" || r.Path != "/d/a" || r.State != state.Pending {
		t.Errorf("unexpected record %+v", r)
	}
}

func TestGetMissing(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Get(context.Background(), 9); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.UpdateState(context.Background(), 9, state.Paused, nil); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestUpdateStateMovesIndex(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	id, _ := m.Insert(ctx, record.Record{URL: "u", Name: "n", Path: "p", State: state.Pending})

	done := time.UnixMilli(time.Now().UnixMilli())
	if err := m.UpdateState(ctx, id, state.Finished, &done); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if ok, _ := mr.SIsMember("task:state:2", "1"); ok {
		t.Error("id still in pending index")
	}

	finished, err := m.ListByState(ctx, state.Finished)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(finished) != 1 || finished[0].FinishedAt == nil || !finished[0].FinishedAt.Equal(done) {
		t.Fatalf("unexpected finished list %+v", finished)
	}

	if err := m.UpdateState(ctx, id, state.Finished, nil); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	r, _ := m.Get(ctx, id)
	if r.FinishedAt != nil {
		t.Error("finished_at should be cleared")
	}
}

func TestListAndDeleteByState(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Insert(ctx, record.Record{URL: "u", Name: "n", Path: "p", State: state.Finished})
	}
	keep, _ := m.Insert(ctx, record.Record{URL: "u", Name: "n", Path: "p", State: state.Paused})

	list, err := m.ListByState(ctx, state.Finished, state.Paused)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 records, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("records not sorted by id: %+v", list)
		}
	}

	n, err := m.DeleteByState(ctx, state.Finished)
	if err != nil || n != 3 {
		t.Fatalf("DeleteByState = %d, %v", n, err)
	}
	rest, _ := m.ListByState(ctx, state.Finished, state.Paused)
	if len(rest) != 1 || rest[0].ID != keep {
		t.Errorf("unexpected remaining records %+v", rest)
	}
}

func TestDeleteRemovesHashAndIndex(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	id, _ := m.Insert(ctx, record.Record{URL: "http://example.com/a", Name: "a", Path: "/d/a", State: state.Paused})

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("task:record:1") {
		t.Error("record hash should be deleted")
	}
	if ok, _ := mr.SIsMember("task:state:6", "1"); ok {
		t.Error("id should leave the paused index")
	}
	if err := m.Delete(ctx, id); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}
