// internal/database/store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
)

// Store 是基于 SQLite 的 record.Store 实现
type Store struct {
	db *sql.DB
}

// NewStore 创建 Store 并确保表结构存在
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTable(); err != nil {
		return nil, fmt.Errorf("初始化记录表失败: %w", err)
	}
	return s, nil
}

func (s *Store) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		state INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_records_state ON records(state);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) Insert(ctx context.Context, r record.Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := `INSERT INTO records (url, name, path, state, created_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, r.URL, r.Name, r.Path, int32(r.State), r.CreatedAt.UnixMilli(), toMillis(r.FinishedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	query := `SELECT id, url, name, path, state, created_at, finished_at FROM records WHERE id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateState(ctx context.Context, id int64, st state.State, finishedAt *time.Time) error {
	query := `UPDATE records SET state = ?, finished_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, int32(st), toMillis(finishedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

func (s *Store) ListByState(ctx context.Context, states ...state.State) ([]record.Record, error) {
	if len(states) == 0 {
		return []record.Record{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = int32(st)
	}
	query := `SELECT id, url, name, path, state, created_at, finished_at FROM records WHERE state IN (` + placeholders + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) DeleteByState(ctx context.Context, st state.State) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE state = ?`, int32(st))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record, error) {
	var (
		r        record.Record
		st       int32
		created  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.URL, &r.Name, &r.Path, &st, &created, &finished); err != nil {
		return record.Record{}, err
	}
	r.State = state.State(st)
	r.CreatedAt = time.UnixMilli(created)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
