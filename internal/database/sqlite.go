// internal/database/sqlite.go
package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Init 在 dataDir 下打开（必要时创建）记录数据库
func Init(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建数据目录: %w", err)
	}
	return Open(filepath.Join(dataDir, "records.db"))
}

// Open 打开指定路径的 SQLite 数据库，":memory:" 可用于测试
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据库: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}
	// 单连接写入，避免 database is locked
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		log.Printf("⚠️ 无法设置 SQLite PRAGMA: %v", err)
	}
	return db, nil
}
