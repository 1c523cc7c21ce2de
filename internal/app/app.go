// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/client"
	"github.com/Slade66/resumable-fetcher/internal/config"
	"github.com/Slade66/resumable-fetcher/internal/database"
	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/Slade66/resumable-fetcher/internal/executor"
	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/status"
	"github.com/redis/go-redis/v9"
)

// Engine 是各个入口共用的下载引擎及其依赖
type Engine struct {
	Config     *config.Config
	Gateway    *record.Gateway
	Executors  *executor.Executors
	Downloader *downloader.Downloader
	// Redis 只有在配置了 redis 存储或调用 ConnectRedis 后才不为空
	Redis *redis.Client

	closers []io.Closer
}

// ConnectRedis 初始化 Redis 连接，连接失败时返回错误
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis %s: %w", cfg.Addr, err)
	}
	log.Printf("✅ 成功连接到 Redis %s", cfg.Addr)
	return rdb, nil
}

// OpenStore 按配置打开记录存储，返回的 io.Closer 可能为 nil
func OpenStore(cfg *config.Config, rdb *redis.Client) (record.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return record.NewMemoryStore(), nil, nil
	case config.StoreRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis 存储需要 Redis 连接")
		}
		return status.NewManager(rdb), nil, nil
	default:
		db, err := database.Init(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		store, err := database.NewStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db, nil
	}
}

// New 根据配置组装下载引擎。needRedis 为 true 时即使存储不是 redis 也会建立连接。
func New(cfg *config.Config, needRedis bool) (*Engine, error) {
	e := &Engine{Config: cfg}

	if needRedis || cfg.Store == config.StoreRedis {
		rdb, err := ConnectRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		e.Redis = rdb
		e.closers = append(e.closers, rdb)
	}

	store, closer, err := OpenStore(cfg, e.Redis)
	if err != nil {
		e.Close()
		return nil, err
	}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	e.Gateway = record.NewGateway(store)
	e.Executors = executor.New(executor.Options{})

	e.Downloader, err = downloader.New(downloader.Options{
		Gateway:          e.Gateway,
		Executors:        e.Executors,
		Client:           HTTPClient(cfg),
		MaxRunning:       cfg.MaxRunning,
		ChunkSize:        cfg.ChunkSize,
		SpeedLimit:       cfg.SpeedLimit,
		ProgressInterval: cfg.ProgressInterval,
		ReadTimeout:      cfg.ReadTimeout,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	log.Printf("✅ 下载引擎已就绪 (存储: %s, 并发: %d)", cfg.Store, cfg.MaxRunning)
	return e, nil
}

// HTTPClient 按配置创建下载用的 http.Client
func HTTPClient(cfg *config.Config) *http.Client {
	return client.New(client.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Headers:        cfg.HTTPHeaders(),
	})
}

// Close 依次关闭下载器、执行上下文和存储连接
func (e *Engine) Close() {
	if e.Downloader != nil {
		e.Downloader.Close()
	}
	if e.Executors != nil {
		e.Executors.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			log.Printf("⚠️ 关闭资源失败: %v", err)
		}
	}
}
