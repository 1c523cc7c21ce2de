package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/api"
	"github.com/Slade66/resumable-fetcher/internal/app"
	"github.com/Slade66/resumable-fetcher/internal/config"
	"github.com/Slade66/resumable-fetcher/internal/observer"
	"github.com/Slade66/resumable-fetcher/internal/queue"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径 (可选)")
	withQueue := flag.Bool("queue", true, "连接 Redis 并开放 /api/enqueue")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	engine, err := app.New(cfg, *withQueue)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	defer engine.Close()
	engine.Downloader.AddObserver(observer.LogObserver{})

	if _, err := engine.Downloader.Recover(context.Background()); err != nil {
		log.Printf("⚠️ %v", err)
	}

	var producer *queue.Producer
	if engine.Redis != nil {
		producer = queue.NewProducer(engine.Redis, cfg.Stream.Name)
	}

	// 设置 Gin
	router := gin.Default()
	api.NewServer(api.Options{
		Downloader:  engine.Downloader,
		Gateway:     engine.Gateway,
		Producer:    producer,
		Client:      app.HTTPClient(cfg),
		DownloadDir: cfg.DownloadDir,
	}).Register(router)

	// 服务前端静态文件
	if _, err := os.Stat("./frontend"); err == nil {
		router.StaticFS("/ui", http.Dir("./frontend"))
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		log.Printf("🚀 API 服务已启动，监听 %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ API 服务异常退出: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⚠️ 正在关闭服务，进行中的任务将被暂停...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ 关闭 HTTP 服务失败: %v", err)
	}
}
