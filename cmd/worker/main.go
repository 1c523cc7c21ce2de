package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/app"
	"github.com/Slade66/resumable-fetcher/internal/config"
	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/Slade66/resumable-fetcher/internal/observer"
	"github.com/Slade66/resumable-fetcher/internal/queue"
	"github.com/Slade66/resumable-fetcher/internal/uploader"
	"github.com/Slade66/resumable-fetcher/pkg/task"
)

// consumerName 使用主机名区分同一消费者组里的 Worker
func consumerName() string {
	name, err := os.Hostname()
	if err != nil {
		name = fmt.Sprintf("worker-%d", time.Now().Unix())
		log.Printf("⚠️ 无法获取主机名，使用默认消费者名称 '%s'", name)
	}
	return name
}

// main 是程序的总入口
func main() {
	configPath := flag.String("config", "", "配置文件路径 (可选)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	engine, err := app.New(cfg, true)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	var obsUploader *uploader.ObsUploader
	defer func() {
		// 引擎关闭时会等待进行中的上传，所以 OBS 客户端最后关闭
		engine.Close()
		if obsUploader != nil {
			obsUploader.Close()
		}
	}()
	engine.Downloader.AddObserver(observer.LogObserver{})

	// OBS 是可选的：配置完整时，下载完成的文件会被上传
	if cfg.OBS.Enabled() {
		obsUploader, err = uploader.NewObsUploader(cfg.OBS)
		if err != nil {
			log.Fatalf("❌ 初始化 OBS Uploader 失败: %v", err)
		}
		finish := uploader.NewFinishUploader(obsUploader, engine.Executors, cfg.OBS.Prefix)
		finish.RemoveLocal = cfg.OBS.RemoveLocal
		engine.Downloader.AddObserver(finish)
		log.Println("✅ OBS Uploader 初始化成功。")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Downloader.Recover(ctx); err != nil {
		log.Printf("⚠️ %v", err)
	}

	consumer := queue.NewConsumer(engine.Redis, cfg.Stream.Name, cfg.Stream.Group, consumerName())
	if err := consumer.EnsureGroup(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}

	err = consumer.Run(ctx, func(_ context.Context, t *task.DownloadTask) error {
		dir := t.Dir
		if dir == "" {
			dir = cfg.DownloadDir
		}
		if _, err := engine.Downloader.Submit(t.URL, dir); err != nil {
			if errors.Is(err, downloader.ErrUnsupportedURL) {
				// 无法处理的请求直接丢弃，重试也不会成功
				log.Printf("‼️ 丢弃任务 %s: %v", t.ID, err)
				return nil
			}
			return err
		}
		return nil
	})
	log.Printf("⚠️ Worker 退出: %v", err)
}
