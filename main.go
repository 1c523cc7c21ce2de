// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Slade66/resumable-fetcher/internal/app"
	"github.com/Slade66/resumable-fetcher/internal/config"
	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/Slade66/resumable-fetcher/internal/observer"
	"github.com/Slade66/resumable-fetcher/internal/state"
	"github.com/Slade66/resumable-fetcher/pkg/fileinfo"
	"github.com/dustin/go-humanize"
)

func main() {
	// 1. 参数解析
	urlStr := flag.String("url", "", "要下载的文件的 URL (必须)")
	dir := flag.String("dir", "", "文件保存目录 (默认使用配置中的 download_dir)")
	configPath := flag.String("config", "", "配置文件路径 (可选)")
	flag.Parse()

	if *urlStr == "" {
		fmt.Println("错误: -url 参数是必须的")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *dir == "" {
		*dir = cfg.DownloadDir
	}
	if abs, err := filepath.Abs(*dir); err == nil {
		*dir = abs
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 获取文件信息，仅用于提示
	fmt.Println("🔎 正在获取文件信息...")
	if info, err := fileinfo.Get(ctx, app.HTTPClient(cfg), *urlStr); err != nil {
		fmt.Printf("⚠️ %v\n", err)
	} else {
		fmt.Printf("文件总大小: %s, 支持断点续传: %v\n", humanize.IBytes(uint64(info.Size)), info.AcceptsRanges)
	}

	// 3. 创建下载引擎和观察者
	engine, err := app.New(cfg, false)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	progressBar := observer.NewProgressBarObserver(os.Stdout)
	engine.Downloader.AddObserver(progressBar)

	// 4. 上次中断的同一个下载会被继续，否则新建任务
	t, err := resumeOrSubmit(ctx, engine.Downloader, *urlStr, *dir)
	if err != nil {
		engine.Close()
		log.Fatalf("❌ %v", err)
	}
	progressBar.Track(t)

	select {
	case <-progressBar.Done():
	case <-ctx.Done():
		fmt.Println("\n⏸️ 正在暂停，已下载的部分会被保留，重新运行相同命令即可继续。")
	}
	engine.Close()

	if reason := progressBar.Failure(); reason != "" {
		log.Fatalf("❌ 下载失败: %s", reason)
	}
}

func resumeOrSubmit(ctx context.Context, d *downloader.Downloader, rawURL, dir string) (*downloader.Task, error) {
	recovered, err := d.Recover(ctx)
	if err != nil {
		log.Printf("⚠️ %v", err)
	}
	for _, t := range recovered {
		if t.URL() != rawURL || filepath.Clean(t.Dir()) != filepath.Clean(dir) {
			continue
		}
		fmt.Printf("🔁 继续上次的下载: %s\n", t.Path())
		if t.State() != state.Waiting {
			if err := d.Start(t.ID()); err != nil {
				return nil, err
			}
		}
		return t, nil
	}

	fmt.Println("🚀 开始下载...")
	return d.Submit(rawURL, dir)
}
