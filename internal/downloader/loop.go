// internal/downloader/loop.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// DefaultChunkSize 是每次读取的字节数
const DefaultChunkSize = 1024

// Outcome 是传输循环的结束方式
type Outcome int

const (
	// Completed 表示数据流已读完
	Completed Outcome = iota
	// Stopped 表示在某个分块开始前发现任务已不再处于 Downloading（暂停或取消）
	Stopped
	// Failed 表示读写出错
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// LoopResult 是 copyLoop 的返回值，Written 包含续传前已有的字节
type LoopResult struct {
	Outcome Outcome
	Written int64
	Err     error
}

type loopOptions struct {
	chunkSize int
	// interval 控制进度回调的最小间隔，0 表示每个分块都回调
	interval time.Duration
	limiter  *rate.Limiter
	running  func() bool
	progress func(written, total int64, speed, eta string)
}

// copyLoop 按固定大小分块把 src 追加到 dst，直到数据流耗尽或任务被暂停/取消。
// 它只报告结果，从不修改任务状态；成功由数据流耗尽决定，而不是写满 total。
func copyLoop(ctx context.Context, src io.Reader, dst io.Writer, total, written int64, opts loopOptions) LoopResult {
	size := opts.chunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	buf := make([]byte, size)
	var lastEmit time.Time

	for {
		if opts.running != nil && !opts.running() {
			return LoopResult{Outcome: Stopped, Written: written}
		}

		start := time.Now()
		n, err := src.Read(buf)
		elapsed := time.Since(start)

		if n > 0 {
			if opts.limiter != nil {
				if werr := throttle(ctx, opts.limiter, src, n); werr != nil {
					return LoopResult{Outcome: Failed, Written: written, Err: werr}
				}
			}

			speed := float64(n) / max(elapsed.Seconds(), 1e-9)
			eta := FormatETA(total, written+int64(n), speed)

			if _, werr := dst.Write(buf[:n]); werr != nil {
				return LoopResult{Outcome: Failed, Written: written, Err: fmt.Errorf("写入文件失败: %w", werr)}
			}
			written += int64(n)

			if opts.progress != nil && (opts.interval <= 0 || time.Since(lastEmit) >= opts.interval) {
				lastEmit = time.Now()
				opts.progress(written, total, FormatSpeed(speed), eta)
			}
		}

		if errors.Is(err, io.EOF) {
			return LoopResult{Outcome: Completed, Written: written}
		}
		if err != nil {
			return LoopResult{Outcome: Failed, Written: written, Err: err}
		}
	}
}

// idleClock 由带空闲超时的 Reader 实现，限速等待期间不计入空闲时间
type idleClock interface {
	Hold()
	Rearm()
}

func throttle(ctx context.Context, l *rate.Limiter, src io.Reader, n int) error {
	if clock, ok := src.(idleClock); ok {
		clock.Hold()
		defer clock.Rearm()
	}
	return l.WaitN(ctx, n)
}

// newLimiter 创建限速器，bytesPerSec <= 0 表示不限速
func newLimiter(bytesPerSec int64, chunkSize int) *rate.Limiter {
	l := rate.NewLimiter(rate.Inf, max(chunkSize, DefaultChunkSize))
	setLimit(l, bytesPerSec, chunkSize)
	return l
}

func setLimit(l *rate.Limiter, bytesPerSec int64, chunkSize int) {
	if bytesPerSec <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	// 突发容量至少要容纳一个分块，否则 WaitN 会直接报错
	l.SetBurst(max(chunkSize, DefaultChunkSize, int(bytesPerSec)))
	l.SetLimit(rate.Limit(bytesPerSec))
}
