// internal/downloader/util.go
package downloader

import (
	"io"
	"time"
)

// IdleTimeoutReader 包装 io.Reader，在超过 timeout 没有读到任何数据时调用 onTimeout，
// 用来取消卡住的连接；每次读到数据都会重新计时。
type IdleTimeoutReader struct {
	io.Reader
	timeout time.Duration
	timer   *time.Timer
}

// NewIdleTimeoutReader 创建带空闲超时的 Reader，timeout <= 0 时不设超时
func NewIdleTimeoutReader(r io.Reader, timeout time.Duration, onTimeout func()) *IdleTimeoutReader {
	ir := &IdleTimeoutReader{Reader: r, timeout: timeout}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, onTimeout)
	}
	return ir
}

// Read 实现 io.Reader 接口
func (ir *IdleTimeoutReader) Read(p []byte) (n int, err error) {
	n, err = ir.Reader.Read(p)
	if n > 0 && ir.timer != nil {
		ir.timer.Reset(ir.timeout)
	}
	return
}

// Hold 暂停计时，用于限速等待这类不是连接卡住的停顿
func (ir *IdleTimeoutReader) Hold() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}

// Rearm 重新开始一个完整的计时周期
func (ir *IdleTimeoutReader) Rearm() {
	if ir.timer != nil {
		ir.timer.Reset(ir.timeout)
	}
}

// Stop 停止计时
func (ir *IdleTimeoutReader) Stop() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}
