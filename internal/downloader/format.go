// internal/downloader/format.go
package downloader

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// UnknownETA 在总大小未知时作为剩余时间文本
const UnknownETA = "unknown"

// FormatSpeed 将字节/秒格式化为 "1.5 MiB/s" 这样的文本
func FormatSpeed(bps float64) string {
	if bps < 0 || math.IsNaN(bps) {
		bps = 0
	}
	if math.IsInf(bps, 1) || bps > math.MaxInt64 {
		bps = math.MaxInt64
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// FormatETA 根据剩余字节和当前速度估算剩余时间
func FormatETA(total, written int64, bps float64) string {
	if total <= 0 {
		return UnknownETA
	}
	remaining := total - written
	if remaining <= 0 {
		return formatSeconds(0)
	}
	if bps <= 0 || math.IsNaN(bps) {
		return UnknownETA
	}
	return formatSeconds(float64(remaining) / bps)
}

// formatSeconds 输出 45s、3m20s、2h5m 或 >=1d
func formatSeconds(sec float64) string {
	s := int64(sec)
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	m := s / 60
	s %= 60
	if m < 60 {
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := m / 60
	m %= 60
	if h < 24 {
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return ">=1d"
}
