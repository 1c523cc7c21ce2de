// internal/downloader/filename.go
package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// BackupSuffix 是下载中临时文件的后缀，临时文件的长度就是续传偏移量
	BackupSuffix = ".rfd"

	unknownFileName = "unknown"
	maxFileNameLen  = 127
	dedupMarker     = "_new"
)

// BackupPath 返回 finalPath 对应的临时文件路径
func BackupPath(finalPath string) string {
	return finalPath + BackupSuffix
}

// DeriveName 从 URL 中提取文件名：去掉 #片段 和 ?查询串，取最后一个 / 之后的部分
func DeriveName(rawURL string) string {
	name := rawURL
	if i := strings.Index(name, "#"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, "?"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return unknownFileName
	}
	if len(name) > maxFileNameLen {
		name = name[len(name)-maxFileNameLen:]
	}
	return name
}

// nextCandidate 在最后一个扩展名之前插入标记，没有扩展名时追加到末尾
func nextCandidate(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		// 形如 .bashrc 的文件视为没有扩展名
		return name + dedupMarker
	}
	return base + dedupMarker + ext
}

// UniqueName 在 dir 中探测，直到找到一个文件和临时文件都不存在的名字。
// 每次探测都会改变候选名，所以循环一定会结束。
func UniqueName(dir, name string) string {
	for exists(filepath.Join(dir, name)) || exists(BackupPath(filepath.Join(dir, name))) {
		name = nextCandidate(name)
	}
	return name
}

// reserveName 选出唯一文件名并以 O_EXCL 创建空的临时文件占位，
// 避免两个并发任务选中同一个名字。
func reserveName(dir, name string) (string, error) {
	for {
		name = UniqueName(dir, name)
		f, err := os.OpenFile(BackupPath(filepath.Join(dir, name)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return name, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("无法创建临时文件: %w", err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
