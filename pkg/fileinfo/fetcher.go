// pkg/fileinfo/fetcher.go
package fileinfo

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
)

// ErrNoSize 表示服务器没有返回 Content-Length
var ErrNoSize = errors.New("fileinfo: Content-Length is missing")

// Info 包含了文件的元信息
type Info struct {
	Size          int64  `json:"size"`
	AcceptsRanges bool   `json:"accepts_ranges"`
	Filename      string `json:"filename,omitempty"`
}

// Get 发送 HEAD 请求以获取远程文件的信息，client 为 nil 时使用 http.DefaultClient
func Get(ctx context.Context, client *http.Client, url string) (*Info, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("无效的 URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("无法获取文件信息: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("服务器返回了非预期的状态码: %s", resp.Status)
	}

	contentLengthStr := resp.Header.Get("Content-Length")
	if contentLengthStr == "" {
		return nil, ErrNoSize
	}
	size, err := strconv.ParseInt(contentLengthStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("无效的文件大小: %w", err)
	}

	return &Info{
		Size:          size,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		Filename:      dispositionFilename(resp.Header.Get("Content-Disposition")),
	}, nil
}

func dispositionFilename(v string) string {
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	name := path.Base(params["filename"])
	if name == "." || name == "/" {
		return ""
	}
	return name
}
