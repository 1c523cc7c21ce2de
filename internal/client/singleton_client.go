// internal/client/singleton_client.go
package client

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	instance *http.Client
	once     sync.Once
)

// Options 配置下载使用的 http.Client
type Options struct {
	// ConnectTimeout 同时用于拨号和 TLS 握手
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout 是发出请求后等待响应头的最长时间
	ResponseHeaderTimeout time.Duration
	// Headers 会被添加到每个请求上，请求自己设置的同名头优先
	Headers http.Header
}

// GetClient 返回 http.Client 的单例
// 在第一次被调用时，它会以默认配置初始化
// 后续所有调用都将返回这同一个实例
func GetClient() *http.Client {
	once.Do(func() {
		instance = New(Options{})
	})
	return instance
}

// New 创建一个新的 http.Client。
// 不设置整体超时：下载大文件可能持续很久，停滞的连接由读超时负责中断。
func New(opts Options) *http.Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	transport.ResponseHeaderTimeout = opts.ResponseHeaderTimeout

	var rt http.RoundTripper = transport
	if len(opts.Headers) > 0 {
		rt = &headerTransport{base: transport, headers: opts.Headers.Clone()}
	}
	return &http.Client{Transport: rt}
}

// headerTransport 为每个请求补充默认请求头
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTripper 不能修改传入的请求
	r := req.Clone(req.Context())
	for k, vs := range t.headers {
		if r.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(r)
}
