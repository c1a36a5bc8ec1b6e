package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/imghub/internal/config"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultUpstreamTimeout = 30 * time.Second
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
}

// NewUpstreamClient 返回抓取源图共用的 http.Client：
// ConnectTimeout 约束拨号，UpstreamTimeout 同时约束等待响应头与整个请求。
func NewUpstreamClient(cfg config.UpstreamConfig) *http.Client {
	connect := cfg.ConnectTimeout.DurationValue()
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}

	transport := defaultTransport.Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
