// Package upstream retrieves source image bytes over HTTP. It knows nothing
// about caching: callers decide whether and where to store the result.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBytes 是未配置上限时允许读取的最大源图字节数。
const DefaultMaxBytes = 32 << 20

// ErrBodyTooLarge 表示源图超过 MaxBytes。
var ErrBodyTooLarge = errors.New("upstream body exceeds limit")

// FetchError 涵盖网络错误、超时、非 200 状态与超限正文。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result 是一次成功抓取的正文与上游元数据。
type Result struct {
	Body         []byte
	ContentType  string
	LastModified time.Time
}

// Fetcher 使用注入的 http.Client 抓取源图，超时由 client 与 ctx 共同约束。
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

type Option func(*Fetcher)

// WithMaxBytes 限制读取的正文大小。
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

func NewFetcher(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		client:   client,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch 发起 GET 请求，仅接受 200；正文读取受 maxBytes 约束。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, &FetchError{URL: rawURL, Err: ErrBodyTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &FetchError{URL: rawURL, Err: ErrBodyTooLarge}
	}

	result := &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if parsed, err := http.ParseTime(lm); err == nil {
			result.LastModified = parsed
		}
	}
	return result, nil
}
