// Package conditional computes HTTP validators for cached image payloads and
// decides between a full 200 response and an empty 304.
package conditional

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// ClockSkewTolerance 允许客户端时钟与服务端存在的偏差。
	ClockSkewTolerance = time.Second
	DefaultMaxAge      = 365 * 24 * time.Hour

	HeaderCacheHit = "X-Cache-Hit"
)

// Payload 是待发送的正文及其来源信息。ModTime 为零值表示非缓存来源。
type Payload struct {
	Body        []byte
	ContentType string
	ModTime     time.Time
	CacheHit    bool
}

// Request 携带客户端的条件请求头原文。
type Request struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Validators 是某个正文对应的 ETag 与 Last-Modified（已截断到秒）。
type Validators struct {
	ETag         string
	LastModified time.Time
}

// Response 是已决定的状态码、响应头与正文；304 时 Body 为空。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Builder struct {
	maxAge time.Duration
	now    func() time.Time
}

func NewBuilder(maxAge time.Duration) *Builder {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Builder{maxAge: maxAge, now: time.Now}
}

// ETag 返回由正文内容派生的强校验值。
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

// ValidatorsFor 计算正文的校验值；ModTime 为零时使用当前时间。
func (b *Builder) ValidatorsFor(p Payload) Validators {
	modTime := p.ModTime
	if modTime.IsZero() {
		modTime = b.now()
	}
	return Validators{
		ETag:         ETag(p.Body),
		LastModified: modTime.UTC().Truncate(time.Second),
	}
}

// Build 根据条件请求头决定返回 304 或完整 200。
func (b *Builder) Build(p Payload, req Request) Response {
	v := b.ValidatorsFor(p)

	header := make(http.Header)
	header.Set("ETag", v.ETag)
	header.Set("Last-Modified", v.LastModified.Format(http.TimeFormat))
	header.Set("Cache-Control", "public, max-age="+strconv.FormatInt(int64(b.maxAge/time.Second), 10))

	if v.NotModified(req) {
		return Response{Status: http.StatusNotModified, Header: header}
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set(HeaderCacheHit, strconv.FormatBool(p.CacheHit))
	return Response{Status: http.StatusOK, Header: header, Body: p.Body}
}

// NotModified 在 If-None-Match 命中，或 If-Modified-Since 可解析且
// LastModified <= IMS + 容差时返回 true。
func (v Validators) NotModified(req Request) bool {
	if req.IfNoneMatch != "" && matchesETag(req.IfNoneMatch, v.ETag) {
		return true
	}
	if req.IfModifiedSince == "" {
		return false
	}
	since, err := http.ParseTime(req.IfModifiedSince)
	if err != nil {
		return false
	}
	return !v.LastModified.After(since.Add(ClockSkewTolerance))
}

func matchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
