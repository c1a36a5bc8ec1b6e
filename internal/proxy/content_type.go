package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".avif": "image/avif",
}

// passthroughContentType 决定原图直通的 Content-Type：
// URL 扩展名 → 上游声明（仅回源时可用）→ 内容嗅探。
func passthroughContentType(rawURL, upstreamType string, body []byte) string {
	if ct := contentTypeFromURL(rawURL); ct != "" {
		return ct
	}
	if upstreamType != "" {
		if mediaType, _, err := mime.ParseMediaType(upstreamType); err == nil && mediaType != "application/octet-stream" {
			return upstreamType
		}
	}
	return http.DetectContentType(body)
}

func contentTypeFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return imageExtensions[strings.ToLower(path.Ext(parsed.Path))]
}
