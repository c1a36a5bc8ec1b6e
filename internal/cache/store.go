package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<sha256(key)>.img|.jpg|.png   # 实际正文
//	<CacheDir>/.index.json                   # 大小与最近访问时间索引
//
// 索引只是磁盘状态的镜像，丢失或损坏时可通过扫描目录重建。
type Store interface {
	// Get 读取正文并刷新最近访问时间。未命中返回 ok=false，error 仅表示真实 I/O 失败。
	Get(ctx context.Context, key Key) (Blob, bool, error)

	// Put 通过临时文件 + rename 写入正文，更新索引；超出容量时立即触发一次按大小淘汰。
	Put(ctx context.Context, key Key, data []byte) (Entry, error)

	// Touch 仅刷新索引中的访问时间，不改动文件 mtime。
	Touch(key Key)

	// Remove 删除正文及其索引条目。
	Remove(ctx context.Context, key Key) error

	// Sweep 同步执行一次过期清理与容量淘汰。
	Sweep(ctx context.Context) SweepReport

	Stats() Stats

	// Close 停止后台淘汰，并把索引最后落盘一次。
	Close() error
}

// Options 控制磁盘缓存的位置、容量与后台淘汰节奏。
type Options struct {
	Dir           string
	MaxBytes      int64
	MaxAge        time.Duration
	SweepInterval time.Duration
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Variant 区分原图直通与缩放产物，决定落盘文件后缀。
type Variant int

const (
	VariantOriginal Variant = iota
	VariantResized
	VariantResizedPNG
)

func (v Variant) suffix() string {
	switch v {
	case VariantResized:
		return ".jpg"
	case VariantResizedPNG:
		return ".png"
	default:
		return ".img"
	}
}

var blobSuffixes = []string{".img", ".jpg", ".png"}

// Key 由请求语义确定性派生，相同输入必然得到相同的文件名。
type Key struct {
	Raw     string
	Variant Variant
}

// OriginalKey 对应原图直通：键即源 URL。
func OriginalKey(url string) Key {
	return Key{Raw: url, Variant: VariantOriginal}
}

// ResizedKey 对应缩放产物：url|w|h，仅在请求 PNG 输出时追加 |png。
// 未指定的维度以 0 表示。
func ResizedKey(url string, width, height int, png bool) Key {
	raw := fmt.Sprintf("%s|%d|%d", url, width, height)
	variant := VariantResized
	if png {
		raw += "|png"
		variant = VariantResizedPNG
	}
	return Key{Raw: raw, Variant: variant}
}

// Name 返回内容寻址的文件名，同时作为索引键。
func (k Key) Name() string {
	sum := sha256.Sum256([]byte(k.Raw))
	return hex.EncodeToString(sum[:]) + k.Variant.suffix()
}

// Entry 描述索引中的一个缓存条目。ModTime 取自文件系统，仅在读写时填充。
type Entry struct {
	Name       string
	SizeBytes  int64
	LastAccess time.Time
	ModTime    time.Time
}

// Blob 组合 Entry 与正文字节。
type Blob struct {
	Entry Entry
	Data  []byte
}

// Stats 是缓存目录的即时统计。
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"total_bytes"`
	MaxBytes   int64  `json:"max_bytes"`
}

// SweepReport 汇总一次淘汰的结果。
type SweepReport struct {
	Expired    int
	Evicted    int
	FreedBytes int64
	Failures   int
}

func (r SweepReport) merge(other SweepReport) SweepReport {
	return SweepReport{
		Expired:    r.Expired + other.Expired,
		Evicted:    r.Evicted + other.Evicted,
		FreedBytes: r.FreedBytes + other.FreedBytes,
		Failures:   r.Failures + other.Failures,
	}
}

func (r SweepReport) empty() bool {
	return r.Expired == 0 && r.Evicted == 0 && r.Failures == 0
}
