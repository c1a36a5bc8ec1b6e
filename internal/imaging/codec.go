package imaging

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Format 是缩放结果的输出编码。
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat 解析查询参数，空串默认 JPEG。
func ParseFormat(raw string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	default:
		return "", false
	}
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

const (
	// HighQuality 用于宽高均不超过 QualityThreshold 的输出。
	HighQuality      = 96
	ReducedQuality   = 88
	QualityThreshold = 1000
)

// QualityFor 返回 JPEG 质量档位。
func QualityFor(bounds image.Rectangle) int {
	if bounds.Dx() <= QualityThreshold && bounds.Dy() <= QualityThreshold {
		return HighQuality
	}
	return ReducedQuality
}

// Decode 识别并解码 JPEG/PNG/GIF/WebP/BMP，失败统一包装为 InvalidImageError。
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &InvalidImageError{Err: errors.New("empty body")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &InvalidImageError{Err: err}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, &InvalidImageError{Err: ErrEmptyImage}
	}
	return img, format, nil
}

// EncodeFunc 将图像写入缓冲区。
type EncodeFunc func(buf *bytes.Buffer, img image.Image) error

// Codec 为每种输出格式维护一条编码链：首个成功的编码器生效。
type Codec struct {
	chains map[Format][]EncodeFunc
}

// NewCodec 构造默认编码链：按质量档位编码，失败后回退到默认参数。
func NewCodec() *Codec {
	return NewCodecWith(map[Format][]EncodeFunc{
		FormatJPEG: {encodeJPEGTiered, encodeJPEGDefault},
		FormatPNG:  {encodePNGBest, encodePNGDefault},
	})
}

func NewCodecWith(chains map[Format][]EncodeFunc) *Codec {
	return &Codec{chains: chains}
}

// Encode 依次尝试编码链，全部失败时返回 EncodeError（携带最后一次错误）。
func (c *Codec) Encode(img image.Image, format Format) ([]byte, error) {
	chain := c.chains[format]
	if len(chain) == 0 {
		return nil, &EncodeError{Format: format, Err: errors.New("unsupported format")}
	}

	var (
		buf     bytes.Buffer
		lastErr error
	)
	for _, encode := range chain {
		buf.Reset()
		if lastErr = encode(&buf, img); lastErr == nil {
			return buf.Bytes(), nil
		}
	}
	return nil, &EncodeError{Format: format, Err: lastErr}
}

func encodeJPEGTiered(buf *bytes.Buffer, img image.Image) error {
	return jpeg.Encode(buf, img, &jpeg.Options{Quality: QualityFor(img.Bounds())})
}

func encodeJPEGDefault(buf *bytes.Buffer, img image.Image) error {
	return jpeg.Encode(buf, img, nil)
}

func encodePNGBest(buf *bytes.Buffer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(buf, img)
}

func encodePNGDefault(buf *bytes.Buffer, img image.Image) error {
	return png.Encode(buf, img)
}
