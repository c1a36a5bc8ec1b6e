package imaging

import (
	"errors"
	"fmt"
)

// ErrEmptyImage 表示解码成功但尺寸为 0。
var ErrEmptyImage = errors.New("image has no pixels")

// InvalidImageError 表示源字节无法解码为受支持的图像格式。
type InvalidImageError struct {
	Err error
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *InvalidImageError) Unwrap() error {
	return e.Err
}

// EncodeError 表示主编码器与默认参数回退编码均失败。
type EncodeError struct {
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
