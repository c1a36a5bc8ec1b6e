package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityTiers(t *testing.T) {
	assert.Equal(t, HighQuality, QualityFor(image.Rect(0, 0, 1000, 1000)))
	assert.Equal(t, ReducedQuality, QualityFor(image.Rect(0, 0, 1001, 10)))
	assert.Equal(t, ReducedQuality, QualityFor(image.Rect(0, 0, 10, 1200)))
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatJPEG, "jpg": FormatJPEG, "JPEG": FormatJPEG, "png": FormatPNG} {
		got, ok := ParseFormat(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFormat("gif")
	assert.False(t, ok)
	assert.Equal(t, "image/png", FormatPNG.ContentType())
	assert.Equal(t, "image/jpeg", FormatJPEG.ContentType())
}

func TestDecodeSupportedFormats(t *testing.T) {
	src := gradient(20, 10)

	var pngBuf, jpegBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))
	require.NoError(t, jpeg.Encode(&jpegBuf, src, nil))

	img, format, err := Decode(pngBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())

	_, format, err = Decode(jpegBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("<html>not an image</html>")} {
		_, _, err := Decode(data)
		var invalid *InvalidImageError
		require.ErrorAs(t, err, &invalid)
	}
}

func TestEncodeRoundTripsDimensions(t *testing.T) {
	codec := NewCodec()
	src := gradient(64, 32)

	for _, format := range []Format{FormatJPEG, FormatPNG} {
		data, err := codec.Encode(src, format)
		require.NoError(t, err)
		img, decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, string(format), decoded)
		assert.Equal(t, src.Bounds(), img.Bounds())
	}
}

func TestEncodeFallsBackToDefaults(t *testing.T) {
	primaryErr := errors.New("tiered encoder unavailable")
	codec := NewCodecWith(map[Format][]EncodeFunc{
		FormatJPEG: {
			func(*bytes.Buffer, image.Image) error { return primaryErr },
			encodeJPEGDefault,
		},
	})

	data, err := codec.Encode(gradient(8, 8), FormatJPEG)
	require.NoError(t, err)
	_, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestEncodeErrorWhenEveryEncoderFails(t *testing.T) {
	finalErr := errors.New("fallback failed")
	codec := NewCodecWith(map[Format][]EncodeFunc{
		FormatPNG: {
			func(buf *bytes.Buffer, _ image.Image) error {
				buf.WriteString("partial")
				return errors.New("primary failed")
			},
			func(*bytes.Buffer, image.Image) error { return finalErr },
		},
	})

	data, err := codec.Encode(gradient(8, 8), FormatPNG)
	assert.Nil(t, data)
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, FormatPNG, encErr.Format)
	assert.ErrorIs(t, err, finalErr)

	_, err = codec.Encode(gradient(8, 8), FormatJPEG)
	require.ErrorAs(t, err, &encErr)
}
