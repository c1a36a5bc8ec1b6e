// Package imaging holds the pure image transforms used by the proxy: the
// cover-and-crop resize geometry, bilinear scaling, and the decode/encode codec.
// Nothing here performs I/O beyond in-memory buffers.
package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Dimensions 是请求的目标宽高，0 表示未指定。
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) IsZero() bool {
	return d.Width <= 0 && d.Height <= 0
}

// Plan 描述一次缩放的几何：先缩放到 Scaled，再在其上裁剪 Crop。
// Identity 为 true 时原图直接返回。
type Plan struct {
	Identity bool
	Scaled   image.Point
	Crop     image.Rectangle
}

// PlanFor 计算缩放几何，从不放大：
//   - 仅给宽或高时等比缩放，目标不小于原图则保持原样；
//   - 同时给宽高时按 max(tw/ow, th/oh) 覆盖缩放后居中裁剪，比例 >= 1 保持原样。
func PlanFor(src image.Rectangle, d Dimensions) Plan {
	ow, oh := src.Dx(), src.Dy()
	identity := Plan{Identity: true, Scaled: image.Pt(ow, oh), Crop: image.Rect(0, 0, ow, oh)}
	if ow <= 0 || oh <= 0 || d.IsZero() {
		return identity
	}

	tw, th := d.Width, d.Height
	switch {
	case th <= 0:
		if tw >= ow {
			return identity
		}
		nh := scaled(oh, float64(tw)/float64(ow))
		return Plan{Scaled: image.Pt(tw, nh), Crop: image.Rect(0, 0, tw, nh)}
	case tw <= 0:
		if th >= oh {
			return identity
		}
		nw := scaled(ow, float64(th)/float64(oh))
		return Plan{Scaled: image.Pt(nw, th), Crop: image.Rect(0, 0, nw, th)}
	}

	scale := math.Max(float64(tw)/float64(ow), float64(th)/float64(oh))
	if scale >= 1 {
		return identity
	}
	rw, rh := scaled(ow, scale), scaled(oh, scale)
	cw, ch := min(tw, rw), min(th, rh)
	x, y := max(0, (rw-tw)/2), max(0, (rh-th)/2)
	return Plan{
		Scaled: image.Pt(rw, rh),
		Crop:   image.Rect(x, y, x+cw, y+ch),
	}
}

// Resize 按 PlanFor 的几何做双线性缩放与裁剪，返回的图像以 (0,0) 为原点。
func Resize(src image.Image, d Dimensions) image.Image {
	plan := PlanFor(src.Bounds(), d)
	if plan.Identity {
		return src
	}

	resized := image.NewRGBA(image.Rect(0, 0, plan.Scaled.X, plan.Scaled.Y))
	draw.BiLinear.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)
	if plan.Crop == resized.Bounds() {
		return resized
	}

	out := image.NewRGBA(image.Rect(0, 0, plan.Crop.Dx(), plan.Crop.Dy()))
	draw.Draw(out, out.Bounds(), resized, plan.Crop.Min, draw.Src)
	return out
}

func scaled(length int, factor float64) int {
	return max(1, int(math.Round(float64(length)*factor)))
}
