package service

import (
	"fmt"
	"image"
	"math"

	"github.com/TIANLI0/CloneKit/model"
	"golang.org/x/image/draw"
)

// Placement 前景在背景上的位置与缩放
type Placement struct {
	X, Y  int
	Scale float64
	// Fit 前景大于背景时按比例缩小到背景内
	Fit bool
}

// Patch 待粘贴的前景。Image 保留掩码外的原图像素，融合时作为边界外一圈的引导值
type Patch struct {
	Image *image.NRGBA
	Mask  model.BinaryMask
}

// NewPatch 由裁剪后的原图与同框裁剪的前景组成，前景的不透明像素即掩码
func NewPatch(crop, cutout *image.NRGBA) (Patch, error) {
	if crop.Bounds().Size() != cutout.Bounds().Size() {
		return Patch{}, fmt.Errorf("patch %v vs cutout %v: %w", crop.Bounds().Size(), cutout.Bounds().Size(), ErrDimensionMismatch)
	}
	return Patch{Image: crop, Mask: MaskFromAlpha(cutout)}, nil
}

// PatchFromCutout 只有透明底前景时，掩码外没有上下文，融合时由背景补齐
func PatchFromCutout(cutout *image.NRGBA) Patch {
	return Patch{Image: cutout, Mask: MaskFromAlpha(cutout)}
}

// FitScale 前景超出画布时的等比缩小系数，不超出时为 1
func FitScale(size, canvas image.Point) float64 {
	if size.X <= canvas.X && size.Y <= canvas.Y {
		return 1
	}
	return math.Min(float64(canvas.X)/float64(size.X), float64(canvas.Y)/float64(size.Y))
}

// placeRect 前景按 p 缩放后在画布上的目标区域，未与画布求交
func placeRect(size, canvas image.Point, p Placement) image.Rectangle {
	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	if p.Fit {
		scale *= FitScale(size, canvas)
	}
	w := max(1, int(math.Round(float64(size.X)*scale)))
	h := max(1, int(math.Round(float64(size.Y)*scale)))
	return image.Rect(p.X, p.Y, p.X+w, p.Y+h)
}

// PlaceOnto 把 src 按 p 绘制到 dst 上，尺寸不变时逐像素拷贝，否则用 scaler 重采样。
// 返回 src 实际占据的区域
func PlaceOnto(dst *image.NRGBA, src image.Image, p Placement, scaler draw.Scaler, op draw.Op) image.Rectangle {
	sr := src.Bounds()
	r := placeRect(sr.Size(), dst.Rect.Size(), p)
	if r.Size() == sr.Size() {
		draw.Copy(dst, r.Min, src, sr, op, nil)
	} else {
		scaler.Scale(dst, r, src, sr, op, nil)
	}
	return r.Intersect(dst.Rect)
}

// PlaceMask 用与 PlaceOnto 相同的几何把掩码放到 width×height 上，最近邻缩放保持二值
func PlaceMask(mask model.BinaryMask, width, height int, p Placement) model.BinaryMask {
	src := image.NewAlpha(image.Rect(0, 0, mask.Width, mask.Height))
	for i, on := range mask.Bits {
		if on {
			src.Pix[i] = 0xff
		}
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	PlaceOnto(canvas, src, p, draw.NearestNeighbor, draw.Src)
	return MaskFromAlpha(canvas)
}
