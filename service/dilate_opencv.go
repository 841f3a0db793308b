//go:build opencv

package service

import (
	"image"

	"github.com/TIANLI0/CloneKit/model"
	"gocv.io/x/gocv"
)

// Dilate 使用OpenCV矩形结构元素膨胀掩码
func Dilate(mask model.BinaryMask, size int) model.BinaryMask {
	out := model.NewBinaryMask(mask.Width, mask.Height)
	if size <= 1 {
		copy(out.Bits, mask.Bits)
		return out
	}

	src := gocv.NewMatWithSize(mask.Height, mask.Width, gocv.MatTypeCV8U)
	defer src.Close()
	src.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for i, on := range mask.Bits {
		if on {
			src.SetUCharAt(i/mask.Width, i%mask.Width, 255)
		}
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: size, Y: size})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(src, &dilated, kernel)

	for i := range out.Bits {
		out.Bits[i] = dilated.GetUCharAt(i/mask.Width, i%mask.Width) > 0
	}
	return out
}
