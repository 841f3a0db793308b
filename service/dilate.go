//go:build !opencv

package service

import "github.com/TIANLI0/CloneKit/model"

// Dilate 以 size×size 全1结构元素膨胀掩码，图像外视为未选中
func Dilate(mask model.BinaryMask, size int) model.BinaryMask {
	if size <= 1 {
		out := model.NewBinaryMask(mask.Width, mask.Height)
		copy(out.Bits, mask.Bits)
		return out
	}
	lo := (size - 1) / 2
	hi := size - 1 - lo

	// 先横向再纵向，两次一维膨胀等价于矩形核
	rows := model.NewBinaryMask(mask.Width, mask.Height)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.At(x, y) {
				continue
			}
			for dx := max(0, x-hi); dx <= min(mask.Width-1, x+lo); dx++ {
				rows.Set(dx, y, true)
			}
		}
	}

	out := model.NewBinaryMask(mask.Width, mask.Height)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !rows.At(x, y) {
				continue
			}
			for dy := max(0, y-hi); dy <= min(mask.Height-1, y+lo); dy++ {
				out.Set(x, dy, true)
			}
		}
	}
	return out
}
