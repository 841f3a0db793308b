package service

import (
	"image"

	"github.com/TIANLI0/CloneKit/model"
)

const (
	LabelForeground = 1.0
	LabelBackground = 0.0
)

// MaskFromChannel 通道值精确等于 value 的像素置为 true
func MaskFromChannel(img *image.NRGBA, ch model.Channel, value uint8) model.BinaryMask {
	b := img.Bounds()
	mask := model.NewBinaryMask(b.Dx(), b.Dy())
	for y := 0; y < mask.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+mask.Width*4]
		bits := mask.Bits[y*mask.Width : (y+1)*mask.Width]
		for x := range bits {
			bits[x] = row[x*4+int(ch)] == value
		}
	}
	return mask
}

// ScribbleMasks 从涂抹层解析前景(绿)与背景(红)掩码
func ScribbleMasks(scribble *image.NRGBA) (fg, bg model.BinaryMask) {
	return MaskFromChannel(scribble, model.ChannelG, 255), MaskFromChannel(scribble, model.ChannelR, 255)
}

// ExtractSamples 为掩码中每个选中像素生成一个带标签样本
func ExtractSamples(mask model.BinaryMask, img *image.NRGBA, label float64) ([]model.Sample, error) {
	if err := sameSize(mask, img); err != nil {
		return nil, err
	}

	samples := make([]model.Sample, 0, mask.Count())
	for i, on := range mask.Bits {
		if !on {
			continue
		}
		x, y := i%mask.Width, i/mask.Width
		p := img.Pix[y*img.Stride+x*4:]
		samples = append(samples, model.Sample{
			X:     float64(x),
			Y:     float64(y),
			R:     float64(p[0]),
			G:     float64(p[1]),
			B:     float64(p[2]),
			Label: label,
		})
	}
	return samples, nil
}

func sameSize(mask model.BinaryMask, img *image.NRGBA) error {
	if img.Bounds().Dx() != mask.Width || img.Bounds().Dy() != mask.Height {
		return ErrDimensionMismatch
	}
	return nil
}
