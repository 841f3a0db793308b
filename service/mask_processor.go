package service

import (
	"fmt"
	"image"
	"image/color"

	"github.com/TIANLI0/CloneKit/model"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// MaskProcessor 负责处理图像掩码
type MaskProcessor struct {
	trimMargin int
	overlay    color.NRGBA
}

func NewMaskProcessor(trimMargin int, overlayHex string) (*MaskProcessor, error) {
	c, err := colorful.Hex(overlayHex)
	if err != nil {
		return nil, fmt.Errorf("invalid mask color %q: %w", overlayHex, err)
	}
	r, g, b := c.RGB255()
	return &MaskProcessor{
		trimMargin: trimMargin,
		overlay:    color.NRGBA{R: r, G: g, B: b, A: 255},
	}, nil
}

// Trim 按配置的边距裁剪
func (mp *MaskProcessor) Trim(img *image.NRGBA, occupancy model.BinaryMask) (*image.NRGBA, image.Rectangle, error) {
	return TrimToBoundingBox(img, occupancy, mp.trimMargin)
}

// Render 把掩码绘制成透明底的叠加图
func (mp *MaskProcessor) Render(mask model.BinaryMask) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	px := []uint8{mp.overlay.R, mp.overlay.G, mp.overlay.B, mp.overlay.A}
	for i, on := range mask.Bits {
		if on {
			copy(out.Pix[i*4:i*4+4], px)
		}
	}
	return out
}

// BoundingBox 计算选中像素的最小外接矩形并向外扩展 margin，空掩码返回整幅图
func BoundingBox(occupancy model.BinaryMask, margin int) image.Rectangle {
	full := image.Rect(0, 0, occupancy.Width, occupancy.Height)
	minX, minY := occupancy.Width, occupancy.Height
	maxX, maxY := -1, -1
	for i, on := range occupancy.Bits {
		if !on {
			continue
		}
		x, y := i%occupancy.Width, i/occupancy.Width
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	if maxX < 0 {
		return full
	}
	box := image.Rect(minX-margin, minY-margin, maxX+1+margin, maxY+1+margin)
	return box.Intersect(full)
}

// TrimToBoundingBox 按掩码外接矩形原样裁剪图像，不做重采样
func TrimToBoundingBox(img *image.NRGBA, occupancy model.BinaryMask, margin int) (*image.NRGBA, image.Rectangle, error) {
	if err := sameSize(occupancy, img); err != nil {
		return nil, image.Rectangle{}, err
	}
	box := BoundingBox(occupancy, margin)
	return imaging.Crop(img, box), box, nil
}

// ExtractSelection 只保留掩码内像素且置为不透明，其余透明
func ExtractSelection(img *image.NRGBA, mask model.BinaryMask) (*image.NRGBA, error) {
	if err := sameSize(mask, img); err != nil {
		return nil, err
	}
	if err := checkDegenerate(mask.Count(), len(mask.Bits)); err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+mask.Width*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+mask.Width*4]
		for x, on := range mask.Bits[y*mask.Width : (y+1)*mask.Width] {
			if on {
				copy(dst[x*4:x*4+3], src[x*4:x*4+3])
				dst[x*4+3] = 0xff
			}
		}
	}
	return out, nil
}

// MaskFromAlpha 完全不透明的像素视为占用
func MaskFromAlpha(img *image.NRGBA) model.BinaryMask {
	return MaskFromChannel(img, model.ChannelA, 255)
}

// KeepLargest 保留掩码中最大的4连通区域
func KeepLargest(mask model.BinaryMask) model.BinaryMask {
	labels := make([]int32, len(mask.Bits))
	var (
		bestLabel int32
		bestSize  int
		next      int32
		stack     []int
	)
	for start, on := range mask.Bits {
		if !on || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)
		size := 0
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			x, y := i%mask.Width, i/mask.Width
			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if nb[0] < 0 || nb[0] >= mask.Width || nb[1] < 0 || nb[1] >= mask.Height {
					continue
				}
				j := nb[1]*mask.Width + nb[0]
				if mask.Bits[j] && labels[j] == 0 {
					labels[j] = next
					stack = append(stack, j)
				}
			}
		}
		if size > bestSize {
			bestSize, bestLabel = size, next
		}
	}

	out := model.NewBinaryMask(mask.Width, mask.Height)
	if bestLabel == 0 {
		return out
	}
	for i, l := range labels {
		out.Bits[i] = l == bestLabel
	}
	return out
}
