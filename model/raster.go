package model

import "image"

// Channel 像素通道
type Channel int

const (
	ChannelR Channel = iota
	ChannelG
	ChannelB
	ChannelA
)

// BinaryMask 二值掩码，按行存储 (y*Width+x)
type BinaryMask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewBinaryMask(width, height int) BinaryMask {
	return BinaryMask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m BinaryMask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

func (m BinaryMask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// Count 统计被选中的像素数量
func (m BinaryMask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

func (m BinaryMask) Size() image.Point {
	return image.Point{X: m.Width, Y: m.Height}
}

// Sample 带标签的像素特征 (x, y, r, g, b)
type Sample struct {
	X, Y    float64
	R, G, B float64
	Label   float64
}

// Features 返回分类器输入向量
func (s Sample) Features() [5]float64 {
	return [5]float64{s.X, s.Y, s.R, s.G, s.B}
}

// ProbabilityMap 每个像素的前景概率，按行存储
type ProbabilityMap struct {
	Width  int
	Height int
	P      []float64
}

func (pm ProbabilityMap) At(x, y int) float64 {
	return pm.P[y*pm.Width+x]
}
