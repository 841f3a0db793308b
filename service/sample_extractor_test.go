package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/CloneKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSamples(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(2, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	mask := model.NewBinaryMask(3, 2)
	mask.Set(2, 1, true)
	mask.Set(0, 0, true)

	samples, err := ExtractSamples(mask, img, LabelForeground)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, model.Sample{X: 0, Y: 0, R: 1, G: 2, B: 3, Label: 1}, samples[0])
	assert.Equal(t, model.Sample{X: 2, Y: 1, R: 10, G: 20, B: 30, Label: 1}, samples[1])
}

func TestExtractSamplesLabelsAndCounts(t *testing.T) {
	img := solidImage(8, 6, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	fg := maskFromRect(8, 6, image.Rect(0, 0, 3, 3))
	bg := maskFromRect(8, 6, image.Rect(5, 2, 8, 6))

	fgSamples, err := ExtractSamples(fg, img, LabelForeground)
	require.NoError(t, err)
	bgSamples, err := ExtractSamples(bg, img, LabelBackground)
	require.NoError(t, err)

	for _, s := range fgSamples {
		assert.Equal(t, 1.0, s.Label)
	}
	for _, s := range bgSamples {
		assert.Equal(t, 0.0, s.Label)
	}
	assert.Equal(t, fg.Count()+bg.Count(), len(fgSamples)+len(bgSamples))
}

func TestExtractSamplesEmptyMask(t *testing.T) {
	samples, err := ExtractSamples(model.NewBinaryMask(4, 4), solidImage(4, 4, red), LabelBackground)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestExtractSamplesDimensionMismatch(t *testing.T) {
	_, err := ExtractSamples(model.NewBinaryMask(4, 3), solidImage(4, 4, red), LabelForeground)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestScribbleMasks(t *testing.T) {
	scribble := solidImage(4, 1, transparent)
	scribble.SetNRGBA(0, 0, green)
	scribble.SetNRGBA(1, 0, red)
	scribble.SetNRGBA(2, 0, color.NRGBA{G: 254, A: 255})

	fg, bg := ScribbleMasks(scribble)
	assert.Equal(t, []bool{true, false, false, false}, fg.Bits)
	assert.Equal(t, []bool{false, true, false, false}, bg.Bits)
}

func TestMaskFromChannelHonorsStride(t *testing.T) {
	parent := solidImage(6, 6, transparent)
	parent.SetNRGBA(3, 3, blue)
	sub := parent.SubImage(image.Rect(2, 2, 5, 5)).(*image.NRGBA)
	// 子图原点不为0，统一后再处理
	img := cloneNRGBA(sub)

	mask := MaskFromChannel(img, model.ChannelB, 255)
	assert.Equal(t, 1, mask.Count())
	assert.True(t, mask.At(1, 1))
}
