package service

import "github.com/TIANLI0/CloneKit/model"

// MaskAnalyzer 统计推断掩码的覆盖率与置信度
type MaskAnalyzer struct {
	threshold float64
}

type MaskStats struct {
	Selected        int
	ForegroundRatio float64
	// Confidence 选中像素的平均概率
	Confidence float64
	// Uncertain 概率落在 [1-threshold, threshold) 之间的像素比例
	Uncertain float64
}

func NewMaskAnalyzer(threshold float64) *MaskAnalyzer {
	return &MaskAnalyzer{threshold: threshold}
}

// Analyze 分析概率图与阈值化后的掩码
func (ma *MaskAnalyzer) Analyze(pm model.ProbabilityMap, mask model.BinaryMask) MaskStats {
	total := len(mask.Bits)
	if total == 0 {
		return MaskStats{}
	}

	low := min(ma.threshold, 1-ma.threshold)
	high := max(ma.threshold, 1-ma.threshold)

	var stats MaskStats
	sum, uncertain := 0.0, 0
	for i, on := range mask.Bits {
		p := pm.P[i]
		if on {
			stats.Selected++
			sum += p
		}
		if p >= low && p < high {
			uncertain++
		}
	}

	stats.ForegroundRatio = float64(stats.Selected) / float64(total)
	stats.Uncertain = float64(uncertain) / float64(total)
	if stats.Selected > 0 {
		stats.Confidence = sum / float64(stats.Selected)
	}
	return stats
}
