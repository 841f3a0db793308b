package service

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch 参与逐像素运算的图像尺寸不一致
var ErrDimensionMismatch = errors.New("image dimensions do not match")

// InsufficientDataError 训练集中缺少前景或背景样本
type InsufficientDataError struct {
	Foreground int
	Background int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %d foreground, %d background samples", e.Foreground, e.Background)
}

// DegenerateMaskError 掩码为空或覆盖整张图像
type DegenerateMaskError struct {
	Selected int
	Total    int
}

func (e *DegenerateMaskError) Error() string {
	if e.Selected == 0 {
		return "degenerate mask: no pixels selected"
	}
	return fmt.Sprintf("degenerate mask: all %d pixels selected", e.Total)
}

// TrainingDivergedError 训练多次停滞后放弃
type TrainingDivergedError struct {
	Restarts int
}

func (e *TrainingDivergedError) Error() string {
	return fmt.Sprintf("training stalled after %d restarts", e.Restarts)
}

// SolverError 稀疏最小二乘求解失败
type SolverError struct {
	Channel int
	Reason  string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver failed on channel %d: %s", e.Channel, e.Reason)
}

func checkDegenerate(selected, total int) error {
	if selected == 0 || selected == total {
		return &DegenerateMaskError{Selected: selected, Total: total}
	}
	return nil
}
