package service

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/utils"
	"github.com/james-bowman/sparse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CompositorOptions 泊松融合参数
type CompositorOptions struct {
	DilationKernel   int
	Tolerance        float64
	MaxIterations    int
	ConditionLimit   float64
	ParallelChannels bool
}

func DefaultCompositorOptions() CompositorOptions {
	return CompositorOptions{
		DilationKernel:   3,
		Tolerance:        1e-8,
		ConditionLimit:   1e8,
		ParallelChannels: true,
	}
}

// ColumnMajorIndex 列优先展平：行变化最快，index = y + x*rows
func ColumnMajorIndex(x, y, rows int) int {
	return y + x*rows
}

// GradientOperator 堆叠的二维前向差分 G = [I_cols ⊗ D(rows); D(cols) ⊗ I_rows]，
// 作用于列优先展平的 rows×cols 图像。单行或单列时对应的块为空，直接省略
func GradientOperator(rows, cols int) *sparse.CSR {
	var blocks []nonZeroer
	if rows > 1 {
		blocks = append(blocks, Kron(Identity(cols), ForwardDifference(rows)))
	}
	if cols > 1 {
		blocks = append(blocks, Kron(ForwardDifference(cols), Identity(rows)))
	}
	return VStack(blocks...)
}

// poissonSystem 三个通道共享的算子
type poissonSystem struct {
	rows, cols int
	g          LinearOperator
	a          LinearOperator
	unknowns   []int // 列优先下掩码像素的下标
	inside     []bool
}

func newPoissonSystem(mask model.BinaryMask) *poissonSystem {
	rows, cols := mask.Height, mask.Width
	n := rows * cols
	s := &poissonSystem{rows: rows, cols: cols, inside: make([]bool, n)}
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			if mask.At(x, y) {
				i := ColumnMajorIndex(x, y, rows)
				s.inside[i] = true
				s.unknowns = append(s.unknowns, i)
			}
		}
	}
	g := GradientOperator(rows, cols)
	a := &sparse.CSR{}
	a.Mul(g, Selection(n, s.unknowns))
	s.g, s.a = Operator(g), Operator(a)
	return s
}

// flatten 取出某通道的列优先向量
func (s *poissonSystem) flatten(img *image.NRGBA, ch int) []float64 {
	v := make([]float64, s.rows*s.cols)
	for x := 0; x < s.cols; x++ {
		for y := 0; y < s.rows; y++ {
			v[ColumnMajorIndex(x, y, s.rows)] = float64(img.Pix[y*img.Stride+x*4+ch])
		}
	}
	return v
}

// rhs b = -G·((1-m)∘f) + G·h
func (s *poissonSystem) rhs(f, h []float64) []float64 {
	n := len(f)
	gr, _ := s.g.Dims()
	outside := make([]float64, n)
	for i, in := range s.inside {
		if !in {
			outside[i] = f[i]
		}
	}
	b := make([]float64, gr)
	gh := make([]float64, gr)
	s.g.MulVecTo(b, outside)
	s.g.MulVecTo(gh, h)
	for i := range b {
		b[i] = gh[i] - b[i]
	}
	return b
}

func (s *poissonSystem) solve(ctx context.Context, ch int, f, h []float64, opts CompositorOptions) ([]float64, error) {
	res, err := LSQR(ctx, s.a, s.rhs(f, h), LSQROptions{
		ATol:           opts.Tolerance,
		BTol:           opts.Tolerance,
		ConditionLimit: opts.ConditionLimit,
		MaxIterations:  opts.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	if err := checkSolution(ch, res); err != nil {
		return nil, err
	}
	if res.StopReason == LSQRIterationLimit {
		utils.Logger.Warn("least squares hit iteration limit",
			zap.Int("channel", ch),
			zap.Int("iterations", res.Iterations),
			zap.Float64("residual", res.ResidualNorm))
	}
	utils.Logger.Debug("channel solved",
		zap.Int("channel", ch),
		zap.Int("iterations", res.Iterations),
		zap.Int("stop_reason", res.StopReason))
	return res.X, nil
}

// checkSolution 非有限解或条件数超过上限都视为求解失败
func checkSolution(ch int, res LSQRResult) error {
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &SolverError{Channel: ch, Reason: "non-finite solution"}
		}
	}
	if res.StopReason == LSQRIllConditioned || res.StopReason == LSQRIllConditionedEps {
		utils.Logger.Warn("least squares system is ill-conditioned",
			zap.Int("channel", ch),
			zap.Float64("condition", res.ConditionEstimate))
		return &SolverError{Channel: ch, Reason: fmt.Sprintf("ill-conditioned, condition estimate %.3g", res.ConditionEstimate)}
	}
	return nil
}

// CompositePoisson 将 target 中掩码区域以梯度域方式融合进 source。
// 掩码外像素与 source 完全一致，alpha 通道取自 source。
func CompositePoisson(ctx context.Context, source, target *image.NRGBA, mask model.BinaryMask, opts CompositorOptions) (*image.NRGBA, error) {
	if err := sameSize(mask, source); err != nil {
		return nil, err
	}
	if err := sameSize(mask, target); err != nil {
		return nil, err
	}
	if err := checkDegenerate(mask.Count(), len(mask.Bits)); err != nil {
		return nil, err
	}

	startTime := time.Now()

	// 膨胀后的区域直接拷贝 target，只用于构造右端项
	combined := cloneNRGBA(source)
	dilated := Dilate(mask, opts.DilationKernel)
	for i, on := range dilated.Bits {
		if !on {
			continue
		}
		x, y := i%mask.Width, i/mask.Width
		copy(combined.Pix[y*combined.Stride+x*4:y*combined.Stride+x*4+4], target.Pix[y*target.Stride+x*4:y*target.Stride+x*4+4])
	}

	sys := newPoissonSystem(mask)
	result := cloneNRGBA(source)

	solveChannel := func(ctx context.Context, ch int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, err := sys.solve(ctx, ch, sys.flatten(source, ch), sys.flatten(combined, ch), opts)
		if err != nil {
			return err
		}
		for k, idx := range sys.unknowns {
			px, py := idx/sys.rows, idx%sys.rows
			result.Pix[py*result.Stride+px*4+ch] = clampByte(x[k])
		}
		return nil
	}

	if opts.ParallelChannels {
		g, gctx := errgroup.WithContext(ctx)
		for ch := 0; ch < 3; ch++ {
			g.Go(func() error { return solveChannel(gctx, ch) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for ch := 0; ch < 3; ch++ {
			if err := solveChannel(ctx, ch); err != nil {
				return nil, err
			}
		}
	}

	utils.Logger.Info("poisson composite finished",
		zap.Int("width", mask.Width),
		zap.Int("height", mask.Height),
		zap.Int("unknowns", len(sys.unknowns)),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	for y := 0; y < out.Rect.Dy(); y++ {
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], img.Pix[y*img.Stride:y*img.Stride+out.Stride])
	}
	return out
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
