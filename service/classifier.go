package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const featureCount = 5

// ClassifierOptions 控制一次训练
type ClassifierOptions struct {
	Epochs       int
	LearningRate float64
	Hidden1      int
	Hidden2      int
	// StallChecks 连续多少次损失不变后判定为停滞
	StallChecks int
	MaxRestarts int
	// Seed 为 0 时使用时间种子
	Seed uint64
}

func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		Epochs:       1000,
		LearningRate: 0.01,
		Hidden1:      16,
		Hidden2:      32,
		StallChecks:  10,
		MaxRestarts:  5,
	}
}

// Validate 轮数与隐藏层宽度必须为正
func (o ClassifierOptions) Validate() error {
	switch {
	case o.Epochs <= 0:
		return fmt.Errorf("invalid classifier options: epochs must be positive, got %d", o.Epochs)
	case o.Hidden1 <= 0 || o.Hidden2 <= 0:
		return fmt.Errorf("invalid classifier options: hidden layers must be positive, got %d/%d", o.Hidden1, o.Hidden2)
	case o.StallChecks < 0 || o.MaxRestarts < 0:
		return fmt.Errorf("invalid classifier options: stall_checks and max_restarts must not be negative")
	}
	return nil
}

// denseLayer y = x·W + b
type denseLayer struct {
	W *mat.Dense
	B []float64
}

// ClassifierParameters 前馈网络参数 5 → h1 → h2 → 1，隐藏层ReLU，输出sigmoid
type ClassifierParameters struct {
	layers [3]denseLayer
}

func newParameters(rng *rand.Rand, h1, h2 int) *ClassifierParameters {
	sizes := [4]int{featureCount, h1, h2, 1}
	p := &ClassifierParameters{}
	for l := range p.layers {
		in, out := sizes[l], sizes[l+1]
		bound := 1 / math.Sqrt(float64(in))
		w := make([]float64, in*out)
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * bound
		}
		b := make([]float64, out)
		for i := range b {
			b[i] = (rng.Float64()*2 - 1) * bound
		}
		p.layers[l] = denseLayer{W: mat.NewDense(in, out, w), B: b}
	}
	return p
}

// forward 计算 sigmoid 之前的输出；pre/act 非空时保存隐藏层中间结果
func (p *ClassifierParameters) forward(x *mat.Dense, pre, act []*mat.Dense) *mat.Dense {
	in := mat.Matrix(x)
	var z *mat.Dense
	for l, layer := range p.layers {
		if pre != nil {
			z = pre[l]
		} else {
			z = new(mat.Dense)
		}
		z.Mul(in, layer.W)
		addBias(z, layer.B)
		if l == len(p.layers)-1 {
			break
		}
		var a *mat.Dense
		if act != nil {
			a = act[l]
		} else {
			a = new(mat.Dense)
		}
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z)
		in = a
	}
	return z
}

// Predict 返回每行特征的前景概率
func (p *ClassifierParameters) Predict(features *mat.Dense) []float64 {
	z := p.forward(features, nil, nil)
	n, _ := z.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = sigmoid(z.At(i, 0))
	}
	return out
}

// TrainClassifier 在涂抹样本上从零训练一个新网络
func TrainClassifier(ctx context.Context, foreground, background []model.Sample, opts ClassifierOptions) (*ClassifierParameters, error) {
	if len(foreground) == 0 || len(background) == 0 {
		return nil, &InsufficientDataError{Foreground: len(foreground), Background: len(background)}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	x, y := sampleMatrix(foreground, background)

	for attempt := 0; attempt <= opts.MaxRestarts; attempt++ {
		params := newParameters(rng, opts.Hidden1, opts.Hidden2)
		err := fit(ctx, params, x, y, opts)
		if err == nil {
			utils.Logger.Info("classifier trained",
				zap.Int("foreground", len(foreground)),
				zap.Int("background", len(background)),
				zap.Int("restarts", attempt))
			return params, nil
		}
		if !errors.Is(err, errStalled) {
			return nil, err
		}
		utils.Logger.Warn("training stalled, restarting with fresh parameters",
			zap.Int("attempt", attempt+1))
	}
	return nil, &TrainingDivergedError{Restarts: opts.MaxRestarts}
}

var errStalled = errors.New("training loss stalled")

// convergedLoss 以下视为已拟合；此时损失不再变化不算停滞
const convergedLoss = 1e-6

// fit 全批量 Adam + 二元交叉熵
func fit(ctx context.Context, p *ClassifierParameters, x *mat.Dense, y []float64, opts ClassifierOptions) error {
	n := len(y)
	pre := make([]*mat.Dense, len(p.layers))
	act := make([]*mat.Dense, len(p.layers)-1)
	for l := range pre {
		pre[l] = new(mat.Dense)
	}
	for l := range act {
		act[l] = new(mat.Dense)
	}

	opt := newAdam(p, opts.LearningRate)
	grads := make([]denseLayer, len(p.layers))
	for l, layer := range p.layers {
		r, c := layer.W.Dims()
		grads[l] = denseLayer{W: mat.NewDense(r, c, nil), B: make([]float64, c)}
	}

	lastLoss := math.NaN()
	stallBudget := opts.StallChecks
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		logits := p.forward(x, pre, act)

		// dL/dz = (p - y) / n
		loss := 0.0
		delta := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			prob := sigmoid(logits.At(i, 0))
			loss -= y[i]*clampedLog(prob) + (1-y[i])*clampedLog(1-prob)
			delta.Set(i, 0, (prob-y[i])/float64(n))
		}
		loss /= float64(n)
		if loss <= convergedLoss {
			utils.Logger.Debug("training converged", zap.Int("epoch", epoch))
			return nil
		}

		if loss == lastLoss {
			if stallBudget == 0 {
				return errStalled
			}
			stallBudget--
		} else {
			stallBudget = opts.StallChecks
		}
		lastLoss = loss

		for l := len(p.layers) - 1; l >= 0; l-- {
			var in mat.Matrix = x
			if l > 0 {
				in = act[l-1]
			}
			grads[l].W.Mul(in.T(), delta)
			columnSums(delta, grads[l].B)
			if l == 0 {
				break
			}
			next := new(mat.Dense)
			next.Mul(delta, p.layers[l].W.T())
			z := pre[l-1]
			next.Apply(func(i, j int, v float64) float64 {
				if z.At(i, j) > 0 {
					return v
				}
				return 0
			}, next)
			delta = next
		}

		opt.step(p, grads)

		if epoch%100 == 0 {
			utils.Logger.Debug("training loss",
				zap.Int("epoch", epoch),
				zap.Float64("loss", loss))
		}
	}
	return nil
}

// adam 每个参数一份一阶/二阶矩
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(p *ClassifierParameters, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, layer := range p.layers {
		for _, data := range [][]float64{layer.W.RawMatrix().Data, layer.B} {
			a.m = append(a.m, make([]float64, len(data)))
			a.v = append(a.v, make([]float64, len(data)))
		}
	}
	return a
}

func (a *adam) step(p *ClassifierParameters, grads []denseLayer) {
	a.t++
	b1t := 1 - math.Pow(a.beta1, float64(a.t))
	b2t := 1 - math.Pow(a.beta2, float64(a.t))
	k := 0
	for l, layer := range p.layers {
		params := [][]float64{layer.W.RawMatrix().Data, layer.B}
		gs := [][]float64{grads[l].W.RawMatrix().Data, grads[l].B}
		for j, data := range params {
			m, v, g := a.m[k], a.v[k], gs[j]
			for i := range data {
				m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
				v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
				data[i] -= a.lr * (m[i] / b1t) / (math.Sqrt(v[i]/b2t) + a.eps)
			}
			k++
		}
	}
}

// EvaluateClassifier 对整张图每个像素求前景概率
func EvaluateClassifier(params *ClassifierParameters, img *image.NRGBA) (model.ProbabilityMap, error) {
	if params == nil {
		return model.ProbabilityMap{}, fmt.Errorf("classifier is not trained")
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	pm := model.ProbabilityMap{Width: w, Height: h, P: make([]float64, w*h)}
	if w == 0 || h == 0 {
		return pm, nil
	}

	workers := runtime.GOMAXPROCS(0)
	rowsPerBlock := max(1, (h+workers-1)/workers)

	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += rowsPerBlock {
		y1 := min(h, y0+rowsPerBlock)
		g.Go(func() error {
			features := mat.NewDense((y1-y0)*w, featureCount, nil)
			row := 0
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					p := img.Pix[y*img.Stride+x*4:]
					features.SetRow(row, []float64{float64(x), float64(y), float64(p[0]), float64(p[1]), float64(p[2])})
					row++
				}
			}
			copy(pm.P[y0*w:y1*w], params.Predict(features))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.ProbabilityMap{}, err
	}
	return pm, nil
}

// ThresholdMask 概率 ≥ threshold 的像素归为前景
func ThresholdMask(pm model.ProbabilityMap, threshold float64) model.BinaryMask {
	mask := model.NewBinaryMask(pm.Width, pm.Height)
	for i, p := range pm.P {
		mask.Bits[i] = p >= threshold
	}
	return mask
}

func sampleMatrix(foreground, background []model.Sample) (*mat.Dense, []float64) {
	n := len(foreground) + len(background)
	x := mat.NewDense(n, featureCount, nil)
	y := make([]float64, 0, n)
	i := 0
	for _, set := range [][]model.Sample{foreground, background} {
		for _, s := range set {
			f := s.Features()
			x.SetRow(i, f[:])
			y = append(y, s.Label)
			i++
		}
	}
	return x, y
}

func addBias(z *mat.Dense, b []float64) {
	raw := z.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] += b[j]
		}
	}
}

func columnSums(m *mat.Dense, dst []float64) {
	for j := range dst {
		dst[j] = 0
	}
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, v := range row {
			dst[j] += v
		}
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// clampedLog 与常见BCE实现一致，log下限为 -100
func clampedLog(v float64) float64 {
	return math.Max(math.Log(v), -100)
}
