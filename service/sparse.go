package service

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// nonZeroer 能遍历非零元的稀疏矩阵（CSR/COO/DIA 均满足）
type nonZeroer interface {
	mat.Matrix
	NNZ() int
	DoNonZero(fn func(i, j int, v float64))
}

// Identity n×n 单位阵
func Identity(n int) *sparse.DIA {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return sparse.NewDIA(n, n, ones)
}

// ForwardDifference (n-1)×n 前向差分，D[i,i]=1, D[i,i+1]=-1，n 至少为 2
func ForwardDifference(n int) *sparse.CSR {
	rows := n - 1
	ri := make([]int, 0, 2*rows)
	ci := make([]int, 0, 2*rows)
	vals := make([]float64, 0, 2*rows)
	for i := 0; i < rows; i++ {
		ri = append(ri, i, i)
		ci = append(ci, i, i+1)
		vals = append(vals, 1, -1)
	}
	return sparse.NewCOO(rows, n, ri, ci, vals).ToCSR()
}

// Selection n×len(idx)，第 j 列在 idx[j] 行为 1
func Selection(n int, idx []int) *sparse.CSR {
	ri := make([]int, len(idx))
	ci := make([]int, len(idx))
	vals := make([]float64, len(idx))
	for j, i := range idx {
		ri[j], ci[j], vals[j] = i, j, 1
	}
	return sparse.NewCOO(n, len(idx), ri, ci, vals).ToCSR()
}

// Kron 克罗内克积 a ⊗ b
func Kron(a, b nonZeroer) *sparse.CSR {
	ar, ac := a.Dims()
	br, bc := b.Dims()

	type entry struct {
		i, j int
		v    float64
	}
	bs := make([]entry, 0, b.NNZ())
	b.DoNonZero(func(i, j int, v float64) { bs = append(bs, entry{i, j, v}) })

	n := a.NNZ() * len(bs)
	ri, ci, vals := make([]int, 0, n), make([]int, 0, n), make([]float64, 0, n)
	a.DoNonZero(func(i, j int, v float64) {
		for _, e := range bs {
			ri = append(ri, i*br+e.i)
			ci = append(ci, j*bc+e.j)
			vals = append(vals, v*e.v)
		}
	})
	return sparse.NewCOO(ar*br, ac*bc, ri, ci, vals).ToCSR()
}

// VStack 纵向拼接，列数必须一致
func VStack(blocks ...nonZeroer) *sparse.CSR {
	if len(blocks) == 0 {
		panic(mat.ErrZeroLength)
	}
	_, cols := blocks[0].Dims()
	var (
		rows   int
		ri, ci []int
		vals   []float64
	)
	for _, blk := range blocks {
		r, c := blk.Dims()
		if c != cols {
			panic(mat.ErrShape)
		}
		offset := rows
		blk.DoNonZero(func(i, j int, v float64) {
			ri = append(ri, offset+i)
			ci = append(ci, j)
			vals = append(vals, v)
		})
		rows += r
	}
	return sparse.NewCOO(rows, cols, ri, ci, vals).ToCSR()
}

// Operator 把 CSR 适配为 LSQR 的线性算子
func Operator(m *sparse.CSR) LinearOperator {
	return csrOperator{m: m}
}

type csrOperator struct {
	m *sparse.CSR
}

func (o csrOperator) Dims() (r, c int) { return o.m.Dims() }

// MulVecTo dst = m·x
func (o csrOperator) MulVecTo(dst, x []float64) {
	clear(dst)
	o.m.MulVecTo(dst, false, x)
}

// MulTransVecTo dst = mᵀ·x
func (o csrOperator) MulTransVecTo(dst, x []float64) {
	clear(dst)
	o.m.MulVecTo(dst, true, x)
}
