package service

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LinearOperator 最小二乘求解只需要 A·x 与 Aᵀ·y
type LinearOperator interface {
	Dims() (r, c int)
	MulVecTo(dst, x []float64)
	MulTransVecTo(dst, x []float64)
}

// LSQR 终止原因
const (
	LSQRZeroSolution = iota
	LSQRConsistent
	LSQRLeastSquares
	LSQRIllConditioned
	LSQRConsistentEps
	LSQRLeastSquaresEps
	LSQRIllConditionedEps
	LSQRIterationLimit
)

type LSQROptions struct {
	ATol, BTol     float64
	ConditionLimit float64
	// MaxIterations 为 0 时取 2×列数
	MaxIterations int
}

type LSQRResult struct {
	X            []float64
	StopReason   int
	Iterations   int
	ResidualNorm float64
	// ConditionEstimate A 的条件数估计
	ConditionEstimate float64
}

// ctxCheckInterval 每隔多少次迭代检查一次取消
const ctxCheckInterval = 16

// LSQR Paige–Saunders 迭代法求 min ‖A·x − b‖，允许非方阵与秩亏
func LSQR(ctx context.Context, a LinearOperator, b []float64, opts LSQROptions) (LSQRResult, error) {
	m, n := a.Dims()
	iterLim := opts.MaxIterations
	if iterLim <= 0 {
		iterLim = 2 * n
	}
	ctol := 0.0
	if opts.ConditionLimit > 0 {
		ctol = 1 / opts.ConditionLimit
	}
	const eps = 2.220446049250313e-16

	x := make([]float64, n)
	u := make([]float64, m)
	copy(u, b)
	v := make([]float64, n)
	w := make([]float64, n)
	tmpM := make([]float64, m)
	tmpN := make([]float64, n)

	beta := floats.Norm(u, 2)
	if beta > 0 {
		floats.Scale(1/beta, u)
	}
	a.MulTransVecTo(v, u)
	alpha := floats.Norm(v, 2)
	if alpha > 0 {
		floats.Scale(1/alpha, v)
	}
	copy(w, v)

	res := LSQRResult{X: x, ResidualNorm: beta}
	if alpha*beta == 0 {
		return res, nil
	}

	var (
		anorm, ddnorm, xnorm, xxnorm, z float64
		cs2, sn2                        = -1.0, 0.0
		phibar, rhobar                  = beta, alpha
		bnorm                           = beta
	)

	for itn := 1; ; itn++ {
		if itn%ctxCheckInterval == 1 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		// 双对角化
		a.MulVecTo(tmpM, v)
		floats.AddScaledTo(u, tmpM, -alpha, u)
		beta = floats.Norm(u, 2)
		if beta > 0 {
			floats.Scale(1/beta, u)
			anorm = math.Sqrt(anorm*anorm + alpha*alpha + beta*beta)
			a.MulTransVecTo(tmpN, u)
			floats.AddScaledTo(v, tmpN, -beta, v)
			alpha = floats.Norm(v, 2)
			if alpha > 0 {
				floats.Scale(1/alpha, v)
			}
		}

		// 平面旋转消去次对角
		rho := math.Hypot(rhobar, beta)
		cs := rhobar / rho
		sn := beta / rho
		theta := sn * alpha
		rhobar = -cs * alpha
		phi := cs * phibar
		phibar = sn * phibar
		tau := sn * phi

		t1 := phi / rho
		t2 := -theta / rho
		dknorm := floats.Norm(w, 2) / rho
		ddnorm += dknorm * dknorm
		floats.AddScaled(x, t1, w)
		floats.AddScaledTo(w, v, t2, w)

		// ‖x‖ 估计
		delta := sn2 * rho
		gambar := -cs2 * rho
		rhs := phi - delta*z
		zbar := rhs / gambar
		xnorm = math.Sqrt(xxnorm + zbar*zbar)
		gamma := math.Hypot(gambar, theta)
		cs2 = gambar / gamma
		sn2 = theta / gamma
		z = rhs / gamma
		xxnorm += z * z

		acond := anorm * math.Sqrt(ddnorm)
		rnorm := phibar
		arnorm := alpha * math.Abs(tau)

		test1 := rnorm / bnorm
		test2 := arnorm / (anorm*rnorm + eps)
		test3 := 1 / (acond + eps)
		tt := test1 / (1 + anorm*xnorm/bnorm)
		rtol := opts.BTol + opts.ATol*anorm*xnorm/bnorm

		res.Iterations = itn
		res.ResidualNorm = rnorm
		res.ConditionEstimate = acond

		stop := 0
		switch {
		case test1 <= rtol:
			stop = LSQRConsistent
		case test2 <= opts.ATol:
			stop = LSQRLeastSquares
		case test3 <= ctol:
			stop = LSQRIllConditioned
		case 1+tt <= 1:
			stop = LSQRConsistentEps
		case 1+test2 <= 1:
			stop = LSQRLeastSquaresEps
		case 1+test3 <= 1:
			stop = LSQRIllConditionedEps
		case itn >= iterLim:
			stop = LSQRIterationLimit
		}
		if stop != 0 {
			res.StopReason = stop
			return res, nil
		}
	}
}
