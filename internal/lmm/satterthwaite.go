package lmm

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

var central = &fd.Settings{Formula: fd.Central}

// satterthwaite approximates denominator degrees of freedom for linear
// combinations of the fixed effects from the asymptotic covariance of the
// variance parameters (theta, sigma).
type satterthwaite struct {
	s    *pls
	par  []float64
	acov *mat.SymDense
}

func newSatterthwaite(s *pls, theta []float64, sigma float64) *satterthwaite {
	par := append(append([]float64(nil), theta...), sigma)
	k := len(par)

	h := mat.NewSymDense(k, nil)
	fd.Hessian(h, s.full, par, central)

	var eig mat.EigenSym
	if !eig.Factorize(h, true) {
		return &satterthwaite{s: s, par: par}
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	maxAbs := 0.0
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	tol := 1e-8 * maxAbs

	// A = 2 H^-1, with non-positive directions dropped.
	acov := mat.NewSymDense(k, nil)
	col := make([]float64, k)
	for e, v := range vals {
		if v <= tol {
			continue
		}
		mat.Col(col, e, &vecs)
		acov.SymRankOne(acov, 2/v, mat.NewVecDense(k, col))
	}
	return &satterthwaite{s: s, par: par, acov: acov}
}

// variance returns sigma^2 c'(RX'RX)^-1 c at the given (theta, sigma).
func (sa *satterthwaite) variance(c []float64) func([]float64) float64 {
	return func(par []float64) float64 {
		st, ok := sa.s.solve(par[:sa.s.nTheta])
		if !ok {
			return math.NaN()
		}
		sigma := par[sa.s.nTheta]
		return sigma * sigma * sa.s.linearVariance(st, c)
	}
}

// df returns the Satterthwaite degrees of freedom for c'beta, or NaN when
// the approximation is not available.
func (sa *satterthwaite) df(c []float64) float64 {
	if sa == nil || sa.acov == nil {
		return math.NaN()
	}
	vf := sa.variance(c)
	v := vf(sa.par)
	g := fd.Gradient(nil, vf, sa.par, central)
	gv := mat.NewVecDense(len(g), g)
	denom := mat.Inner(gv, sa.acov, gv)
	df := 2 * v * v / denom
	if math.IsNaN(df) || math.IsInf(df, 0) || df <= 0 {
		return math.NaN()
	}
	return df
}
