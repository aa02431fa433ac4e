package lmm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pedalstat/internal/design"
)

// layout locates one random-effects block inside the random-effects vector
// and inside theta.
type layout struct {
	offset      int
	levels      int
	width       int
	independent bool
	thetaOffset int
}

func (l layout) nTheta() int {
	if l.independent {
		return l.width
	}
	return l.width * (l.width + 1) / 2
}

// lowerT returns the block's relative covariance factor. Theta fills the
// lower triangle column by column; independent blocks have a diagonal factor.
func (l layout) lowerT(theta []float64) *mat.Dense {
	t := mat.NewDense(l.width, l.width, nil)
	k := l.thetaOffset
	if l.independent {
		for i := 0; i < l.width; i++ {
			t.Set(i, i, theta[k])
			k++
		}
		return t
	}
	for j := 0; j < l.width; j++ {
		for i := j; i < l.width; i++ {
			t.Set(i, j, theta[k])
			k++
		}
	}
	return t
}

// diagIndex returns the theta indices of the block's diagonal entries.
func (l layout) diagIndex() []int {
	out := make([]int, 0, l.width)
	k := l.thetaOffset
	if l.independent {
		for i := 0; i < l.width; i++ {
			out = append(out, k+i)
		}
		return out
	}
	for j := 0; j < l.width; j++ {
		out = append(out, k)
		k += l.width - j
	}
	return out
}

// pls evaluates the penalized least squares problem behind the profiled
// deviance for a given theta.
type pls struct {
	n, p, q int
	reml    bool
	blocks  []layout
	nTheta  int

	x   *mat.Dense
	z   *mat.Dense
	y   *mat.VecDense
	ztz *mat.Dense
	ztx *mat.Dense
	zty *mat.VecDense
	xtx *mat.Dense
	xty *mat.VecDense
}

// plsState is the solution of the PLS problem at one theta.
type plsState struct {
	theta     []float64
	lambda    *mat.Dense
	u         []float64
	beta      []float64
	pwrss     float64
	logdetA   float64
	logdetRX2 float64
	cholM     *mat.Cholesky
}

func newPLS(d *design.Design, reml bool) *pls {
	n, p, q := d.N(), d.P(), d.Q()
	s := &pls{n: n, p: p, q: q, reml: reml, x: d.X, z: d.Z(), y: mat.NewVecDense(n, append([]float64(nil), d.Y...))}

	offset, thetaOffset := 0, 0
	for _, b := range d.Blocks {
		l := layout{offset: offset, levels: len(b.Levels), width: b.Width(), independent: b.Independent, thetaOffset: thetaOffset}
		s.blocks = append(s.blocks, l)
		offset += b.Size()
		thetaOffset += l.nTheta()
	}
	s.nTheta = thetaOffset

	s.ztz = mat.NewDense(q, q, nil)
	s.ztz.Mul(s.z.T(), s.z)
	s.ztx = mat.NewDense(q, p, nil)
	s.ztx.Mul(s.z.T(), s.x)
	s.zty = mat.NewVecDense(q, nil)
	s.zty.MulVec(s.z.T(), s.y)
	s.xtx = mat.NewDense(p, p, nil)
	s.xtx.Mul(s.x.T(), s.x)
	s.xty = mat.NewVecDense(p, nil)
	s.xty.MulVec(s.x.T(), s.y)
	return s
}

// initialTheta is the identity relative covariance.
func (s *pls) initialTheta() []float64 {
	return s.scaledTheta(func(int) float64 { return 1 })
}

// scaledTheta returns a diagonal theta with diagonal value scale(block).
func (s *pls) scaledTheta(scale func(block int) float64) []float64 {
	theta := make([]float64, s.nTheta)
	for k, l := range s.blocks {
		for _, i := range l.diagIndex() {
			theta[i] = scale(k)
		}
	}
	return theta
}

func (s *pls) lambda(theta []float64) *mat.Dense {
	lam := mat.NewDense(s.q, s.q, nil)
	for _, l := range s.blocks {
		t := l.lowerT(theta)
		for g := 0; g < l.levels; g++ {
			base := l.offset + g*l.width
			for i := 0; i < l.width; i++ {
				for j := 0; j <= i; j++ {
					lam.Set(base+i, base+j, t.At(i, j))
				}
			}
		}
	}
	return lam
}

// maxCondXtX bounds the condition number of X'X accepted as full rank.
const maxCondXtX = 1e14

// xtxFull reports whether X'X is numerically positive definite.
func (s *pls) xtxFull() bool {
	var c mat.Cholesky
	if !c.Factorize(symmetric(s.xtx)) {
		return false
	}
	return c.Cond() < maxCondXtX
}

// solve computes the conditional modes u, the fixed effects beta and the
// determinants needed by the deviance. It reports false when the combined
// system is not positive definite.
func (s *pls) solve(theta []float64) (*plsState, bool) {
	q, p := s.q, s.p
	lam := s.lambda(theta)

	var lz mat.Dense
	lz.Mul(lam.T(), s.ztz)
	var a mat.Dense
	a.Mul(&lz, lam)
	for i := 0; i < q; i++ {
		a.Set(i, i, a.At(i, i)+1)
	}

	var b mat.Dense
	b.Mul(lam.T(), s.ztx)
	cu := mat.NewVecDense(q, nil)
	cu.MulVec(lam.T(), s.zty)

	m := mat.NewSymDense(q+p, nil)
	for i := 0; i < q; i++ {
		for j := i; j < q; j++ {
			m.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
		for j := 0; j < p; j++ {
			m.SetSym(i, q+j, b.At(i, j))
		}
	}
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			m.SetSym(q+i, q+j, s.xtx.At(i, j))
		}
	}

	rhs := mat.NewVecDense(q+p, nil)
	for i := 0; i < q; i++ {
		rhs.SetVec(i, cu.AtVec(i))
	}
	for i := 0; i < p; i++ {
		rhs.SetVec(q+i, s.xty.AtVec(i))
	}

	var cholA mat.Cholesky
	if !cholA.Factorize(m.SliceSym(0, q)) {
		return nil, false
	}
	cholM := &mat.Cholesky{}
	if !cholM.Factorize(m) {
		return nil, false
	}
	sol := mat.NewVecDense(q+p, nil)
	if err := cholM.SolveVecTo(sol, rhs); err != nil {
		return nil, false
	}

	st := &plsState{
		theta:   append([]float64(nil), theta...),
		lambda:  lam,
		u:       make([]float64, q),
		beta:    make([]float64, p),
		logdetA: cholA.LogDet(),
		cholM:   cholM,
	}
	for i := 0; i < q; i++ {
		st.u[i] = sol.AtVec(i)
	}
	for i := 0; i < p; i++ {
		st.beta[i] = sol.AtVec(q + i)
	}
	st.logdetRX2 = cholM.LogDet() - st.logdetA

	fitted := s.fitted(st)
	pwrss := 0.0
	for i := 0; i < s.n; i++ {
		r := s.y.AtVec(i) - fitted[i]
		pwrss += r * r
	}
	for _, v := range st.u {
		pwrss += v * v
	}
	st.pwrss = pwrss
	return st, true
}

// b returns the random effects on the response scale, Lambda u.
func (s *pls) b(st *plsState) []float64 {
	out := make([]float64, s.q)
	if s.q == 0 {
		return out
	}
	bv := mat.NewVecDense(s.q, out)
	bv.MulVec(st.lambda, mat.NewVecDense(s.q, st.u))
	return out
}

func (s *pls) fitted(st *plsState) []float64 {
	out := make([]float64, s.n)
	fv := mat.NewVecDense(s.n, out)
	fv.MulVec(s.x, mat.NewVecDense(s.p, st.beta))
	if s.q > 0 {
		zb := mat.NewVecDense(s.n, nil)
		zb.MulVec(s.z, mat.NewVecDense(s.q, s.b(st)))
		fv.AddVec(fv, zb)
	}
	return out
}

// residualDF is n-p for REML and n for ML.
func (s *pls) residualDF() float64 {
	if s.reml {
		return float64(s.n - s.p)
	}
	return float64(s.n)
}

// profiled returns the deviance (ML) or REML criterion with sigma profiled
// out.
func (s *pls) profiled(st *plsState) float64 {
	nu := s.residualDF()
	d := st.logdetA + nu*(1+math.Log(2*math.Pi*st.pwrss/nu))
	if s.reml {
		d += st.logdetRX2
	}
	return d
}

// sigma2 is the residual variance estimate at a PLS solution.
func (s *pls) sigma2(st *plsState) float64 {
	return st.pwrss / s.residualDF()
}

// objective is the profiled criterion as a function of theta, +Inf where the
// PLS system cannot be solved.
func (s *pls) objective(theta []float64) float64 {
	st, ok := s.solve(theta)
	if !ok || st.pwrss <= 0 {
		return math.Inf(1)
	}
	return s.profiled(st)
}

// full is the criterion as a function of (theta, sigma) without profiling.
func (s *pls) full(par []float64) float64 {
	theta, sigma := par[:s.nTheta], par[s.nTheta]
	st, ok := s.solve(theta)
	if !ok || sigma <= 0 {
		return math.Inf(1)
	}
	s2 := sigma * sigma
	d := st.logdetA + s.residualDF()*math.Log(2*math.Pi*s2) + st.pwrss/s2
	if s.reml {
		d += st.logdetRX2
	}
	return d
}

// fixedCov returns (RX'RX)^-1, the fixed-effects covariance up to sigma^2.
// It is the lower-right block of M^-1. Ill-conditioning is tolerated; the
// solve still fills the result.
func (s *pls) fixedCov(st *plsState) *mat.SymDense {
	e := mat.NewDense(s.q+s.p, s.p, nil)
	for i := 0; i < s.p; i++ {
		e.Set(s.q+i, i, 1)
	}
	var w mat.Dense
	_ = st.cholM.SolveTo(&w, e)
	out := mat.NewSymDense(s.p, nil)
	for i := 0; i < s.p; i++ {
		for j := i; j < s.p; j++ {
			out.SetSym(i, j, 0.5*(w.At(s.q+i, j)+w.At(s.q+j, i)))
		}
	}
	return out
}

// linearVariance returns c'(RX'RX)^-1 c.
func (s *pls) linearVariance(st *plsState, c []float64) float64 {
	rhs := mat.NewVecDense(s.q+s.p, nil)
	for i, v := range c {
		rhs.SetVec(s.q+i, v)
	}
	w := mat.NewVecDense(s.q+s.p, nil)
	if err := st.cholM.SolveVecTo(w, rhs); err != nil {
		return math.NaN()
	}
	v := 0.0
	for i, ci := range c {
		v += ci * w.AtVec(s.q+i)
	}
	return v
}

func symmetric(m *mat.Dense) *mat.SymDense {
	r, _ := m.Dims()
	out := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}
