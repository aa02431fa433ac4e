// Package lmm fits linear mixed-effects models by (restricted) maximum
// likelihood.
//
// The model is y = X beta + Z b + e with b ~ N(0, sigma^2 Lambda Lambda') and
// e ~ N(0, sigma^2 I). Lambda is block diagonal, one lower-triangular factor
// per random term repeated for every level of its grouping factor, and is
// parameterised by theta. For fixed theta the conditional modes and fixed
// effects solve a penalized least squares problem; the profiled criterion is
// then minimised over theta with Nelder-Mead, started from the best point of
// a coarse grid.
package lmm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/optim"
)

// singularTol is the threshold on diagonal theta entries below which a fit
// is reported as singular.
const singularTol = 1e-4

type Options struct {
	Method Method
	// Factors declares categorical predictors and their level order.
	Factors map[string][]string
	// MaxEvaluations caps deviance evaluations per optimizer run.
	MaxEvaluations int
}

func DefaultOptions() Options {
	return Options{Method: REML, MaxEvaluations: 20000}
}

var seedScales = []float64{0.1, 0.5, 1, 2}

// Fit codes f against ds and estimates the model.
func Fit(ctx context.Context, ds *dataset.Dataset, f *formula.Formula, opts Options) (*Model, error) {
	if opts.Method == "" {
		opts.Method = REML
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultOptions().MaxEvaluations
	}
	wrap := func(status string, err error) error {
		return &FitError{Formula: f.String(), Status: status, Wrapped: err}
	}

	if len(f.Random) == 0 {
		return nil, wrap("", ErrNoRandomEffects)
	}
	d, err := design.Build(ds, f, opts.Factors)
	if err != nil {
		return nil, wrap("", err)
	}
	if d.N() <= d.P() {
		return nil, wrap("", fmt.Errorf("%w: n=%d, p=%d", ErrTooFewObservations, d.N(), d.P()))
	}

	s := newPLS(d, opts.Method == REML)
	if !s.xtxFull() {
		return nil, wrap("", fmt.Errorf("%w: columns %v", ErrRankDeficient, d.FixedNames()))
	}

	start, points, err := seed(ctx, s)
	if err != nil {
		return nil, wrap("", err)
	}

	theta, res, err := minimize(ctx, s, start, opts.MaxEvaluations)
	if err != nil {
		status := ""
		if res != nil {
			status = res.Status.String()
		}
		return nil, wrap(status, fmt.Errorf("%w: %v", ErrOptimizer, err))
	}
	normalizeSigns(s, theta)

	st, ok := s.solve(theta)
	if !ok {
		return nil, wrap(res.Status.String(), fmt.Errorf("%w: no solution at optimum", ErrOptimizer))
	}
	m := assemble(s, d, f, opts.Method, st, res)
	m.Diagnostics.SeedPoints = points
	return m, nil
}

// seed evaluates the criterion on a grid of scaled identity factors, one
// scale per random term.
func seed(ctx context.Context, s *pls) ([]float64, int, error) {
	names := make([]string, len(s.blocks))
	ranges := make([][]float64, len(s.blocks))
	for k := range s.blocks {
		names[k] = "scale" + strconv.Itoa(k)
		ranges[k] = seedScales
	}
	thetaFor := func(params map[string]float64) []float64 {
		return s.scaledTheta(func(k int) float64 { return params[names[k]] })
	}
	grid := optim.NewGridSearch(names, ranges)
	params, _, err := grid.Search(ctx,
		func(_ context.Context, params map[string]float64) (float64, error) {
			return s.objective(thetaFor(params)), nil
		})
	if errors.Is(err, optim.ErrNoCandidate) {
		return s.initialTheta(), grid.Size(), nil
	}
	if err != nil {
		return nil, 0, err
	}
	return thetaFor(params), grid.Size(), nil
}

// minimize runs Nelder-Mead from start and restarts once from the optimum
// with a smaller simplex.
func minimize(ctx context.Context, s *pls, start []float64, maxEval int) ([]float64, *optimize.Result, error) {
	problem := optimize.Problem{
		Func: s.objective,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := func() *optimize.Settings {
		iters := 40 * len(start)
		if iters < 200 {
			iters = 200
		}
		return &optimize.Settings{
			Converger:       &optimize.FunctionConverge{Absolute: 1e-10, Relative: 1e-12, Iterations: iters},
			FuncEvaluations: maxEval,
		}
	}

	res, err := optimize.Minimize(problem, start, settings(), &optimize.NelderMead{SimplexSize: 0.5})
	if err != nil {
		return nil, res, err
	}
	evals := res.FuncEvaluations
	second, err := optimize.Minimize(problem, res.X, settings(), &optimize.NelderMead{SimplexSize: 0.05})
	if err == nil && second.F <= res.F {
		second.FuncEvaluations += evals
		res = second
	} else {
		res.FuncEvaluations += evals
	}
	if math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return nil, res, fmt.Errorf("criterion is not finite at the optimum")
	}
	return append([]float64(nil), res.X...), res, nil
}

// normalizeSigns flips columns of each factor so its diagonal is
// non-negative. Lambda Lambda' is unchanged.
func normalizeSigns(s *pls, theta []float64) {
	for _, l := range s.blocks {
		if l.independent {
			for _, i := range l.diagIndex() {
				theta[i] = math.Abs(theta[i])
			}
			continue
		}
		k := l.thetaOffset
		for j := 0; j < l.width; j++ {
			n := l.width - j
			if theta[k] < 0 {
				for i := 0; i < n; i++ {
					theta[k+i] = -theta[k+i]
				}
			}
			k += n
		}
	}
}

func assemble(s *pls, d *design.Design, f *formula.Formula, method Method, st *plsState, res *optimize.Result) *Model {
	sigma2 := s.sigma2(st)
	sigma := math.Sqrt(sigma2)
	resDF := float64(s.n - s.p)

	m := &Model{
		Formula: f,
		Method:  method,
		Design:  d,
		Sigma:   sigma,
		Theta:   st.theta,
		beta:    st.beta,
		resDF:   resDF,
	}

	cov := s.fixedCov(st)
	cov.ScaleSym(sigma2, cov)
	m.vcov = cov
	m.satt = newSatterthwaite(s, st.theta, sigma)

	names := d.FixedNames()
	m.Fixed = make([]FixedEffect, len(names))
	for j, name := range names {
		l := make([]float64, len(names))
		l[j] = 1
		est, se, df, _ := m.Estimate(l)
		t := est / se
		m.Fixed[j] = FixedEffect{Name: name, Estimate: est, SE: se, DF: df, T: t, P: twoSidedP(t, df)}
	}

	b := s.b(st)
	singular := false
	for k, l := range s.blocks {
		blk := d.Blocks[k]
		t := l.lowerT(st.theta)
		for _, i := range l.diagIndex() {
			if st.theta[i] < singularTol {
				singular = true
			}
		}
		m.VarComps = append(m.VarComps, varComp(blk, l, t, sigma))

		re := RandomEffects{Group: blk.Group, Levels: blk.Levels, Columns: blk.ColumnNames(), Values: make([][]float64, l.levels)}
		for g := 0; g < l.levels; g++ {
			base := l.offset + g*l.width
			re.Values[g] = append([]float64(nil), b[base:base+l.width]...)
		}
		m.RanEf = append(m.RanEf, re)
	}

	m.Fitted = s.fitted(st)
	m.Residuals = make([]float64, s.n)
	for i := range m.Residuals {
		m.Residuals[i] = d.Y[i] - m.Fitted[i]
	}

	crit := s.profiled(st)
	dfModel := s.p + s.nTheta + 1
	logLik := -crit / 2
	groups := make(map[string]int)
	for _, blk := range d.Blocks {
		groups[blk.Group] = len(blk.Levels)
	}
	m.Diagnostics = Diagnostics{
		N:           s.n,
		Groups:      groups,
		Criterion:   crit,
		LogLik:      logLik,
		AIC:         -2*logLik + 2*float64(dfModel),
		BIC:         -2*logLik + math.Log(float64(s.n))*float64(dfModel),
		DFModel:     dfModel,
		Converged:   res.Status == optimize.FunctionConvergence || res.Status == optimize.Success,
		Status:      res.Status.String(),
		Evaluations: res.FuncEvaluations,
		Singular:    singular,
		Dropped:     d.Dropped,
	}
	return m
}

func varComp(blk *design.Block, l layout, t interface{ At(i, j int) float64 }, sigma float64) VarComp {
	w := l.width
	cov := make([][]float64, w)
	for i := 0; i < w; i++ {
		cov[i] = make([]float64, w)
		for j := 0; j < w; j++ {
			s := 0.0
			for k := 0; k < w; k++ {
				s += t.At(i, k) * t.At(j, k)
			}
			cov[i][j] = sigma * sigma * s
		}
	}
	vc := VarComp{Group: blk.Group, Names: blk.ColumnNames(), SD: make([]float64, w), Independent: l.independent}
	for i := 0; i < w; i++ {
		vc.SD[i] = math.Sqrt(cov[i][i])
	}
	if !l.independent && w > 1 {
		vc.Corr = make([][]float64, w)
		for i := 0; i < w; i++ {
			vc.Corr[i] = make([]float64, w)
			for j := 0; j < w; j++ {
				if vc.SD[i] == 0 || vc.SD[j] == 0 {
					vc.Corr[i][j] = math.NaN()
					continue
				}
				vc.Corr[i][j] = cov[i][j] / (vc.SD[i] * vc.SD[j])
			}
		}
	}
	return vc
}
