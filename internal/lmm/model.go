package lmm

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/formula"
)

type Method string

const (
	REML Method = "REML"
	ML   Method = "ML"
)

// ParseMethod accepts REML or ML in any case; empty means REML.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "REML":
		return REML, nil
	case "ML":
		return ML, nil
	}
	return "", fmt.Errorf("lmm: unknown estimation method %q", s)
}

// FixedEffect is one row of the coefficient table.
type FixedEffect struct {
	Name     string
	Estimate float64
	SE       float64
	DF       float64
	T        float64
	P        float64
}

// VarComp is the estimated covariance of one random-effects term.
type VarComp struct {
	Group       string
	Names       []string
	SD          []float64
	Independent bool
	// Corr is nil for independent or single-column terms.
	Corr [][]float64
}

// RandomEffects holds the conditional modes of one term: Values[level][column].
type RandomEffects struct {
	Group   string
	Levels  []string
	Columns []string
	Values  [][]float64
}

// Coefficients are per-level model coefficients, fixed plus random.
type Coefficients struct {
	Group   string
	Levels  []string
	Columns []string
	Values  [][]float64
}

// Column returns one coefficient across all levels.
func (c *Coefficients) Column(name string) ([]float64, bool) {
	for j, n := range c.Columns {
		if n == name {
			out := make([]float64, len(c.Levels))
			for i := range c.Levels {
				out[i] = c.Values[i][j]
			}
			return out, true
		}
	}
	return nil, false
}

type Diagnostics struct {
	N      int
	Groups map[string]int
	// Criterion is the REML criterion for REML fits and the deviance for ML.
	Criterion   float64
	LogLik      float64
	AIC         float64
	BIC         float64
	DFModel     int
	Converged   bool
	Status      string
	Evaluations int
	// SeedPoints is the number of grid points scored before optimizing.
	SeedPoints int
	Singular    bool
	Dropped     int
}

type Model struct {
	Formula     *formula.Formula
	Method      Method
	Design      *design.Design
	Fixed       []FixedEffect
	VarComps    []VarComp
	Sigma       float64
	Theta       []float64
	RanEf       []RandomEffects
	Fitted      []float64
	Residuals   []float64
	Diagnostics Diagnostics

	beta  []float64
	vcov  *mat.SymDense
	satt  *satterthwaite
	resDF float64
}

// Beta returns the fixed-effect estimates in column order.
func (m *Model) Beta() []float64 {
	return append([]float64(nil), m.beta...)
}

// Vcov returns the covariance matrix of the fixed effects.
func (m *Model) Vcov() *mat.SymDense {
	out := mat.NewSymDense(len(m.beta), nil)
	out.CopySym(m.vcov)
	return out
}

// FixedEffect returns a coefficient by column name.
func (m *Model) FixedEffect(name string) (FixedEffect, bool) {
	for _, fe := range m.Fixed {
		if fe.Name == name {
			return fe, true
		}
	}
	return FixedEffect{}, false
}

// Estimate returns l'beta, its standard error and Satterthwaite degrees of
// freedom. The residual degrees of freedom are used when the approximation
// fails.
func (m *Model) Estimate(l []float64) (est, se, df float64, err error) {
	if len(l) != len(m.beta) {
		return 0, 0, 0, fmt.Errorf("lmm: contrast has %d entries, model has %d fixed effects", len(l), len(m.beta))
	}
	for i, v := range l {
		est += v * m.beta[i]
	}
	lv := mat.NewVecDense(len(l), append([]float64(nil), l...))
	se = math.Sqrt(mat.Inner(lv, m.vcov, lv))
	df = m.satt.df(l)
	if math.IsNaN(df) {
		df = m.resDF
	}
	return est, se, df, nil
}

// Coef returns the per-level coefficients of a grouping factor: each fixed
// effect plus the conditional modes of every term sharing that grouping.
// Columns that appear only in random terms contribute their random part.
func (m *Model) Coef(group string) (*Coefficients, error) {
	var terms []RandomEffects
	for _, re := range m.RanEf {
		if re.Group == group {
			terms = append(terms, re)
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("lmm: no random effects for grouping factor %q", group)
	}

	cols := m.Design.FixedNames()
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i
	}
	for _, re := range terms {
		for _, c := range re.Columns {
			if _, ok := index[c]; !ok {
				index[c] = len(cols)
				cols = append(cols, c)
			}
		}
	}

	levels := terms[0].Levels
	out := &Coefficients{Group: group, Levels: levels, Columns: cols, Values: make([][]float64, len(levels))}
	for i := range levels {
		row := make([]float64, len(cols))
		copy(row, m.beta)
		for _, re := range terms {
			for j, c := range re.Columns {
				row[index[c]] += re.Values[i][j]
			}
		}
		out.Values[i] = row
	}
	return out, nil
}

// PredictFixed returns the population-level prediction at a grid point.
func (m *Model) PredictFixed(pt design.Point) (float64, error) {
	x, err := m.Design.FixedRow(pt)
	if err != nil {
		return 0, err
	}
	return dot(x, m.beta), nil
}

// PredictLevel returns the prediction for one level of a grouping factor at
// a grid point, adding that level's random effects from every term on the
// grouping.
func (m *Model) PredictLevel(group, level string, pt design.Point) (float64, error) {
	pred, err := m.PredictFixed(pt)
	if err != nil {
		return 0, err
	}
	found := false
	for k, re := range m.RanEf {
		if re.Group != group {
			continue
		}
		li := -1
		for i, l := range re.Levels {
			if l == level {
				li = i
				break
			}
		}
		if li < 0 {
			continue
		}
		found = true
		z, err := m.Design.RandomRow(k, pt)
		if err != nil {
			return 0, err
		}
		pred += dot(z, re.Values[li])
	}
	if !found {
		return 0, fmt.Errorf("lmm: no random effects for %s=%s", group, level)
	}
	return pred, nil
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func twoSidedP(t, df float64) float64 {
	if math.IsNaN(t) || math.IsNaN(df) {
		return math.NaN()
	}
	return 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
}
