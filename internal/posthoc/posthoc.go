// Package posthoc compares factor levels of a fitted mixed model through
// estimated marginal means and pairwise contrasts.
//
// Marginal means are predictions averaged with equal weights over a
// reference grid of every factor level combination, with covariates held at
// their mean. Contrasts are all differences level_i - level_j (i < j in level
// order), optionally computed separately within each level of a second
// factor. Each such family is adjusted for multiplicity on its own.
package posthoc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/lmm"
)

var (
	// ErrNotFactor indicates a comparison variable that is not a categorical
	// fixed-effect predictor of the model.
	ErrNotFactor = errors.New("posthoc: not a factor in the fixed effects")

	// ErrUnknownAdjust indicates an unsupported adjustment method.
	ErrUnknownAdjust = errors.New("posthoc: unknown p-value adjustment")
)

type Options struct {
	Marginal string
	By       string
	Adjust   Adjust
	// Level is the confidence level of intervals; 0 means 0.95.
	Level float64
}

// EMM is the estimated marginal mean of one level.
type EMM struct {
	By       string
	Level    string
	Estimate float64
	SE       float64
	DF       float64
	Lower    float64
	Upper    float64
}

// Contrast is one pairwise comparison.
type Contrast struct {
	By       string
	Name     string
	Estimate float64
	SE       float64
	DF       float64
	T        float64
	PRaw     float64
	P        float64
	Lower    float64
	Upper    float64
}

type Result struct {
	Response  string
	Marginal  string
	By        string
	Adjust    Adjust
	Level     float64
	Means     []EMM
	Contrasts []Contrast
}

// Compare computes marginal means and adjusted pairwise contrasts.
func Compare(m *lmm.Model, opts Options) (*Result, error) {
	if opts.Level == 0 {
		opts.Level = 0.95
	}
	if opts.Adjust == "" {
		opts.Adjust = Tukey
	}
	adj, err := ParseAdjust(string(opts.Adjust))
	if err != nil {
		return nil, err
	}

	marg, err := fixedFactor(m, opts.Marginal)
	if err != nil {
		return nil, err
	}
	byLevels := []string{""}
	var by *design.Variable
	if opts.By != "" {
		if opts.By == opts.Marginal {
			return nil, fmt.Errorf("%w: %q cannot be both compared and conditioned on", ErrNotFactor, opts.By)
		}
		by, err = fixedFactor(m, opts.By)
		if err != nil {
			return nil, err
		}
		byLevels = by.Levels
	}

	grid := referenceGrid(m.Design.Factors())
	res := &Result{
		Response: m.Formula.Response,
		Marginal: opts.Marginal,
		By:       opts.By,
		Adjust:   adj,
		Level:    opts.Level,
	}
	alpha := 1 - opts.Level

	for _, bl := range byLevels {
		rows := make([][]float64, len(marg.Levels))
		for i, lvl := range marg.Levels {
			fixed := map[string]string{marg.Name: lvl}
			if by != nil {
				fixed[by.Name] = bl
			}
			x, err := averageRow(m.Design, grid, fixed)
			if err != nil {
				return nil, err
			}
			rows[i] = x

			est, se, df, err := m.Estimate(x)
			if err != nil {
				return nil, err
			}
			tq := tQuantile(1-alpha/2, df)
			res.Means = append(res.Means, EMM{
				By: bl, Level: lvl, Estimate: est, SE: se, DF: df,
				Lower: est - tq*se, Upper: est + tq*se,
			})
		}

		family, err := contrasts(m, marg.Levels, rows, bl)
		if err != nil {
			return nil, err
		}
		adjustFamily(family, adj, len(marg.Levels), alpha)
		res.Contrasts = append(res.Contrasts, family...)
	}
	return res, nil
}

func fixedFactor(m *lmm.Model, name string) (*design.Variable, error) {
	v, ok := m.Design.Variable(name)
	if !ok || !v.Factor {
		return nil, fmt.Errorf("%w: %q", ErrNotFactor, name)
	}
	for _, t := range m.Formula.Fixed {
		for _, tv := range t.Vars {
			if tv == name {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFactor, name)
}

// referenceGrid enumerates every combination of factor levels.
func referenceGrid(factors []*design.Variable) []map[string]string {
	grid := []map[string]string{{}}
	for _, f := range factors {
		var next []map[string]string
		for _, cell := range grid {
			for _, lvl := range f.Levels {
				c := make(map[string]string, len(cell)+1)
				for k, v := range cell {
					c[k] = v
				}
				c[f.Name] = lvl
				next = append(next, c)
			}
		}
		grid = next
	}
	return grid
}

// averageRow averages the fixed-effects rows of the grid cells that match
// the given levels.
func averageRow(d *design.Design, grid []map[string]string, fixed map[string]string) ([]float64, error) {
	out := make([]float64, d.P())
	n := 0
	for _, cell := range grid {
		match := true
		for k, v := range fixed {
			if cell[k] != v {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		x, err := d.FixedRow(design.Point{Levels: cell})
		if err != nil {
			return nil, err
		}
		for i, v := range x {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("posthoc: empty reference grid for %v", fixed)
	}
	for i := range out {
		out[i] /= float64(n)
	}
	return out, nil
}

func contrasts(m *lmm.Model, levels []string, rows [][]float64, by string) ([]Contrast, error) {
	var out []Contrast
	for i := 0; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			l := make([]float64, len(rows[i]))
			for k := range l {
				l[k] = rows[i][k] - rows[j][k]
			}
			est, se, df, err := m.Estimate(l)
			if err != nil {
				return nil, err
			}
			t := est / se
			p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
			out = append(out, Contrast{
				By: by, Name: levels[i] + " - " + levels[j],
				Estimate: est, SE: se, DF: df, T: t, PRaw: p,
			})
		}
	}
	return out, nil
}

// adjustFamily fills adjusted p-values and confidence intervals for one
// family of contrasts among k levels.
func adjustFamily(family []Contrast, adj Adjust, k int, alpha float64) {
	m := float64(len(family))
	if adj == Tukey {
		for i := range family {
			c := &family[i]
			c.P = 1 - PTukey(math.Abs(c.T)*math.Sqrt2, float64(k), c.DF)
			crit := QTukey(1-alpha, float64(k), c.DF) / math.Sqrt2
			if k == 2 {
				c.P = c.PRaw
				crit = tQuantile(1-alpha/2, c.DF)
			}
			c.Lower, c.Upper = c.Estimate-crit*c.SE, c.Estimate+crit*c.SE
		}
		return
	}

	raw := make([]float64, len(family))
	for i, c := range family {
		raw[i] = c.PRaw
	}
	adjusted := AdjustP(adj, raw)

	for i := range family {
		c := &family[i]
		c.P = adjusted[i]
		var q float64
		switch adj {
		case Bonferroni, Holm:
			q = 1 - alpha/(2*m)
		case Sidak:
			q = 1 - (1-math.Pow(1-alpha, 1/m))/2
		default:
			q = 1 - alpha/2
		}
		crit := tQuantile(q, c.DF)
		c.Lower, c.Upper = c.Estimate-crit*c.SE, c.Estimate+crit*c.SE
	}
}

func tQuantile(p, df float64) float64 {
	if math.IsNaN(df) || df <= 0 {
		return math.NaN()
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(p)
}
