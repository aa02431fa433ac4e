// Package design turns a parsed formula and a dataset into the numeric
// matrices of a linear mixed model: the response y, the fixed-effects matrix
// X and one block of random-effects columns per random term.
//
// Categorical predictors use treatment coding with the first level as
// reference. Column names follow the usual convention: "(Intercept)",
// "<var><level>" for factor levels, "<var>" for covariates and ":"-joined
// names for interactions (e.g. "Posture2:Cadence2").
package design

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/formula"
)

var (
	// ErrUnknownVariable indicates a formula variable missing from the data.
	ErrUnknownVariable = errors.New("design: unknown variable")

	// ErrNoObservations indicates that no complete rows remain.
	ErrNoObservations = errors.New("design: no complete observations")

	// ErrTooFewGroups indicates a grouping factor with fewer than 2 levels.
	ErrTooFewGroups = errors.New("design: grouping factor needs at least 2 levels")

	// ErrNotNumeric indicates a non-numeric response.
	ErrNotNumeric = errors.New("design: response is not numeric")

	// ErrUnknownLevel indicates a reference-grid point with a level the
	// factor does not have.
	ErrUnknownLevel = errors.New("design: unknown factor level")
)

const InterceptName = "(Intercept)"

// Variable describes one predictor as it enters the model.
type Variable struct {
	Name   string
	Factor bool
	// Levels in coding order; the first is the reference.
	Levels []string
	// Mean over the retained rows, for covariates.
	Mean float64

	codes  []int
	values []float64
}

// Reference returns the reference level of a factor.
func (v *Variable) Reference() string {
	if len(v.Levels) == 0 {
		return ""
	}
	return v.Levels[0]
}

type part struct {
	variable *Variable
	level    int // -1 for covariates
}

// Column is one column of X or of a random-effects block.
type Column struct {
	Name  string
	Term  string
	parts []part
}

func (c Column) valueAt(row int) float64 {
	v := 1.0
	for _, p := range c.parts {
		if p.level < 0 {
			v *= p.variable.values[row]
		} else if p.variable.codes[row] != p.level {
			return 0
		}
	}
	return v
}

func (c Column) valueAtPoint(pt Point) (float64, error) {
	v := 1.0
	for _, p := range c.parts {
		if p.level < 0 {
			x, ok := pt.Values[p.variable.Name]
			if !ok {
				x = p.variable.Mean
			}
			v *= x
			continue
		}
		lvl, ok := pt.Levels[p.variable.Name]
		if !ok {
			lvl = p.variable.Reference()
		}
		idx := dataset.LevelIndex(p.variable.Levels, lvl)
		if idx < 0 {
			return 0, fmt.Errorf("%w: %s=%s", ErrUnknownLevel, p.variable.Name, lvl)
		}
		if idx != p.level {
			v = 0
		}
	}
	return v, nil
}

// Block holds the random-effects columns of one (expr | group) term.
type Block struct {
	Group       string
	Levels      []string
	Columns     []Column
	Independent bool
	// Index maps each retained row to its group level.
	Index []int
	// Raw is the n x len(Columns) matrix of per-row column values.
	Raw *mat.Dense
}

// Width is the number of random-effect coefficients per group level.
func (b *Block) Width() int { return len(b.Columns) }

// Size is the block's share of the random-effects vector.
func (b *Block) Size() int { return len(b.Levels) * len(b.Columns) }

// ColumnNames returns the names of the block's columns.
func (b *Block) ColumnNames() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Name
	}
	return out
}

// Point is a cell of a reference grid. Factors missing from Levels take
// their reference level, covariates missing from Values their mean.
type Point struct {
	Levels map[string]string
	Values map[string]float64
}

type Design struct {
	Formula  *formula.Formula
	Response string
	Y        []float64
	X        *mat.Dense
	Fixed    []Column
	Blocks   []*Block
	// Rows are the dataset row indices that entered the model.
	Rows    []int
	Dropped int

	vars  map[string]*Variable
	order []string
}

// N is the number of observations used.
func (d *Design) N() int { return len(d.Y) }

// P is the number of fixed-effect columns.
func (d *Design) P() int { return len(d.Fixed) }

// Q is the total number of random-effect coefficients.
func (d *Design) Q() int {
	q := 0
	for _, b := range d.Blocks {
		q += b.Size()
	}
	return q
}

// FixedNames returns the names of the columns of X.
func (d *Design) FixedNames() []string {
	out := make([]string, len(d.Fixed))
	for i, c := range d.Fixed {
		out[i] = c.Name
	}
	return out
}

// Variable returns a predictor by name.
func (d *Design) Variable(name string) (*Variable, bool) {
	v, ok := d.vars[name]
	return v, ok
}

// Variables returns the predictors in formula order.
func (d *Design) Variables() []*Variable {
	out := make([]*Variable, 0, len(d.order))
	for _, n := range d.order {
		out = append(out, d.vars[n])
	}
	return out
}

// Factors returns the categorical predictors in formula order.
func (d *Design) Factors() []*Variable {
	var out []*Variable
	for _, v := range d.Variables() {
		if v.Factor {
			out = append(out, v)
		}
	}
	return out
}

// Z assembles the n x q random-effects matrix. Columns are ordered by block,
// then by group level, then by block column.
func (d *Design) Z() *mat.Dense {
	n, q := d.N(), d.Q()
	if q == 0 {
		return nil
	}
	z := mat.NewDense(n, q, nil)
	offset := 0
	for _, b := range d.Blocks {
		w := b.Width()
		for i := 0; i < n; i++ {
			base := offset + b.Index[i]*w
			for c := 0; c < w; c++ {
				z.Set(i, base+c, b.Raw.At(i, c))
			}
		}
		offset += b.Size()
	}
	return z
}

// FixedRow evaluates the fixed-effects columns at a grid point.
func (d *Design) FixedRow(pt Point) ([]float64, error) {
	return evalColumns(d.Fixed, pt)
}

// RandomRow evaluates a block's columns at a grid point.
func (d *Design) RandomRow(block int, pt Point) ([]float64, error) {
	return evalColumns(d.Blocks[block].Columns, pt)
}

func evalColumns(cols []Column, pt Point) ([]float64, error) {
	out := make([]float64, len(cols))
	for i, c := range cols {
		v, err := c.valueAtPoint(pt)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Build codes the formula against the dataset. factors declares categorical
// predictors and their level order; undeclared text predictors become factors
// with sorted levels and undeclared numeric predictors are covariates. Rows
// with a missing value in any model variable, or with a level outside a
// declared list, are dropped.
func Build(ds *dataset.Dataset, f *formula.Formula, factors map[string][]string) (*Design, error) {
	for _, v := range f.Variables() {
		if !ds.Has(v) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, v)
		}
	}

	y, err := ds.Floats(f.Response)
	if err != nil {
		return nil, err
	}
	if numeric, _ := ds.IsNumeric(f.Response); !numeric {
		return nil, fmt.Errorf("%w: %q", ErrNotNumeric, f.Response)
	}

	n := ds.Len()
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = !math.IsNaN(y[i]) && !math.IsInf(y[i], 0)
	}

	type raw struct {
		factor   bool
		declared []string
		text     []string
		nums     []float64
	}
	raws := make(map[string]*raw)
	preds := f.Predictors()
	for _, name := range preds {
		r := &raw{}
		if lv, ok := factors[name]; ok {
			r.factor = true
			r.declared = lv
		} else if numeric, _ := ds.IsNumeric(name); !numeric {
			r.factor = true
		}
		if r.factor {
			r.text, _ = ds.Strings(name)
			for i, s := range r.text {
				if s == "NaN" || (r.declared != nil && dataset.LevelIndex(r.declared, s) < 0) {
					keep[i] = false
				}
			}
		} else {
			r.nums, _ = ds.Floats(name)
			for i, x := range r.nums {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					keep[i] = false
				}
			}
		}
		raws[name] = r
	}

	groupText := make(map[string][]string)
	for _, g := range f.Groups() {
		txt, _ := ds.Strings(g)
		for i, s := range txt {
			if s == "NaN" {
				keep[i] = false
			}
		}
		groupText[g] = txt
	}

	var rows []int
	for i, k := range keep {
		if k {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoObservations, f.Source)
	}

	d := &Design{
		Formula:  f,
		Response: f.Response,
		Y:        make([]float64, len(rows)),
		Rows:     rows,
		Dropped:  n - len(rows),
		vars:     make(map[string]*Variable),
		order:    preds,
	}
	for j, i := range rows {
		d.Y[j] = y[i]
	}

	for _, name := range preds {
		r := raws[name]
		v := &Variable{Name: name, Factor: r.factor}
		if r.factor {
			if r.declared != nil {
				v.Levels = append([]string(nil), r.declared...)
			} else {
				v.Levels = uniqueLevels(r.text, rows)
			}
			v.codes = make([]int, len(rows))
			for j, i := range rows {
				v.codes[j] = dataset.LevelIndex(v.Levels, r.text[i])
			}
		} else {
			v.values = make([]float64, len(rows))
			sum := 0.0
			for j, i := range rows {
				v.values[j] = r.nums[i]
				sum += r.nums[i]
			}
			v.Mean = sum / float64(len(rows))
		}
		d.vars[name] = v
	}

	d.Fixed = d.columns(f.Intercept, f.Fixed)
	d.X = d.matrix(d.Fixed)

	for _, rt := range f.Random {
		levels := uniqueLevels(groupText[rt.Group], rows)
		if len(levels) < 2 {
			return nil, fmt.Errorf("%w: %s has %d", ErrTooFewGroups, rt.Group, len(levels))
		}
		b := &Block{
			Group:       rt.Group,
			Levels:      levels,
			Columns:     d.columns(rt.Intercept, rt.Terms),
			Independent: rt.Independent,
			Index:       make([]int, len(rows)),
		}
		for j, i := range rows {
			b.Index[j] = dataset.LevelIndex(levels, groupText[rt.Group][i])
		}
		b.Raw = d.matrix(b.Columns)
		d.Blocks = append(d.Blocks, b)
	}
	return d, nil
}

// columns expands terms into model-matrix columns. Every factor in a term is
// contrast coded, except a main-effect factor in a model without intercept,
// which is coded with one indicator per level.
func (d *Design) columns(intercept bool, terms []formula.Term) []Column {
	var cols []Column
	if intercept {
		cols = append(cols, Column{Name: InterceptName, Term: InterceptName})
	}
	fullDummyUsed := intercept
	for _, t := range terms {
		full := !fullDummyUsed && t.Order() == 1 && d.vars[t.Vars[0]].Factor
		if full {
			fullDummyUsed = true
		}

		// Build the cartesian product with the first variable varying fastest.
		combos := [][]part{{}}
		for _, name := range t.Vars {
			v := d.vars[name]
			var opts []part
			if !v.Factor {
				opts = []part{{variable: v, level: -1}}
			} else {
				start := 1
				if full {
					start = 0
				}
				for l := start; l < len(v.Levels); l++ {
					opts = append(opts, part{variable: v, level: l})
				}
			}
			var next [][]part
			for _, o := range opts {
				for _, c := range combos {
					next = append(next, append(append([]part(nil), c...), o))
				}
			}
			combos = next
		}
		for _, c := range combos {
			cols = append(cols, Column{Name: columnName(c), Term: t.Name(), parts: c})
		}
	}
	return cols
}

func (d *Design) matrix(cols []Column) *mat.Dense {
	n := d.N()
	if len(cols) == 0 {
		return nil
	}
	m := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		for j, c := range cols {
			m.Set(i, j, c.valueAt(i))
		}
	}
	return m
}

func columnName(parts []part) string {
	names := make([]string, len(parts))
	for i, p := range parts {
		if p.level < 0 {
			names[i] = p.variable.Name
		} else {
			names[i] = p.variable.Name + p.variable.Levels[p.level]
		}
	}
	return strings.Join(names, ":")
}

func uniqueLevels(text []string, rows []int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range rows {
		if !seen[text[i]] {
			seen[text[i]] = true
			out = append(out, text[i])
		}
	}
	dataset.SortLevels(out)
	return out
}
