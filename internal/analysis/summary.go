package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/lmm"
)

var (
	ErrNotFactor     = errors.New("analysis: variable is not a model factor")
	ErrBadOrder      = errors.New("analysis: display order does not match factor levels")
	ErrMissingColumn = errors.New("analysis: coefficient column not found")
)

type Options struct {
	Group    string
	Variable string
	// Order lists every level in display order; empty keeps level order.
	Order []string
	// Labels are display names parallel to Order; empty uses the levels.
	Labels []string
	// Level is the interval coverage; 0 means 0.95.
	Level float64
}

// LevelEffect describes the per-subject deviation of one level from the
// reference level.
type LevelEffect struct {
	Level      string
	Label      string
	Deviations []float64
	Mean       float64
	SD         float64
	Lower      float64
	Upper      float64
	EffectSize float64
	// CDF is the standard normal CDF at |EffectSize|.
	CDF float64
}

// PercentDiff is a per-subject percent difference of Level against Against.
type PercentDiff struct {
	Level   string
	Against string
	Name    string
	Values  []float64
	Mean    float64
}

type SubjectSummary struct {
	Group     string
	Variable  string
	Reference string
	Subjects  []string
	// Levels and Labels are in display order; Values[subject][level] follows it.
	Levels  []string
	Labels  []string
	Values  [][]float64
	Effects []LevelEffect
	Diffs   []PercentDiff
}

// Summarize resolves the factor levels from the model and summarises its
// per-subject coefficients.
func Summarize(m *lmm.Model, opts Options) (*SubjectSummary, error) {
	v, ok := m.Design.Variable(opts.Variable)
	if !ok || !v.Factor {
		return nil, fmt.Errorf("%w: %q", ErrNotFactor, opts.Variable)
	}
	coef, err := m.Coef(opts.Group)
	if err != nil {
		return nil, err
	}
	return FromCoefficients(coef, v.Name, v.Levels, opts)
}

// FromCoefficients summarises per-subject coefficients of a factor with the
// given levels, the first being the reference. Level values are
// (Intercept) for the reference and (Intercept) + <variable><level> for the
// others.
func FromCoefficients(coef *lmm.Coefficients, variable string, levels []string, opts Options) (*SubjectSummary, error) {
	if len(levels) < 2 {
		return nil, fmt.Errorf("%w: %q has %d level(s)", ErrNotFactor, variable, len(levels))
	}
	if opts.Level == 0 {
		opts.Level = 0.95
	}
	order := opts.Order
	if len(order) == 0 {
		order = levels
	}
	if err := checkOrder(levels, order); err != nil {
		return nil, err
	}
	labels := opts.Labels
	if len(labels) == 0 {
		labels = order
	}
	if len(labels) != len(order) {
		return nil, fmt.Errorf("%w: %d labels for %d levels", ErrBadOrder, len(labels), len(order))
	}
	label := make(map[string]string, len(order))
	for i, l := range order {
		label[l] = labels[i]
	}

	intercept, ok := coef.Column(design.InterceptName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, design.InterceptName)
	}
	value := map[string][]float64{levels[0]: intercept}
	dev := map[string][]float64{}
	for _, l := range levels[1:] {
		d, ok := coef.Column(variable + l)
		if !ok {
			return nil, fmt.Errorf("%w: %s%s", ErrMissingColumn, variable, l)
		}
		dev[l] = d
		v := make([]float64, len(d))
		for i := range d {
			v[i] = intercept[i] + d[i]
		}
		value[l] = v
	}

	s := &SubjectSummary{
		Group:     coef.Group,
		Variable:  variable,
		Reference: levels[0],
		Subjects:  append([]string(nil), coef.Levels...),
		Levels:    append([]string(nil), order...),
		Labels:    append([]string(nil), labels...),
		Values:    make([][]float64, len(coef.Levels)),
	}
	for i := range coef.Levels {
		row := make([]float64, len(order))
		for j, l := range order {
			row[j] = value[l][i]
		}
		s.Values[i] = row
	}

	for _, l := range levels[1:] {
		e, err := levelEffect(dev[l], opts.Level)
		if err != nil {
			return nil, fmt.Errorf("analysis: level %s: %w", l, err)
		}
		e.Level, e.Label = l, label[l]
		s.Effects = append(s.Effects, e)
	}

	for _, l := range levels[1:] {
		s.Diffs = append(s.Diffs, percentDiff(l, levels[0], label, dev[l], intercept))
	}
	for i := 1; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			li, lj := levels[i], levels[j]
			num := make([]float64, len(intercept))
			for k := range num {
				num[k] = value[li][k] - value[lj][k]
			}
			s.Diffs = append(s.Diffs, percentDiff(li, lj, label, num, value[lj]))
		}
	}
	return s, nil
}

func checkOrder(levels, order []string) error {
	if len(order) != len(levels) {
		return fmt.Errorf("%w: %v vs %v", ErrBadOrder, order, levels)
	}
	seen := make(map[string]bool, len(levels))
	for _, l := range levels {
		seen[l] = true
	}
	for _, l := range order {
		if !seen[l] {
			return fmt.Errorf("%w: unknown level %q", ErrBadOrder, l)
		}
		delete(seen, l)
	}
	if len(seen) > 0 {
		return fmt.Errorf("%w: repeated level in %v", ErrBadOrder, order)
	}
	return nil
}

func levelEffect(dev []float64, level float64) (LevelEffect, error) {
	mu, err := stats.Mean(dev)
	if err != nil {
		return LevelEffect{}, err
	}
	sd, err := stats.StandardDeviationSample(dev)
	if err != nil {
		return LevelEffect{}, err
	}
	ci := stats.NormInterval(level, mu, sd/math.Sqrt(float64(len(dev))))
	es := mu / sd
	return LevelEffect{
		Deviations: append([]float64(nil), dev...),
		Mean:       mu,
		SD:         sd,
		Lower:      ci[0],
		Upper:      ci[1],
		EffectSize: es,
		CDF:        stats.NormCdf(math.Abs(es), 0, 1),
	}, nil
}

// percentDiff is num/den*100 per subject.
func percentDiff(level, against string, label map[string]string, num, den []float64) PercentDiff {
	pd := PercentDiff{
		Level:   level,
		Against: against,
		Name:    label[level] + " vs. " + label[against],
		Values:  make([]float64, len(num)),
	}
	for i := range num {
		pd.Values[i] = num[i] / den[i] * 100
	}
	pd.Mean, _ = stats.Mean(pd.Values)
	return pd
}
