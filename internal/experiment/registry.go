package experiment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/pedalstat/internal/config"
	"github.com/san-kum/pedalstat/internal/normalize"
	"github.com/san-kum/pedalstat/internal/posthoc"
	"github.com/san-kum/pedalstat/internal/viz"
)

var ErrUnknownName = errors.New("experiment: unknown name")

// PlotFunc renders one figure of a fitted model and returns its path.
type PlotFunc func(out viz.Output, res *ModelResult, p config.PlotConfig) (string, error)

type Registry struct {
	normalizers map[string]func(config.NormalizeConfig) normalize.Normalizer
	plots       map[string]PlotFunc
}

func NewRegistry() *Registry {
	r := &Registry{
		normalizers: make(map[string]func(config.NormalizeConfig) normalize.Normalizer),
		plots:       make(map[string]PlotFunc),
	}

	r.normalizers[config.BaselineMean] = func(c config.NormalizeConfig) normalize.Normalizer {
		return &normalize.BaselineMean{
			Subject: c.Subject, Condition: c.Condition, Baseline: c.Baseline, Columns: c.Columns,
		}
	}
	r.normalizers[config.Paired] = func(c config.NormalizeConfig) normalize.Normalizer {
		return &normalize.Paired{Reference: c.Reference, Columns: c.Columns, FromIndex: c.FromIndex}
	}

	r.plots[config.PlotTrajectories] = plotTrajectories
	r.plots[config.PlotCoefficients] = func(out viz.Output, res *ModelResult, p config.PlotConfig) (string, error) {
		return viz.Coefficients(out, res.Model, groupOf(res, p), p.File)
	}
	r.plots[config.PlotFactorEffect] = func(out viz.Output, res *ModelResult, p config.PlotConfig) (string, error) {
		return viz.FactorEffect(out, res.Model, groupOf(res, p), p.Variable, p.File)
	}

	return r
}

func plotTrajectories(out viz.Output, res *ModelResult, p config.PlotConfig) (string, error) {
	if res.Subjects == nil {
		return "", fmt.Errorf("experiment: trajectories of %s need a subject summary", res.Model.Formula.Response)
	}
	opts := viz.TrajectoryOptions{File: p.File, YLabel: p.YLabel}
	if p.YMin != nil && p.YMax != nil {
		opts.Limits = &viz.Limits{Min: *p.YMin, Max: *p.YMax}
	}
	return viz.Trajectories(out, res.Subjects, opts)
}

// groupOf defaults to the model's first grouping factor.
func groupOf(res *ModelResult, p config.PlotConfig) string {
	if p.Group != "" {
		return p.Group
	}
	return res.Model.Formula.Groups()[0]
}

func (r *Registry) GetNormalizer(c config.NormalizeConfig) (normalize.Normalizer, error) {
	fn, ok := r.normalizers[c.Method]
	if !ok {
		return nil, fmt.Errorf("%w: normalizer %q", ErrUnknownName, c.Method)
	}
	return fn(c), nil
}

func (r *Registry) GetPlot(kind string) (PlotFunc, error) {
	fn, ok := r.plots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: plot kind %q", ErrUnknownName, kind)
	}
	return fn, nil
}

func (r *Registry) GetAdjust(name string) (posthoc.Adjust, error) {
	adj, err := posthoc.ParseAdjust(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownName, err)
	}
	return adj, nil
}

func (r *Registry) ListNormalizers() []string { return sortedKeys(r.normalizers) }

func (r *Registry) ListPlots() []string { return sortedKeys(r.plots) }

func (r *Registry) ListAdjustments() []string { return posthoc.AdjustMethods() }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
