// Package experiment runs a study end to end: load, normalize, then fit,
// compare, summarise and plot every configured model.
package experiment

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/pedalstat/internal/analysis"
	"github.com/san-kum/pedalstat/internal/config"
	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/lmm"
	"github.com/san-kum/pedalstat/internal/normalize"
	"github.com/san-kum/pedalstat/internal/posthoc"
	"github.com/san-kum/pedalstat/internal/report"
	"github.com/san-kum/pedalstat/internal/viz"
)

type modelPlan struct {
	cfg     config.ModelConfig
	formula *formula.Formula
	method  lmm.Method
	posthoc []posthoc.Options
	plots   []PlotFunc
}

type Experiment struct {
	cfg         *config.Config
	registry    *Registry
	log         *zap.Logger
	stdout      io.Writer
	ds          *dataset.Dataset
	normalizers []normalize.Normalizer
	models      []modelPlan
	output      viz.Output
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option { return func(e *Experiment) { e.log = l } }

// WithStdout sets where summaries and tables are printed.
func WithStdout(w io.Writer) Option { return func(e *Experiment) { e.stdout = w } }

func WithRegistry(r *Registry) Option { return func(e *Experiment) { e.registry = r } }

// WithDataset skips loading and uses ds instead. The dataset is cloned
// before normalization.
func WithDataset(ds *dataset.Dataset) Option { return func(e *Experiment) { e.ds = ds } }

func New(cfg *config.Config, opts ...Option) *Experiment {
	e := &Experiment{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      zap.NewNop(),
		stdout:   os.Stdout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Setup resolves every name in the study and parses the formulas, so that a
// misconfigured study fails before any data is read.
func (e *Experiment) Setup() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	e.normalizers = e.normalizers[:0]
	for _, nc := range e.cfg.Normalize {
		n, err := e.registry.GetNormalizer(nc)
		if err != nil {
			return err
		}
		e.normalizers = append(e.normalizers, n)
	}

	e.models = e.models[:0]
	for _, mc := range e.cfg.Models {
		f, err := formula.Parse(mc.Formula)
		if err != nil {
			return err
		}
		method, err := lmm.ParseMethod(mc.Method)
		if err != nil {
			return err
		}
		plan := modelPlan{cfg: mc, formula: f, method: method}
		for _, pc := range mc.Posthoc {
			adj, err := e.registry.GetAdjust(pc.Adjust)
			if err != nil {
				return err
			}
			plan.posthoc = append(plan.posthoc, posthoc.Options{Marginal: pc.Marginal, By: pc.By, Adjust: adj})
		}
		for _, pc := range mc.Plots {
			fn, err := e.registry.GetPlot(pc.Kind)
			if err != nil {
				return err
			}
			plan.plots = append(plan.plots, fn)
		}
		e.models = append(e.models, plan)
	}

	format, err := viz.ParseFormat(e.cfg.Output.Format)
	if err != nil {
		return err
	}
	e.output = viz.Output{
		Dir:      e.cfg.Output.Dir,
		Format:   format,
		DPI:      e.cfg.Output.DPI,
		WidthIn:  e.cfg.Output.WidthIn,
		HeightIn: e.cfg.Output.HeightIn,
	}
	return nil
}

// ModelResult is everything produced for one model.
type ModelResult struct {
	Config   config.ModelConfig
	Model    *lmm.Model
	Posthoc  []*posthoc.Result
	Subjects *analysis.SubjectSummary
	Figures  []string
}

type Result struct {
	Study          string
	Source         string
	Rows           int
	Normalizations []*normalize.Report
	Models         []*ModelResult
	Elapsed        time.Duration
}

func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	if e.models == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	start := time.Now()
	log := e.log.With(zap.String("study", e.cfg.Study))

	ds, err := e.dataset(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("dataset loaded", zap.String("source", ds.Source), zap.Int("rows", ds.Len()))

	res := &Result{Study: e.cfg.Study, Source: ds.Source, Rows: ds.Len()}
	for _, n := range e.normalizers {
		rep, err := n.Apply(ds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name(), err)
		}
		log.Info("normalized", zap.String("method", rep.Method), zap.Strings("columns", rep.Columns))
		res.Normalizations = append(res.Normalizations, rep)
	}

	for _, plan := range e.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mr, err := e.runModel(ctx, ds, plan, log)
		if err != nil {
			return nil, err
		}
		res.Models = append(res.Models, mr)
	}
	res.Elapsed = time.Since(start)
	log.Info("study finished", zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (e *Experiment) dataset(ctx context.Context) (*dataset.Dataset, error) {
	if e.ds != nil {
		return e.ds.Clone(), nil
	}
	return dataset.Load(ctx, e.cfg.Dataset.Source, dataset.Options{Sheet: e.cfg.Dataset.Sheet})
}

func (e *Experiment) runModel(ctx context.Context, ds *dataset.Dataset, plan modelPlan, log *zap.Logger) (*ModelResult, error) {
	log = log.With(zap.String("response", plan.formula.Response))

	m, err := lmm.Fit(ctx, ds, plan.formula, lmm.Options{Method: plan.method, Factors: plan.cfg.Factors})
	if err != nil {
		return nil, err
	}
	d := m.Diagnostics
	log.Info("model fitted",
		zap.String("formula", plan.formula.String()),
		zap.Int("n", d.N),
		zap.Int("dropped", d.Dropped),
		zap.Float64("criterion", d.Criterion),
		zap.Bool("converged", d.Converged),
		zap.Int("evaluations", d.Evaluations),
		zap.Int("seed_points", d.SeedPoints),
	)
	if d.Singular {
		log.Warn("singular fit", zap.Float64s("theta", m.Theta))
	}
	if err := report.Model(e.stdout, m); err != nil {
		return nil, err
	}
	fmt.Fprintln(e.stdout)

	mr := &ModelResult{Config: plan.cfg, Model: m}
	for _, opts := range plan.posthoc {
		ph, err := posthoc.Compare(m, opts)
		if err != nil {
			return nil, fmt.Errorf("%s post-hoc %s: %w", plan.formula.Response, opts.Marginal, err)
		}
		log.Debug("post-hoc", zap.String("marginal", opts.Marginal), zap.String("by", opts.By),
			zap.Int("contrasts", len(ph.Contrasts)))
		if err := report.Posthoc(e.stdout, ph); err != nil {
			return nil, err
		}
		mr.Posthoc = append(mr.Posthoc, ph)
	}

	if sc := plan.cfg.Subjects; sc != nil {
		s, err := analysis.Summarize(m, analysis.Options{
			Group: sc.Group, Variable: sc.Variable, Order: sc.Order, Labels: sc.Labels,
		})
		if err != nil {
			return nil, fmt.Errorf("%s subject summary: %w", plan.formula.Response, err)
		}
		if err := report.Subjects(e.stdout, s); err != nil {
			return nil, err
		}
		mr.Subjects = s
	}

	if e.cfg.Output.NoPlots {
		return mr, nil
	}
	for i, fn := range plan.plots {
		pc := plan.cfg.Plots[i]
		path, err := fn(e.output, mr, pc)
		if err != nil {
			return nil, fmt.Errorf("%s %s plot: %w", plan.formula.Response, pc.Kind, err)
		}
		log.Info("figure written", zap.String("kind", pc.Kind), zap.String("path", path))
		mr.Figures = append(mr.Figures, path)
	}
	return mr, nil
}

// NormalizerNames describes the applied normalizations for run metadata.
func (r *Result) NormalizerNames() []string {
	out := make([]string, len(r.Normalizations))
	for i, n := range r.Normalizations {
		out[i] = n.Method + " " + strings.Join(n.Columns, ",")
	}
	return out
}
