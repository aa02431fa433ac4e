package viz

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/pedalstat/internal/analysis"
	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/lmm"
)

var (
	ErrUnknownFormat = errors.New("viz: unknown image format")
	ErrNoData        = errors.New("viz: nothing to plot")
)

type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

// ParseFormat accepts png or svg in any case; empty means png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "svg":
		return SVG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Output says where and how figures are written.
type Output struct {
	Dir      string
	Format   Format
	DPI      float64
	WidthIn  float64
	HeightIn float64
}

func DefaultOutput() Output {
	return Output{Dir: "figures", Format: PNG, DPI: 300, WidthIn: 16, HeightIn: 6}
}

// Path returns the file a figure named name is written to. The extension
// always follows the output format.
func (o Output) Path(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	f := o.Format
	if f == "" {
		f = PNG
	}
	return filepath.Join(o.Dir, base+"."+string(f))
}

func (o Output) pixels() (int, int) {
	d := DefaultOutput()
	dpi, w, h := o.DPI, o.WidthIn, o.HeightIn
	if dpi <= 0 {
		dpi = d.DPI
	}
	if w <= 0 {
		w = d.WidthIn
	}
	if h <= 0 {
		h = d.HeightIn
	}
	return int(math.Round(w * dpi)), int(math.Round(h * dpi))
}

func (o Output) render(ch chart.Chart, name string) (string, error) {
	var rp chart.RendererProvider
	switch o.Format {
	case PNG, "":
		rp = chart.PNG
	case SVG:
		rp = chart.SVG
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, o.Format)
	}
	ch.Width, ch.Height = o.pixels()
	ch.DPI = o.DPI

	path := o.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := ch.Render(rp, f); err != nil {
		f.Close()
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	return path, f.Close()
}

// Limits fixes the y-axis range when both bounds are set.
type Limits struct {
	Min, Max float64
}

type TrajectoryOptions struct {
	File   string
	YLabel string
	Title  string
	Limits *Limits
}

// Trajectories draws one line per subject across the summary's display
// levels, labelled with the summary labels.
func Trajectories(out Output, s *analysis.SubjectSummary, opts TrajectoryOptions) (string, error) {
	if s == nil || len(s.Values) == 0 {
		return "", ErrNoData
	}
	xs := levelAxis(len(s.Levels))
	series := make([]chart.Series, 0, len(s.Subjects))
	for i, subj := range s.Subjects {
		col := chart.GetDefaultColor(i)
		series = append(series, chart.ContinuousSeries{
			Name:    subj,
			XValues: xs,
			YValues: s.Values[i],
			Style:   lineStyle(col, 1),
		})
	}

	ch := chart.Chart{
		Title:      opts.Title,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis:      categoryAxis(s.Variable, s.Labels),
		YAxis:      chart.YAxis{Name: opts.YLabel},
		Series:     series,
	}
	if opts.Limits != nil {
		ch.YAxis.Range = &chart.ContinuousRange{Min: opts.Limits.Min, Max: opts.Limits.Max}
	}
	return out.render(ch, fileOr(opts.File, "trajectories"))
}

// Coefficients draws each fixed effect with its 95% interval, and the
// per-level coefficients of group as points beside it.
func Coefficients(out Output, m *lmm.Model, group, file string) (string, error) {
	if len(m.Fixed) == 0 {
		return "", ErrNoData
	}
	coef, err := m.Coef(group)
	if err != nil {
		return "", err
	}

	names := make([]string, len(m.Fixed))
	var series []chart.Series
	for i, fe := range m.Fixed {
		names[i] = fe.Name
		x := float64(i)
		q := 1.96
		if fe.DF > 0 && !math.IsNaN(fe.DF) {
			q = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: fe.DF}.Quantile(0.975)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    fe.Name + " 95% CI",
			XValues: []float64{x, x},
			YValues: []float64{fe.Estimate - q*fe.SE, fe.Estimate + q*fe.SE},
			Style:   lineStyle(chart.ColorBlack, 2),
		})
		series = append(series, chart.ContinuousSeries{
			Name:    fe.Name,
			XValues: []float64{x},
			YValues: []float64{fe.Estimate},
			Style:   pointStyle(chart.ColorRed, 6),
		})

		if vals, ok := coef.Column(fe.Name); ok {
			xs := make([]float64, len(vals))
			for j := range xs {
				xs[j] = x + 0.15
			}
			series = append(series, chart.ContinuousSeries{
				Name:    fe.Name + " (" + group + ")",
				XValues: xs,
				YValues: vals,
				Style:   pointStyle(chart.ColorAlternateGray, 3),
			})
		}
	}

	ch := chart.Chart{
		Title:      m.Formula.String(),
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20}},
		XAxis:      categoryAxis("", names),
		YAxis:      chart.YAxis{Name: m.Formula.Response},
		Series:     series,
	}
	return out.render(ch, fileOr(file, "coefficients"))
}

// FactorEffect draws the predicted response across the levels of variable
// for every level of group, with other factors at their reference level and
// covariates at their mean, plus the population line.
func FactorEffect(out Output, m *lmm.Model, group, variable, file string) (string, error) {
	v, ok := m.Design.Variable(variable)
	if !ok || !v.Factor {
		return "", fmt.Errorf("viz: %q is not a factor of the model", variable)
	}
	coef, err := m.Coef(group)
	if err != nil {
		return "", err
	}

	xs := levelAxis(len(v.Levels))
	var series []chart.Series
	for i, subj := range coef.Levels {
		ys := make([]float64, len(v.Levels))
		for j, lvl := range v.Levels {
			y, err := m.PredictLevel(group, subj, design.Point{Levels: map[string]string{variable: lvl}})
			if err != nil {
				return "", err
			}
			ys[j] = y
		}
		series = append(series, chart.ContinuousSeries{
			Name: subj, XValues: xs, YValues: ys,
			Style: lineStyle(chart.GetDefaultColor(i), 1),
		})
	}

	pop := make([]float64, len(v.Levels))
	for j, lvl := range v.Levels {
		y, err := m.PredictFixed(design.Point{Levels: map[string]string{variable: lvl}})
		if err != nil {
			return "", err
		}
		pop[j] = y
	}
	series = append(series, chart.ContinuousSeries{
		Name: "population", XValues: xs, YValues: pop,
		Style: lineStyle(chart.ColorBlack, 4),
	})

	ch := chart.Chart{
		Title:      m.Formula.Response + " by " + variable,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20}},
		XAxis:      categoryAxis(variable, v.Levels),
		YAxis:      chart.YAxis{Name: m.Formula.Response},
		Series:     series,
	}
	return out.render(ch, fileOr(file, m.Formula.Response+"_"+variable))
}

func levelAxis(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

func categoryAxis(name string, labels []string) chart.XAxis {
	ticks := make([]chart.Tick, len(labels))
	for i, l := range labels {
		ticks[i] = chart.Tick{Value: float64(i), Label: l}
	}
	return chart.XAxis{
		Name:  name,
		Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(labels)) - 0.5},
		Ticks: ticks,
	}
}

func lineStyle(col drawing.Color, width float64) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: width,
		DotColor:    col,
		DotWidth:    width + 2,
	}
}

// pointStyle renders points only.
func pointStyle(col drawing.Color, size float64) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotColor:    col,
		DotWidth:    size,
	}
}

func fileOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return strings.NewReplacer(" ", "_", "/", "_", ":", "_").Replace(fallback)
}
