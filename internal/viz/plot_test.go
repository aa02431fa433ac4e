package viz

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pedalstat/internal/analysis"
	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/lmm"
)

func summary() *analysis.SubjectSummary {
	return &analysis.SubjectSummary{
		Group:     "subject",
		Variable:  "condition",
		Reference: "3",
		Subjects:  []string{"1", "2", "3"},
		Levels:    []string{"3", "1", "2"},
		Labels:    []string{"Locked", "ad-lib", "Minimal"},
		Values:    [][]float64{{5, 10, 8}, {4, 11, 7}, {6, 9, 9}},
	}
}

func smallOutput(t *testing.T, f Format) Output {
	return Output{Dir: t.TempDir(), Format: f, DPI: 40, WidthIn: 6, HeightIn: 3}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": PNG, "png": PNG, "PNG": PNG, " svg ": SVG} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("gif")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestOutputPath(t *testing.T) {
	out := Output{Dir: "figs", Format: SVG}
	assert.Equal(t, filepath.Join("figs", "RBLA.svg"), out.Path("RBLA.png"))
	assert.Equal(t, filepath.Join("figs", "effect.svg"), out.Path("effect"))

	out.Format = ""
	assert.Equal(t, filepath.Join("figs", "RBLA.png"), out.Path("RBLA.png"))
}

func TestOutputPixels(t *testing.T) {
	w, h := DefaultOutput().pixels()
	assert.Equal(t, 4800, w)
	assert.Equal(t, 1800, h)

	w, h = Output{DPI: 100, WidthIn: 2.5}.pixels()
	assert.Equal(t, 250, w)
	assert.Equal(t, 600, h)
}

func TestTrajectories(t *testing.T) {
	for _, f := range []Format{PNG, SVG} {
		out := smallOutput(t, f)
		path, err := Trajectories(out, summary(), TrajectoryOptions{
			File:   "RBLA.png",
			YLabel: "Range Bicycle Lean (deg)",
			Limits: &Limits{Min: 0, Max: 12},
		})
		require.NoError(t, err)
		assert.Equal(t, out.Path("RBLA"), path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestTrajectoriesEmpty(t *testing.T) {
	_, err := Trajectories(smallOutput(t, PNG), &analysis.SubjectSummary{}, TrajectoryOptions{})
	assert.ErrorIs(t, err, ErrNoData)
}

func fitGrip(t *testing.T) *lmm.Model {
	t.Helper()
	recs := [][]string{{"Subject", "Grip", "Power"}}
	base := []float64{900, 950, 1010, 870, 980}
	for s, b := range base {
		for rep := 0; rep < 3; rep++ {
			noise := 8 * math.Sin(float64(s*3+rep))
			recs = append(recs,
				[]string{fmt.Sprint(s + 1), "1", fmt.Sprint(b + noise)},
				[]string{fmt.Sprint(s + 1), "2", fmt.Sprint(b + 60 + float64(s)*4 - noise)},
			)
		}
	}
	ds, err := dataset.FromRecords("grip.csv", recs)
	require.NoError(t, err)
	f, err := formula.Parse("Power ~ Grip + (1 | Subject)")
	require.NoError(t, err)
	m, err := lmm.Fit(context.Background(), ds, f, lmm.Options{
		Factors: map[string][]string{"Grip": {"1", "2"}},
	})
	require.NoError(t, err)
	return m
}

func TestModelFigures(t *testing.T) {
	m := fitGrip(t)
	out := smallOutput(t, PNG)

	path, err := Coefficients(out, m, "Subject", "")
	require.NoError(t, err)
	assert.FileExists(t, path)

	path, err = FactorEffect(out, m, "Subject", "Grip", "grip_effect.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out.Dir, "grip_effect.png"), path)
	assert.FileExists(t, path)
}

func TestPreview(t *testing.T) {
	p := Preview(summary(), 30, 6)
	assert.Contains(t, p, "condition: Locked -> ad-lib -> Minimal")
	assert.Empty(t, Preview(nil, 30, 6))

	assert.Contains(t, PreviewSeries("RBLA_deg", summary().Values, 30, 6), "RBLA_deg")
	assert.Empty(t, PreviewSeries("none", nil, 30, 6))
}
