package posthoc

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/lmm"
)

func TestParseAdjust(t *testing.T) {
	tests := []struct {
		in   string
		want Adjust
	}{
		{"Tukey", Tukey},
		{"tukey", Tukey},
		{"", Tukey},
		{"BONFERRONI", Bonferroni},
		{"holm", Holm},
		{"Sidak", Sidak},
		{"fdr", FDR},
		{"BH", FDR},
		{"none", None},
	}
	for _, tt := range tests {
		got, err := ParseAdjust(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseAdjust("scheffe")
	assert.ErrorIs(t, err, ErrUnknownAdjust)
}

func TestAdjustP(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.005}
	tests := []struct {
		method Adjust
		want   []float64
	}{
		{Bonferroni, []float64{0.04, 0.16, 0.12, 0.02}},
		{Holm, []float64{0.03, 0.06, 0.06, 0.02}},
		{FDR, []float64{0.02, 0.04, 0.04, 0.02}},
		{Sidak, []float64{
			1 - math.Pow(0.99, 4), 1 - math.Pow(0.96, 4), 1 - math.Pow(0.97, 4), 1 - math.Pow(0.995, 4),
		}},
		{None, p},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			got := AdjustP(tt.method, p)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12, "index %d", i)
			}
		})
	}
	assert.Equal(t, []float64{1}, AdjustP(Bonferroni, []float64{1}))
}

func TestStudentizedRange(t *testing.T) {
	// Upper 5% points of the studentized range.
	tests := []struct {
		k, df, q float64
	}{
		{3, 10, 3.877},
		{4, 20, 3.958},
		{5, 30, 4.102},
		{3, math.Inf(1), 3.314},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%v,df=%v", tt.k, tt.df), func(t *testing.T) {
			assert.InDelta(t, 0.95, PTukey(tt.q, tt.k, tt.df), 5e-4)
			assert.InDelta(t, tt.q, QTukey(0.95, tt.k, tt.df), 2e-3)
		})
	}
}

func TestStudentizedRangeTwoMeans(t *testing.T) {
	// With two means the range statistic is sqrt(2)|t|.
	for _, df := range []float64{3, 12, 60} {
		st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		for _, q := range []float64{0.5, 2, 4} {
			want := 1 - 2*st.Survival(q/math.Sqrt2)
			assert.InDelta(t, want, PTukey(q, 2, df), 1e-5, "df=%v q=%v", df, q)
		}
	}
}

func TestStudentizedRangeEdges(t *testing.T) {
	assert.Equal(t, 0.0, PTukey(0, 3, 10))
	assert.Equal(t, 1.0, PTukey(math.Inf(1), 3, 10))
	assert.True(t, math.IsNaN(PTukey(1, 1, 10)))
	assert.True(t, math.IsNaN(QTukey(1.5, 3, 10)))
	assert.True(t, math.IsInf(QTukey(1, 3, 10), 1))
}

func sitStandModel(t *testing.T, src string) *lmm.Model {
	t.Helper()
	recs := [][]string{{"Subject", "Posture", "Cadence", "Power", "Speed"}}
	offset := []float64{-0.02, 0.01, 0.03, -0.01, 0.015, -0.025}
	i := 0
	for s, off := range offset {
		for _, p := range []string{"1", "2"} {
			for _, c := range []string{"1", "2"} {
				y := 0.2 + off + 0.01*math.Sin(float64(i))
				if p == "2" {
					y += 0.05
				}
				if c == "2" {
					y += 0.02
				}
				if p == "2" && c == "2" {
					y += 0.03
				}
				recs = append(recs, []string{
					fmt.Sprintf("S%d", s+1), p, c, fmt.Sprint(y), fmt.Sprint(60 + i%5),
				})
				i++
			}
		}
	}
	ds, err := dataset.FromRecords("mem", recs)
	require.NoError(t, err)
	m, err := lmm.Fit(context.Background(), ds, formula.MustParse(src), lmm.Options{
		Factors: map[string][]string{"Posture": {"1", "2"}, "Cadence": {"1", "2"}},
	})
	require.NoError(t, err)
	return m
}

func TestCompareByGroup(t *testing.T) {
	m := sitStandModel(t, "Power ~ Posture * Cadence + (1 | Subject)")
	beta := m.Beta()

	res, err := Compare(m, Options{Marginal: "Posture", By: "Cadence", Adjust: "Tukey"})
	require.NoError(t, err)
	assert.Equal(t, "Power", res.Response)
	assert.Equal(t, Tukey, res.Adjust)
	require.Len(t, res.Means, 4)
	require.Len(t, res.Contrasts, 2)

	assert.Equal(t, "1", res.Means[0].By)
	assert.Equal(t, "1", res.Means[0].Level)
	assert.InDelta(t, beta[0], res.Means[0].Estimate, 1e-12)
	assert.InDelta(t, beta[0]+beta[1]+beta[2]+beta[3], res.Means[3].Estimate, 1e-12)

	c1, c2 := res.Contrasts[0], res.Contrasts[1]
	assert.Equal(t, "1 - 2", c1.Name)
	assert.Equal(t, "1", c1.By)
	assert.Equal(t, "2", c2.By)
	assert.InDelta(t, -beta[1], c1.Estimate, 1e-12)
	assert.InDelta(t, -(beta[1] + beta[3]), c2.Estimate, 1e-12)

	// A family of one contrast needs no adjustment.
	assert.InDelta(t, c1.PRaw, c1.P, 1e-12)
	assert.Less(t, c1.Lower, c1.Estimate)
	assert.Greater(t, c1.Upper, c1.Estimate)
}

func TestCompareAveragesOverOtherFactors(t *testing.T) {
	m := sitStandModel(t, "Power ~ Posture * Cadence + (1 | Subject)")
	beta := m.Beta()

	res, err := Compare(m, Options{Marginal: "Posture"})
	require.NoError(t, err)
	require.Len(t, res.Means, 2)
	assert.InDelta(t, beta[0]+beta[2]/2, res.Means[0].Estimate, 1e-12)
	assert.InDelta(t, -(beta[1] + beta[3]/2), res.Contrasts[0].Estimate, 1e-12)
}

func TestCompareCovariateAtMean(t *testing.T) {
	m := sitStandModel(t, "Power ~ Posture + Speed + (1 | Subject)")
	beta := m.Beta()
	speed, _ := m.Design.Variable("Speed")

	res, err := Compare(m, Options{Marginal: "Posture", Adjust: None})
	require.NoError(t, err)
	assert.InDelta(t, beta[0]+beta[2]*speed.Mean, res.Means[0].Estimate, 1e-12)

	_, err = Compare(m, Options{Marginal: "Speed"})
	assert.ErrorIs(t, err, ErrNotFactor)
}

func TestCompareErrors(t *testing.T) {
	m := sitStandModel(t, "Power ~ Posture + (1 + Cadence | Subject)")

	_, err := Compare(m, Options{Marginal: "Grip"})
	assert.ErrorIs(t, err, ErrNotFactor)

	_, err = Compare(m, Options{Marginal: "Cadence"})
	assert.ErrorIs(t, err, ErrNotFactor, "random-only predictors are not compared")

	_, err = Compare(m, Options{Marginal: "Posture", By: "Posture"})
	assert.ErrorIs(t, err, ErrNotFactor)

	_, err = Compare(m, Options{Marginal: "Posture", Adjust: "scheffe"})
	assert.ErrorIs(t, err, ErrUnknownAdjust)
}

func TestTukeyBetweenRawAndBonferroni(t *testing.T) {
	family := []Contrast{
		{Estimate: 1, SE: 0.5, DF: 20, T: 2, PRaw: 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 20}.Survival(2)},
		{Estimate: 0.5, SE: 0.5, DF: 20, T: 1, PRaw: 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 20}.Survival(1)},
		{Estimate: 1.5, SE: 0.5, DF: 20, T: 3, PRaw: 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 20}.Survival(3)},
	}
	adjustFamily(family, Tukey, 3, 0.05)
	for _, c := range family {
		assert.GreaterOrEqual(t, c.P, c.PRaw)
		assert.LessOrEqual(t, c.P, math.Min(1, 3*c.PRaw))
		half := (c.Upper - c.Lower) / 2
		assert.InDelta(t, QTukey(0.95, 3, 20)/math.Sqrt2*c.SE, half, 1e-9)
	}
}

func TestRangeProbUnderflowCutoff(t *testing.T) {
	// The cutoff scales with the number of means: exp(-30/k).
	assert.Equal(t, 0.0, rangeProb(1, 10))
	assert.InDelta(t, 2*pnorm(0.5/math.Sqrt2, 0)-1, rangeProb(0.5, 2), 1e-5)
}
