package lmm_test

import (
	"context"
	"errors"
	"fmt"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/design"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/lmm"
)

func records(header []string, rows [][]any) *dataset.Dataset {
	recs := [][]string{header}
	for _, r := range rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = fmt.Sprint(v)
		}
		recs = append(recs, rec)
	}
	ds, err := dataset.FromRecords("mem", recs)
	Expect(err).NotTo(HaveOccurred())
	return ds
}

// oneWay is a balanced design with 4 groups of 3: group means 10, 14, 6, 12,
// within mean square 1 and between mean square 35.
func oneWay() *dataset.Dataset {
	values := map[string][]float64{
		"g1": {9, 10, 11},
		"g2": {13, 14, 15},
		"g3": {5, 6, 7},
		"g4": {11, 12, 13},
	}
	var rows [][]any
	for _, g := range []string{"g1", "g2", "g3", "g4"} {
		for _, v := range values[g] {
			rows = append(rows, []any{g, v})
		}
	}
	return records([]string{"g", "y"}, rows)
}

// rollers has three conditions per subject with subject-specific offsets
// and condition effects.
func rollers() *dataset.Dataset {
	offset := []float64{-1, 0.5, 1.2, -0.3, 0.8, -1.2}
	slope2 := []float64{0.3, -0.2, 0.5, -0.4, 0.1, -0.3}
	slope3 := []float64{-0.2, 0.4, -0.5, 0.3, 0.2, -0.2}
	var rows [][]any
	i := 0
	for s := range offset {
		for rep := 0; rep < 2; rep++ {
			for c := 1; c <= 3; c++ {
				y := 10 + offset[s] + 0.3*math.Sin(float64(i))
				switch c {
				case 2:
					y += -1 + slope2[s]
				case 3:
					y += 1 + slope3[s]
				}
				rows = append(rows, []any{fmt.Sprintf("s%d", s+1), c, y})
				i++
			}
		}
	}
	return records([]string{"subject", "condition", "y"}, rows)
}

var conditionLevels = map[string][]string{"condition": {"1", "2", "3"}}

func designPoint(condition string) design.Point {
	return design.Point{Levels: map[string]string{"condition": condition}}
}

func fit(ds *dataset.Dataset, src string, opts lmm.Options) *lmm.Model {
	m, err := lmm.Fit(context.Background(), ds, formula.MustParse(src), opts)
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Fit", func() {
	Context("balanced random intercept", func() {
		It("recovers the ANOVA REML estimates", func() {
			m := fit(oneWay(), "y ~ 1 + (1 | g)", lmm.DefaultOptions())

			Expect(m.Diagnostics.Converged).To(BeTrue())
			Expect(m.Diagnostics.N).To(Equal(12))
			Expect(m.Diagnostics.Groups).To(HaveKeyWithValue("g", 4))
			Expect(m.Diagnostics.DFModel).To(Equal(3))
			Expect(m.Diagnostics.Singular).To(BeFalse())
			Expect(m.Diagnostics.SeedPoints).To(Equal(4))

			Expect(m.Sigma*m.Sigma).To(BeNumerically("~", 1.0, 1e-4))
			Expect(m.VarComps).To(HaveLen(1))
			sd := m.VarComps[0].SD[0]
			Expect(sd*sd).To(BeNumerically("~", 34.0/3.0, 1e-3))

			fe, ok := m.FixedEffect("(Intercept)")
			Expect(ok).To(BeTrue())
			Expect(fe.Estimate).To(BeNumerically("~", 10.5, 1e-8))
			Expect(fe.SE).To(BeNumerically("~", math.Sqrt(35.0/12.0), 1e-4))
			Expect(fe.DF).To(BeNumerically("~", 3.0, 0.05))
			Expect(fe.P).To(BeNumerically("<", 0.01))
		})

		It("shrinks group deviations towards the mean", func() {
			m := fit(oneWay(), "y ~ 1 + (1 | g)", lmm.DefaultOptions())
			re := m.RanEf[0]
			Expect(re.Levels).To(Equal([]string{"g1", "g2", "g3", "g4"}))

			shrink := 34.0 / 35.0
			for i, dev := range []float64{-0.5, 3.5, -4.5, 1.5} {
				Expect(re.Values[i][0]).To(BeNumerically("~", shrink*dev, 1e-4))
			}

			coef, err := m.Coef("g")
			Expect(err).NotTo(HaveOccurred())
			Expect(coef.Columns).To(Equal([]string{"(Intercept)"}))
			Expect(coef.Values[1][0]).To(BeNumerically("~", 10.5+shrink*3.5, 1e-4))
		})

		It("recovers the ML estimates", func() {
			opts := lmm.DefaultOptions()
			opts.Method = lmm.ML
			m := fit(oneWay(), "y ~ 1 + (1 | g)", opts)

			Expect(m.Sigma*m.Sigma).To(BeNumerically("~", 1.0, 1e-4))
			sd := m.VarComps[0].SD[0]
			Expect(sd*sd).To(BeNumerically("~", (105.0/4.0-1)/3.0, 1e-3))
			Expect(m.Diagnostics.LogLik).To(BeNumerically("~", -m.Diagnostics.Criterion/2, 1e-12))
			Expect(m.Diagnostics.AIC).To(BeNumerically("~", m.Diagnostics.Criterion+6, 1e-9))
		})

		It("fits fitted values and residuals that add up to the response", func() {
			m := fit(oneWay(), "y ~ 1 + (1 | g)", lmm.DefaultOptions())
			for i, y := range m.Design.Y {
				Expect(m.Fitted[i] + m.Residuals[i]).To(BeNumerically("~", y, 1e-12))
			}
		})
	})

	Context("zero random variance", func() {
		It("returns the ordinary least squares fixed effects", func() {
			// Residuals from y = 1 + 2x sum to zero within every group.
			ds := records([]string{"g", "x", "y"}, [][]any{
				{"a", 1, 3.1}, {"a", 2, 4.9}, {"a", 3, 6.9}, {"a", 4, 9.1},
				{"b", 1, 2.8}, {"b", 2, 5.2}, {"b", 3, 7.2}, {"b", 4, 8.8},
				{"c", 1, 3.05}, {"c", 2, 4.85}, {"c", 3, 7.15}, {"c", 4, 8.95},
			})
			m := fit(ds, "y ~ x + (1 | g)", lmm.DefaultOptions())

			icpt, _ := m.FixedEffect("(Intercept)")
			slope, _ := m.FixedEffect("x")
			Expect(icpt.Estimate).To(BeNumerically("~", 1.0, 1e-8))
			Expect(slope.Estimate).To(BeNumerically("~", 2.0, 1e-8))
			Expect(slope.SE).To(BeNumerically("~", math.Sqrt(0.025/15), 1e-4))
			Expect(m.VarComps[0].SD[0]).To(BeNumerically("<", 0.01))
		})
	})

	Context("random slopes", func() {
		It("codes conditions against the first level", func() {
			m := fit(rollers(), "y ~ condition + (1 + condition | subject)",
				lmm.Options{Method: lmm.REML, Factors: conditionLevels})

			Expect(m.Design.FixedNames()).To(Equal([]string{"(Intercept)", "condition2", "condition3"}))
			c2, _ := m.FixedEffect("condition2")
			c3, _ := m.FixedEffect("condition3")
			Expect(c2.Estimate).To(BeNumerically("~", -1.0, 0.2))
			Expect(c3.Estimate).To(BeNumerically("~", 1.0, 0.2))

			vc := m.VarComps[0]
			Expect(vc.Names).To(Equal([]string{"(Intercept)", "condition2", "condition3"}))
			for _, sd := range vc.SD {
				Expect(sd).To(BeNumerically(">=", 0))
			}
			for i := range vc.Corr {
				for j := range vc.Corr[i] {
					if !math.IsNaN(vc.Corr[i][j]) {
						Expect(math.Abs(vc.Corr[i][j])).To(BeNumerically("<=", 1+1e-9))
					}
				}
			}
		})

		It("averages per-subject coefficients to the fixed effects", func() {
			m := fit(rollers(), "y ~ condition + (1 + condition | subject)",
				lmm.Options{Factors: conditionLevels})
			coef, err := m.Coef("subject")
			Expect(err).NotTo(HaveOccurred())
			Expect(coef.Levels).To(HaveLen(6))

			for j, fe := range m.Fixed {
				col, ok := coef.Column(fe.Name)
				Expect(ok).To(BeTrue())
				mean := 0.0
				for _, v := range col {
					mean += v
				}
				mean /= float64(len(col))
				Expect(mean).To(BeNumerically("~", m.Beta()[j], 1e-5))
			}
		})

		It("reports random-only columns as pure deviations", func() {
			m := fit(rollers(), "y ~ (1 + condition | subject)", lmm.Options{Factors: conditionLevels})
			coef, err := m.Coef("subject")
			Expect(err).NotTo(HaveOccurred())
			Expect(coef.Columns).To(Equal([]string{"(Intercept)", "condition2", "condition3"}))

			c2, _ := coef.Column("condition2")
			for i, v := range c2 {
				Expect(v).To(Equal(m.RanEf[0].Values[i][1]))
			}
		})

		It("predicts subject lines from fixed and random parts", func() {
			m := fit(rollers(), "y ~ condition + (1 + condition | subject)",
				lmm.Options{Factors: conditionLevels})
			coef, _ := m.Coef("subject")

			pop, err := m.PredictFixed(designPoint("3"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pop).To(BeNumerically("~", m.Beta()[0]+m.Beta()[2], 1e-12))

			sub, err := m.PredictLevel("subject", "s2", designPoint("3"))
			Expect(err).NotTo(HaveOccurred())
			Expect(sub).To(BeNumerically("~", coef.Values[1][0]+coef.Values[1][2], 1e-12))

			_, err = m.PredictLevel("subject", "nobody", designPoint("1"))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("contrasts", func() {
		It("estimates linear combinations with their standard error", func() {
			m := fit(rollers(), "y ~ condition + (1 + condition | subject)",
				lmm.Options{Factors: conditionLevels})
			est, se, df, err := m.Estimate([]float64{0, 1, -1})
			Expect(err).NotTo(HaveOccurred())
			Expect(est).To(BeNumerically("~", m.Beta()[1]-m.Beta()[2], 1e-12))
			v := m.Vcov()
			Expect(se * se).To(BeNumerically("~", v.At(1, 1)+v.At(2, 2)-2*v.At(1, 2), 1e-10))
			Expect(df).To(BeNumerically(">", 0))

			_, _, _, err = m.Estimate([]float64{1})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("errors", func() {
		It("rejects formulas without random terms", func() {
			_, err := lmm.Fit(context.Background(), oneWay(), formula.MustParse("y ~ 1"), lmm.DefaultOptions())
			Expect(errors.Is(err, lmm.ErrNoRandomEffects)).To(BeTrue())
			var fe *lmm.FitError
			Expect(errors.As(err, &fe)).To(BeTrue())
			Expect(fe.Formula).To(Equal("y ~ 1"))
		})

		It("rejects unknown variables", func() {
			_, err := lmm.Fit(context.Background(), oneWay(), formula.MustParse("y ~ x + (1 | g)"), lmm.DefaultOptions())
			Expect(errors.Is(err, lmm.ErrUnknownVariable)).To(BeTrue())
		})

		It("rejects rank deficient fixed effects", func() {
			ds := records([]string{"g", "x", "x2", "y"}, [][]any{
				{"a", 1, 2, 1.0}, {"a", 2, 4, 2.1}, {"b", 1, 2, 0.9}, {"b", 2, 4, 2.2}, {"c", 3, 6, 3.1},
			})
			_, err := lmm.Fit(context.Background(), ds, formula.MustParse("y ~ x + x2 + (1 | g)"), lmm.DefaultOptions())
			Expect(errors.Is(err, lmm.ErrRankDeficient)).To(BeTrue())
		})

		It("rejects a single group", func() {
			ds := records([]string{"g", "y"}, [][]any{{"a", 1}, {"a", 2}, {"a", 3}})
			_, err := lmm.Fit(context.Background(), ds, formula.MustParse("y ~ 1 + (1 | g)"), lmm.DefaultOptions())
			Expect(errors.Is(err, lmm.ErrTooFewGroups)).To(BeTrue())
		})

		It("stops when the context is canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := lmm.Fit(ctx, oneWay(), formula.MustParse("y ~ 1 + (1 | g)"), lmm.DefaultOptions())
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Context("summary", func() {
		It("prints the random and fixed effects tables", func() {
			m := fit(oneWay(), "y ~ 1 + (1 | g)", lmm.DefaultOptions())
			s := m.Summary()
			Expect(s).To(ContainSubstring("REML criterion at convergence"))
			Expect(s).To(ContainSubstring("Random effects:"))
			Expect(s).To(ContainSubstring("Fixed effects:"))
			Expect(s).To(ContainSubstring("(Intercept)"))
			Expect(s).To(ContainSubstring("Number of obs: 12, groups:  g, 4"))
		})
	})
})

var _ = DescribeTable("FormatP",
	func(p float64, want string) {
		Expect(lmm.FormatP(p)).To(Equal(want))
	},
	Entry("tiny", 1e-20, "<2e-16"),
	Entry("small", 3.2e-6, "3.20e-06"),
	Entry("regular", 0.0421, "0.0421"),
	Entry("missing", math.NaN(), "NA"),
)
