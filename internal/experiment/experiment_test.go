package experiment_test

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/san-kum/pedalstat/internal/config"
	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/experiment"
	"github.com/san-kum/pedalstat/internal/storage"
)

// rollers has six subjects, three lean conditions and two repeats.
func rollers() *dataset.Dataset {
	offset := []float64{-1, 0.5, 1.2, -0.3, 0.8, -1.2}
	dev2 := []float64{0.3, -0.2, 0.5, -0.4, 0.1, -0.3}
	dev3 := []float64{-0.2, 0.4, -0.5, 0.3, 0.2, -0.2}
	recs := [][]string{{"subject", "condition", "power", "RBLA_deg"}}
	i := 0
	for s := range offset {
		for rep := 0; rep < 2; rep++ {
			for c := 1; c <= 3; c++ {
				noise := 0.3 * math.Sin(float64(i))
				power := 900 + 50*offset[s] + 20*noise
				lean := 10 + offset[s] + noise
				switch c {
				case 2:
					power -= 40
					lean += -4 + dev2[s]
				case 3:
					power -= 60
					lean += -8 + dev3[s]
				}
				recs = append(recs, []string{
					fmt.Sprint(s + 1), fmt.Sprint(c), fmt.Sprint(power), fmt.Sprint(lean),
				})
				i++
			}
		}
	}
	ds, err := dataset.FromRecords("rollers.csv", recs)
	Expect(err).NotTo(HaveOccurred())
	return ds
}

func study(outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Study = "rollers-test"
	cfg.Dataset.Source = "rollers.csv"
	cfg.Output.Dir = outDir
	cfg.Output.DPI = 50
	cfg.Output.WidthIn, cfg.Output.HeightIn = 8, 4
	cfg.Normalize = []config.NormalizeConfig{{
		Method: config.BaselineMean, Subject: "subject", Condition: "condition",
		Baseline: "1", Columns: []string{"power"},
	}}
	levels := map[string][]string{"condition": {"1", "2", "3"}}
	cfg.Models = []config.ModelConfig{
		{
			Formula: "power ~ condition + (1 | subject)",
			Factors: levels,
			Posthoc: []config.PosthocConfig{{Marginal: "condition", Adjust: "Tukey"}},
		},
		{
			Formula: "RBLA_deg ~ (1 + condition | subject)",
			Factors: levels,
			Subjects: &config.SubjectsConfig{
				Group: "subject", Variable: "condition",
				Order:  []string{"3", "1", "2"},
				Labels: []string{"Locked", "ad-lib", "Minimal"},
			},
			Plots: []config.PlotConfig{{Kind: config.PlotTrajectories, File: "RBLA.png", YLabel: "Range Bicycle Lean (deg)"}},
		},
	}
	return cfg
}

var _ = Describe("Experiment", func() {
	var (
		outDir string
		stdout *bytes.Buffer
	)

	BeforeEach(func() {
		outDir = GinkgoT().TempDir()
		stdout = &bytes.Buffer{}
	})

	newExperiment := func(cfg *config.Config) *experiment.Experiment {
		return experiment.New(cfg,
			experiment.WithDataset(rollers()),
			experiment.WithLogger(zap.NewNop()),
			experiment.WithStdout(stdout),
		)
	}

	Describe("Setup", func() {
		DescribeTable("rejects unknown names",
			func(mutate func(*config.Config)) {
				cfg := study(outDir)
				mutate(cfg)
				Expect(newExperiment(cfg).Setup()).To(MatchError(experiment.ErrUnknownName))
			},
			Entry("normalizer", func(c *config.Config) { c.Normalize[0].Method = "zscore" }),
			Entry("adjustment", func(c *config.Config) { c.Models[0].Posthoc[0].Adjust = "scheffe" }),
			Entry("plot kind", func(c *config.Config) { c.Models[1].Plots[0].Kind = "violin" }),
		)

		It("rejects a malformed formula", func() {
			cfg := study(outDir)
			cfg.Models[0].Formula = "power ~ (condition |"
			Expect(newExperiment(cfg).Setup()).To(HaveOccurred())
		})

		It("rejects an unknown image format", func() {
			cfg := study(outDir)
			cfg.Output.Format = "gif"
			Expect(newExperiment(cfg).Setup()).To(HaveOccurred())
		})

		It("must run before Run", func() {
			_, err := newExperiment(study(outDir)).Run(context.Background())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		var res *experiment.Result

		BeforeEach(func() {
			e := newExperiment(study(outDir))
			Expect(e.Setup()).To(Succeed())
			var err error
			res, err = e.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
		})

		It("normalizes before fitting", func() {
			Expect(res.Normalizations).To(HaveLen(1))
			Expect(res.Normalizations[0].References).To(HaveLen(6))

			m := res.Models[0].Model
			Expect(m.Fixed[0].Name).To(Equal("(Intercept)"))
			Expect(m.Fixed[0].Estimate).To(BeNumerically("~", 1.0, 1e-6))
		})

		It("runs the configured post-hoc comparisons", func() {
			ph := res.Models[0].Posthoc
			Expect(ph).To(HaveLen(1))
			Expect(ph[0].Contrasts).To(HaveLen(3))
			Expect(ph[0].Contrasts[0].Name).To(Equal("1 - 2"))
			Expect(ph[0].Contrasts[0].Estimate).To(BeNumerically(">", 0))
		})

		It("summarises subjects in display order", func() {
			s := res.Models[1].Subjects
			Expect(s).NotTo(BeNil())
			Expect(s.Labels).To(Equal([]string{"Locked", "ad-lib", "Minimal"}))
			Expect(s.Subjects).To(HaveLen(6))
			Expect(s.Effects).To(HaveLen(2))
			Expect(s.Effects[1].Mean).To(BeNumerically("<", 0))
		})

		It("writes figures and prints summaries", func() {
			figs := res.Models[1].Figures
			Expect(figs).To(Equal([]string{filepath.Join(outDir, "RBLA.png")}))
			info, err := os.Stat(figs[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Size()).To(BeNumerically(">", 0))

			out := stdout.String()
			Expect(out).To(ContainSubstring("Linear mixed model fit by REML"))
			Expect(out).To(ContainSubstring("Estimated marginal means of power: condition"))
			Expect(out).To(ContainSubstring("Per-subject values of condition"))
		})

		It("builds a storable record", func() {
			rec := res.Record()
			Expect(rec.Metadata.Study).To(Equal("rollers-test"))
			Expect(rec.Metadata.Rows).To(Equal(36))
			Expect(rec.Metadata.Models).To(HaveLen(2))
			Expect(rec.Metadata.Normalizers).To(Equal([]string{"baseline-mean power"}))

			Expect(rec.Tables).To(HaveLen(3))
			Expect(rec.Tables[0].Rows).To(HaveLen(4))
			Expect(rec.Tables[1].Rows).To(HaveLen(18))
			Expect(rec.Tables[2].Rows).To(HaveLen(3))

			st := storage.New(GinkgoT().TempDir())
			id, err := st.Save(rec)
			Expect(err).NotTo(HaveOccurred())
			table, err := st.LoadTable(id, storage.TableSubjects)
			Expect(err).NotTo(HaveOccurred())

			subjects, labels, values := table.SubjectSeries("RBLA_deg")
			Expect(subjects).To(HaveLen(6))
			Expect(labels).To(Equal([]string{"Locked", "ad-lib", "Minimal"}))
			Expect(values[0]).To(HaveLen(3))
			Expect(values[0][1]).To(BeNumerically("~", res.Models[1].Subjects.Values[0][1], 1e-6))
		})
	})

	It("skips plots when disabled", func() {
		cfg := study(outDir)
		cfg.Output.NoPlots = true
		e := newExperiment(cfg)
		Expect(e.Setup()).To(Succeed())
		res, err := e.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Models[1].Figures).To(BeEmpty())
		_, err = os.Stat(filepath.Join(outDir, "RBLA.png"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("stops on a canceled context", func() {
		e := newExperiment(study(outDir))
		Expect(e.Setup()).To(Succeed())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("lists registry names", func() {
		r := experiment.NewRegistry()
		Expect(r.ListNormalizers()).To(Equal([]string{"baseline-mean", "paired"}))
		Expect(r.ListPlots()).To(Equal([]string{"coefficients", "factor-effect", "trajectories"}))
		Expect(r.ListAdjustments()).To(ContainElement("tukey"))
	})
})

var _ = Describe("Batch", func() {
	It("runs studies independently and keeps their order", func() {
		outDir := GinkgoT().TempDir()
		good := study(outDir)
		good.Output.NoPlots = true
		bad := study(outDir)
		bad.Study = "broken"
		bad.Models[0].Formula = "missing ~ condition + (1 | subject)"

		results := experiment.NewBatch([]*config.Config{bad, good},
			experiment.WithDataset(rollers()),
			experiment.WithLogger(zap.NewNop()),
		).Run(context.Background())

		Expect(results).To(HaveLen(2))
		Expect(results[0].Study).To(Equal("broken"))
		Expect(results[0].Err).To(HaveOccurred())
		Expect(results[1].Err).NotTo(HaveOccurred())
		Expect(results[1].Result.Models).To(HaveLen(2))
		Expect(string(results[1].Output)).To(ContainSubstring("Linear mixed model fit by REML"))
	})
})
