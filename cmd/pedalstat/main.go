package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/pedalstat/internal/config"
	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/experiment"
	"github.com/san-kum/pedalstat/internal/formula"
	"github.com/san-kum/pedalstat/internal/lmm"
	"github.com/san-kum/pedalstat/internal/posthoc"
	"github.com/san-kum/pedalstat/internal/report"
	"github.com/san-kum/pedalstat/internal/storage"
	"github.com/san-kum/pedalstat/internal/viz"
)

var (
	dataDir    string
	outDir     string
	configFile string
	format     string
	dpi        float64
	noPlots    bool
	useML      bool
	runAll     bool
	verbose    bool
	// ad-hoc fit
	factors   []string
	posthocs  []string
	adjust    string
	sheet     string
	response  string
	themeName string

	logger = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pedalstat",
		Short:         "mixed-effects analysis lab for cycling biomechanics studies",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(); err != nil {
				return err
			}
			l, err := newLogger(verbose)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		RunE: browse,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "stored runs directory (default $"+config.EnvDataDir+" or "+config.DefaultDataDir+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [study]",
		Short: "run a preset study or a study file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStudy,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "study file path (yaml)")
	runCmd.Flags().StringVar(&outDir, "out", config.DefaultOutputDir, "figure directory")
	runCmd.Flags().StringVar(&format, "format", config.DefaultFormat, "figure format (png, svg)")
	runCmd.Flags().Float64Var(&dpi, "dpi", config.DefaultDPI, "figure resolution")
	runCmd.Flags().BoolVar(&noPlots, "no-plots", false, "skip figures")
	runCmd.Flags().BoolVar(&useML, "ml", false, "fit by maximum likelihood instead of REML")
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every built-in study concurrently")

	studiesCmd := &cobra.Command{
		Use:   "studies",
		Short: "list built-in studies",
		RunE:  listStudies,
	}

	showStudyCmd := &cobra.Command{
		Use:   "show-study [study]",
		Short: "print a built-in study as yaml",
		Args:  cobra.ExactArgs(1),
		RunE:  showStudy,
	}

	fitCmd := &cobra.Command{
		Use:   "fit [dataset] [formula]",
		Short: "fit one model to a dataset",
		Args:  cobra.ExactArgs(2),
		RunE:  fitModel,
	}
	fitCmd.Flags().StringArrayVar(&factors, "factor", nil, "factor levels as name=l1,l2,...")
	fitCmd.Flags().StringArrayVar(&posthocs, "posthoc", nil, "post-hoc comparison as var or var:by")
	fitCmd.Flags().StringVar(&adjust, "adjust", config.DefaultAdjust, "p-value adjustment ("+strings.Join(posthoc.AdjustMethods(), ", ")+")")
	fitCmd.Flags().BoolVar(&useML, "ml", false, "fit by maximum likelihood instead of REML")
	fitCmd.Flags().StringVar(&sheet, "sheet", "", "workbook sheet")

	describeCmd := &cobra.Command{
		Use:   "describe [dataset]",
		Short: "summarise dataset columns",
		Args:  cobra.ExactArgs(1),
		RunE:  describeDataset,
	}
	describeCmd.Flags().StringVar(&sheet, "sheet", "", "workbook sheet")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "print the tables of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id] [file]",
		Short: "export a stored run as json (stdout without file)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  exportJSON,
	}

	exportXLSXCmd := &cobra.Command{
		Use:   "export-xlsx [run_id] [file]",
		Short: "export a stored run as an excel workbook",
		Args:  cobra.ExactArgs(2),
		RunE:  exportXLSX,
	}

	previewCmd := &cobra.Command{
		Use:   "preview [run_id]",
		Short: "plot stored subject values in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  previewRun,
	}
	previewCmd.Flags().StringVar(&response, "response", "", "only this response")

	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "browse stored runs interactively",
		RunE:  browse,
	}
	for _, c := range []*cobra.Command{rootCmd, browseCmd} {
		c.Flags().StringVar(&themeName, "theme", viz.ThemeOcean.Name, "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")
	}

	rootCmd.AddCommand(runCmd, studiesCmd, showStudyCmd, fitCmd, describeCmd, runsCmd, showCmd,
		exportJSONCmd, exportXLSXCmd, previewCmd, browseCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func openStore() *storage.Store {
	if dataDir != "" {
		return storage.New(dataDir)
	}
	return storage.New(config.DataDir())
}

func runStudy(cmd *cobra.Command, args []string) error {
	if runAll {
		return runAllStudies(cmd)
	}

	var cfg *config.Config
	switch {
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	case len(args) == 1:
		cfg = config.GetPreset(args[0])
		if cfg == nil {
			return fmt.Errorf("unknown study: %s (available: %v)", args[0], config.ListPresets())
		}
	default:
		return fmt.Errorf("need a study name, --config or --all (available: %v)", config.ListPresets())
	}
	applyFlags(cmd, cfg)

	st := storage.New(cfg.Output.DataDir)
	if err := st.Init(); err != nil {
		return err
	}

	exp := experiment.New(cfg, experiment.WithLogger(logger), experiment.WithStdout(cmd.OutOrStdout()))
	if err := exp.Setup(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "running study %s...\n\n", cfg.Study)
	result, err := exp.Run(cmd.Context())
	if err != nil {
		return err
	}
	return saveResult(cmd, st, result)
}

// applyFlags overrides study settings with the flags that were set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	cfg.ApplyEnv()
	if cmd.Flags().Changed("out") {
		cfg.Output.Dir = outDir
	}
	if cmd.Flags().Changed("format") {
		cfg.Output.Format = format
	}
	if cmd.Flags().Changed("dpi") {
		cfg.Output.DPI = dpi
	}
	if cmd.Flags().Changed("no-plots") {
		cfg.Output.NoPlots = noPlots
	}
	if dataDir != "" {
		cfg.Output.DataDir = dataDir
	}
	if useML {
		for i := range cfg.Models {
			cfg.Models[i].Method = string(lmm.ML)
		}
	}
}

func saveResult(cmd *cobra.Command, st *storage.Store, result *experiment.Result) error {
	runID, err := st.Save(result.Record())
	if err != nil {
		return err
	}
	logger.Info("run saved", zap.String("id", runID), zap.String("dir", st.Dir()))

	fmt.Fprintf(cmd.OutOrStdout(), "completed %s in %v\n", result.Study, result.Elapsed)
	fmt.Fprintf(cmd.OutOrStdout(), "run id: %s\n", runID)
	for _, m := range result.Models {
		for _, f := range m.Figures {
			fmt.Fprintf(cmd.OutOrStdout(), "  figure: %s\n", f)
		}
	}
	return nil
}

func runAllStudies(cmd *cobra.Command) error {
	var cfgs []*config.Config
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		applyFlags(cmd, cfg)
		cfgs = append(cfgs, cfg)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "running %d studies...\n\n", len(cfgs))
	results := experiment.NewBatch(cfgs, experiment.WithLogger(logger)).Run(cmd.Context())

	failed := 0
	for i, r := range results {
		cmd.OutOrStdout().Write(r.Output)
		if r.Err != nil {
			logger.Error("study failed", zap.String("study", r.Study), zap.Error(r.Err))
			failed++
			continue
		}
		st := storage.New(cfgs[i].Output.DataDir)
		if err := st.Init(); err != nil {
			return err
		}
		if err := saveResult(cmd, st, r.Result); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d studies failed", failed, len(results))
	}
	return nil
}

func listStudies(cmd *cobra.Command, args []string) error {
	for _, name := range config.ListPresets() {
		p := config.Presets[name]
		fmt.Fprintf(cmd.OutOrStdout(), "  %-14s %s\n", name, p.Description)
	}
	return nil
}

func showStudy(cmd *cobra.Command, args []string) error {
	cfg := config.GetPreset(args[0])
	if cfg == nil {
		return fmt.Errorf("unknown study: %s (available: %v)", args[0], config.ListPresets())
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// parseFactors reads name=l1,l2 flags.
func parseFactors(specs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(specs))
	for _, s := range specs {
		name, levels, ok := strings.Cut(s, "=")
		if !ok || name == "" || levels == "" {
			return nil, fmt.Errorf("bad --factor %q, want name=l1,l2", s)
		}
		out[strings.TrimSpace(name)] = strings.Split(levels, ",")
	}
	return out, nil
}

func fitModel(cmd *cobra.Command, args []string) error {
	levels, err := parseFactors(factors)
	if err != nil {
		return err
	}
	f, err := formula.Parse(args[1])
	if err != nil {
		return err
	}
	adj, err := posthoc.ParseAdjust(adjust)
	if err != nil {
		return err
	}

	ds, err := dataset.Load(cmd.Context(), args[0], dataset.Options{Sheet: sheet})
	if err != nil {
		return err
	}
	logger.Debug("dataset loaded", zap.String("source", ds.Source), zap.Int("rows", ds.Len()))

	opts := lmm.DefaultOptions()
	opts.Factors = levels
	if useML {
		opts.Method = lmm.ML
	}
	m, err := lmm.Fit(cmd.Context(), ds, f, opts)
	if err != nil {
		return err
	}
	if m.Diagnostics.Singular {
		logger.Warn("singular fit", zap.String("formula", f.String()))
	}
	if err := report.Model(cmd.OutOrStdout(), m); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())

	for _, spec := range posthocs {
		marginal, by, _ := strings.Cut(spec, ":")
		r, err := posthoc.Compare(m, posthoc.Options{Marginal: marginal, By: by, Adjust: adj})
		if err != nil {
			return err
		}
		if err := report.Posthoc(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	}
	return nil
}

func describeDataset(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Load(cmd.Context(), args[0], dataset.Options{Sheet: sheet})
	if err != nil {
		return err
	}
	cols, err := ds.Describe()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n\n", ds.Source, ds.Len())
	return report.Describe(cmd.OutOrStdout(), cols)
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := openStore().List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs found")
		return nil
	}
	return report.Runs(cmd.OutOrStdout(), runs)
}

func showRun(cmd *cobra.Command, args []string) error {
	rec, err := openStore().LoadRecord(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if err := report.Runs(w, []storage.RunMetadata{rec.Metadata}); err != nil {
		return err
	}
	fmt.Fprintln(w)
	for _, m := range rec.Metadata.Models {
		fmt.Fprintf(w, "  %s  %s  n=%d  AIC=%.2f  BIC=%.2f  sigma=%.4g\n",
			m.Formula, m.Method, m.N, m.AIC, m.BIC, m.Sigma)
	}
	fmt.Fprintln(w)
	for i := range rec.Tables {
		if err := report.Table(w, &rec.Tables[i]); err != nil {
			return err
		}
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	rec, err := openStore().LoadRecord(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return storage.ExportJSONStdout(rec)
	}
	if err := storage.ExportJSON(args[1], rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", args[1])
	return nil
}

func exportXLSX(cmd *cobra.Command, args []string) error {
	rec, err := openStore().LoadRecord(args[0])
	if err != nil {
		return err
	}
	if err := storage.ExportXLSX(args[1], rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", args[1])
	return nil
}

func previewRun(cmd *cobra.Command, args []string) error {
	table, err := openStore().LoadTable(args[0], storage.TableSubjects)
	if err != nil {
		return err
	}
	responses := table.Responses()
	if response != "" {
		responses = []string{response}
	}
	if len(responses) == 0 {
		return fmt.Errorf("run %s has no subject summaries", args[0])
	}
	sort.Strings(responses)

	for _, resp := range responses {
		subjects, labels, values := table.SubjectSeries(resp)
		if len(subjects) == 0 {
			return fmt.Errorf("no subject values for %s", resp)
		}
		caption := fmt.Sprintf("%s: %s (%d subjects)", resp, strings.Join(labels, " -> "), len(subjects))
		fmt.Fprintln(cmd.OutOrStdout(), viz.PreviewSeries(caption, values, 60, 12))
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func browse(cmd *cobra.Command, args []string) error {
	return viz.RunBrowser(openStore(), viz.GetTheme(themeName))
}
