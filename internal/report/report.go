// Package report renders analysis results as plain-text tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/san-kum/pedalstat/internal/analysis"
	"github.com/san-kum/pedalstat/internal/dataset"
	"github.com/san-kum/pedalstat/internal/lmm"
	"github.com/san-kum/pedalstat/internal/posthoc"
	"github.com/san-kum/pedalstat/internal/storage"
)

func newTab(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Model writes the model summary.
func Model(w io.Writer, m *lmm.Model) error {
	_, err := io.WriteString(w, m.Summary())
	return err
}

// Posthoc writes marginal means followed by the contrasts.
func Posthoc(w io.Writer, r *posthoc.Result) error {
	title := r.Marginal
	if r.By != "" {
		title += " | " + r.By
	}
	fmt.Fprintf(w, "Estimated marginal means of %s: %s\n", r.Response, title)

	tw := newTab(w)
	fmt.Fprintf(tw, "%s\t%s\temmean\tSE\tdf\tlower.CL\tupper.CL\n", r.By, r.Marginal)
	for _, e := range r.Means {
		fmt.Fprintf(tw, "%s\t%s\t%.4g\t%.4g\t%.1f\t%.4g\t%.4g\n",
			e.By, e.Level, e.Estimate, e.SE, e.DF, e.Lower, e.Upper)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nContrasts (%s adjustment, %.0f%% CI):\n", r.Adjust, r.Level*100)
	tw = newTab(w)
	fmt.Fprintf(tw, "%s\tcontrast\testimate\tSE\tdf\tt.ratio\tp.value\tlower.CL\tupper.CL\t\n", r.By)
	for _, c := range r.Contrasts {
		fmt.Fprintf(tw, "%s\t%s\t%.4g\t%.4g\t%.1f\t%.3f\t%s\t%.4g\t%.4g\t%s\n",
			c.By, c.Name, c.Estimate, c.SE, c.DF, c.T, lmm.FormatP(c.P), c.Lower, c.Upper, lmm.Stars(c.P))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

// Subjects writes per-subject level values, the level effects and the
// percent differences.
func Subjects(w io.Writer, s *analysis.SubjectSummary) error {
	fmt.Fprintf(w, "Per-%s values of %s:\n", s.Group, s.Variable)
	tw := newTab(w)
	fmt.Fprintf(tw, "%s\t%s\n", s.Group, strings.Join(s.Labels, "\t"))
	for i, subj := range s.Subjects {
		cells := make([]string, len(s.Values[i]))
		for j, v := range s.Values[i] {
			cells[j] = fmt.Sprintf("%.4g", v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", subj, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nDeviation from %s:\n", s.Reference)
	tw = newTab(w)
	fmt.Fprintln(tw, "level\tmean\tSD\tlower\tupper\teffect size\tcdf")
	for _, e := range s.Effects {
		fmt.Fprintf(tw, "%s\t%.4g\t%.4g\t%.4g\t%.4g\t%.3f\t%.4f\n",
			e.Label, e.Mean, e.SD, e.Lower, e.Upper, e.EffectSize, e.CDF)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nPercent difference:")
	tw = newTab(w)
	fmt.Fprintln(tw, "comparison\tmean %\tmin %\tmax %")
	for _, d := range s.Diffs {
		lo, hi := bounds(d.Values)
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\n", d.Name, d.Mean, lo, hi)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func bounds(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo, hi = min(lo, x), max(hi, x)
	}
	return lo, hi
}

// Describe writes a dataset column summary.
func Describe(w io.Writer, cols []dataset.ColumnSummary) error {
	tw := newTab(w)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tCOUNT\tMISSING\tLEVELS\tMEAN\tSD\tMIN\tMAX")
	for _, c := range cols {
		if !c.Numeric {
			fmt.Fprintf(tw, "%s\ttext\t%d\t%d\t%d\t\t\t\t\n", c.Name, c.Count, c.Missing, c.Levels)
			continue
		}
		fmt.Fprintf(tw, "%s\tnumeric\t%d\t%d\t%d\t%.4g\t%.4g\t%.4g\t%.4g\n",
			c.Name, c.Count, c.Missing, c.Levels, c.Mean, c.SD, c.Min, c.Max)
	}
	return tw.Flush()
}

// Table writes a stored table.
func Table(w io.Writer, t *storage.Table) error {
	fmt.Fprintf(w, "== %s ==\n", t.Name)
	tw := newTab(w)
	fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
	for _, r := range t.Rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

// Runs writes the stored run list.
func Runs(w io.Writer, runs []storage.RunMetadata) error {
	tw := newTab(w)
	fmt.Fprintln(tw, "ID\tSTUDY\tTIMESTAMP\tROWS\tMODELS")
	for _, r := range runs {
		responses := make([]string, len(r.Models))
		for i, m := range r.Models {
			responses[i] = m.Response
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Study, r.Timestamp.Format("2006-01-02 15:04:05"), r.Rows, strings.Join(responses, ","))
	}
	return tw.Flush()
}
