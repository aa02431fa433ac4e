package lmm

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
)

// Summary renders the fit in the familiar layout: criterion, scaled
// residuals, random effects, fixed effects with Satterthwaite t-tests and
// convergence notes.
func (m *Model) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Linear mixed model fit by %s\n", m.methodLabel())
	fmt.Fprintf(&sb, "Formula: %s\n\n", m.Formula.String())

	d := m.Diagnostics
	if m.Method == REML {
		fmt.Fprintf(&sb, "REML criterion at convergence: %.4f\n\n", d.Criterion)
	} else {
		w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "AIC\tBIC\tlogLik\tdeviance\t")
		fmt.Fprintf(w, "%.2f\t%.2f\t%.2f\t%.2f\t\n", d.AIC, d.BIC, d.LogLik, d.Criterion)
		w.Flush()
		sb.WriteString("\n")
	}

	sb.WriteString("Scaled residuals:\n")
	q := scaledQuantiles(m.Residuals, m.Sigma)
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Min\t1Q\tMedian\t3Q\tMax\t")
	fmt.Fprintf(w, "%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t\n", q[0], q[1], q[2], q[3], q[4])
	w.Flush()

	sb.WriteString("\nRandom effects:\n")
	w = tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Groups\tName\tVariance\tStd.Dev.\tCorr")
	for _, vc := range m.VarComps {
		for i, name := range vc.Names {
			group := ""
			if i == 0 {
				group = vc.Group
			}
			corr := ""
			if vc.Corr != nil && i > 0 {
				parts := make([]string, i)
				for j := 0; j < i; j++ {
					parts[j] = fmt.Sprintf("%.2f", vc.Corr[i][j])
				}
				corr = strings.Join(parts, " ")
			}
			fmt.Fprintf(w, "%s\t%s\t%.4g\t%.4g\t%s\n", group, name, vc.SD[i]*vc.SD[i], vc.SD[i], corr)
		}
	}
	fmt.Fprintf(w, "Residual\t\t%.4g\t%.4g\t\n", m.Sigma*m.Sigma, m.Sigma)
	w.Flush()

	groups := make([]string, 0, len(d.Groups))
	for g := range d.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprintf("%s, %d", g, d.Groups[g])
	}
	fmt.Fprintf(&sb, "Number of obs: %d, groups:  %s\n", d.N, strings.Join(parts, "; "))
	if d.Dropped > 0 {
		fmt.Fprintf(&sb, "(%d observations deleted due to missingness)\n", d.Dropped)
	}

	sb.WriteString("\nFixed effects:\n")
	w = tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\tEstimate\tStd. Error\tdf\tt value\tPr(>|t|)\t\t")
	for _, fe := range m.Fixed {
		fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.2f\t%.3f\t%s\t%s\t\n",
			fe.Name, fe.Estimate, fe.SE, fe.DF, fe.T, FormatP(fe.P), Stars(fe.P))
	}
	w.Flush()
	sb.WriteString("---\nSignif. codes:  0 '***' 0.001 '**' 0.01 '*' 0.05 '.' 0.1 ' ' 1\n")

	if d.Singular {
		sb.WriteString("boundary (singular) fit: see help('isSingular')\n")
	}
	if !d.Converged {
		fmt.Fprintf(&sb, "optimizer did not converge: %s after %d evaluations\n", d.Status, d.Evaluations)
	}
	return sb.String()
}

func (m *Model) methodLabel() string {
	if m.Method == REML {
		return "REML. t-tests use Satterthwaite's method"
	}
	return "maximum likelihood. t-tests use Satterthwaite's method"
}

// FormatP renders a p-value the way coefficient tables usually do.
func FormatP(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NA"
	case p < 2e-16:
		return "<2e-16"
	case p < 1e-4:
		return fmt.Sprintf("%.2e", p)
	}
	return fmt.Sprintf("%.4f", p)
}

// Stars returns the significance code for a p-value.
func Stars(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	case p < 0.1:
		return "."
	}
	return ""
}

func scaledQuantiles(res []float64, sigma float64) [5]float64 {
	var out [5]float64
	if len(res) == 0 || sigma == 0 {
		return out
	}
	s := make([]float64, len(res))
	for i, r := range res {
		s[i] = r / sigma
	}
	sort.Float64s(s)
	for i, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		h := p * float64(len(s)-1)
		lo := int(math.Floor(h))
		hi := int(math.Ceil(h))
		out[i] = s[lo] + (h-float64(lo))*(s[hi]-s[lo])
	}
	return out
}
