package posthoc

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Adjust is a multiplicity adjustment for a family of p-values.
type Adjust string

const (
	Tukey      Adjust = "tukey"
	Bonferroni Adjust = "bonferroni"
	Holm       Adjust = "holm"
	Sidak      Adjust = "sidak"
	FDR        Adjust = "fdr"
	None       Adjust = "none"
)

var adjustMethods = []Adjust{Tukey, Bonferroni, Holm, Sidak, FDR, None}

// ParseAdjust resolves a method name case-insensitively; "bh" is accepted
// for fdr. An empty name means tukey.
func ParseAdjust(name string) (Adjust, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Tukey, nil
	}
	if n == "bh" {
		return FDR, nil
	}
	for _, a := range adjustMethods {
		if string(a) == n {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAdjust, name)
}

// AdjustMethods lists the supported adjustments.
func AdjustMethods() []string {
	out := make([]string, len(adjustMethods))
	for i, a := range adjustMethods {
		out[i] = string(a)
	}
	return out
}

// AdjustP applies a p-value-only adjustment to one family. Tukey is not a
// p-value transform and is handled by the caller.
func AdjustP(method Adjust, p []float64) []float64 {
	m := float64(len(p))
	out := make([]float64, len(p))
	switch method {
	case Bonferroni:
		for i, v := range p {
			out[i] = math.Min(1, m*v)
		}
	case Sidak:
		for i, v := range p {
			out[i] = 1 - math.Pow(1-v, m)
		}
	case Holm:
		idx := order(p, false)
		running := 0.0
		for rank, i := range idx {
			v := math.Min(1, (m-float64(rank))*p[i])
			running = math.Max(running, v)
			out[i] = running
		}
	case FDR:
		idx := order(p, true)
		running := 1.0
		for r, i := range idx {
			rank := m - float64(r)
			v := math.Min(1, m/rank*p[i])
			running = math.Min(running, v)
			out[i] = running
		}
	default:
		copy(out, p)
	}
	return out
}

func order(p []float64, descending bool) []int {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if descending {
			return p[idx[a]] > p[idx[b]]
		}
		return p[idx[a]] < p[idx[b]]
	})
	return idx
}
