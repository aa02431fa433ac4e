// Package formula parses Wilkinson-style mixed-model formulas such as
//
//	HipPower ~ Posture * Cadence + (1 + Posture * Cadence | Subject)
//
// into a response, a list of fixed-effect terms and a list of random-effect
// terms. Supported operators are + (add a term), - (remove a term, or the
// intercept with -1), * (crossing: a*b is a + b + a:b), : (interaction),
// 0 and 1 (suppress or keep the intercept), (expr | group) for correlated and
// (expr || group) for independent random effects.
package formula

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrSyntax indicates a malformed formula.
	ErrSyntax = errors.New("formula: syntax error")

	// ErrEmpty indicates a formula with no fixed-effect columns.
	ErrEmpty = errors.New("formula: model has no fixed effects")
)

// Term is a main effect (one variable) or an interaction (several).
type Term struct {
	Vars []string
}

// Name renders the term as it appears in a formula, e.g. "Posture:Cadence".
func (t Term) Name() string {
	if len(t.Vars) == 0 {
		return "1"
	}
	return strings.Join(t.Vars, ":")
}

// Order is the number of variables in the term.
func (t Term) Order() int { return len(t.Vars) }

func (t Term) key() string {
	v := append([]string(nil), t.Vars...)
	sort.Strings(v)
	return strings.Join(v, ":")
}

// RandomTerm is one (expr | group) block.
type RandomTerm struct {
	Intercept   bool
	Terms       []Term
	Group       string
	Independent bool
}

func (r RandomTerm) String() string {
	parts := make([]string, 0, len(r.Terms)+1)
	if r.Intercept {
		parts = append(parts, "1")
	} else {
		parts = append(parts, "0")
	}
	for _, t := range r.Terms {
		parts = append(parts, t.Name())
	}
	bar := "|"
	if r.Independent {
		bar = "||"
	}
	return "(" + strings.Join(parts, " + ") + " " + bar + " " + r.Group + ")"
}

type Formula struct {
	Source    string
	Response  string
	Intercept bool
	Fixed     []Term
	Random    []RandomTerm
}

// String returns the expanded formula.
func (f *Formula) String() string {
	parts := make([]string, 0, len(f.Fixed)+len(f.Random)+1)
	if f.Intercept {
		parts = append(parts, "1")
	} else {
		parts = append(parts, "0")
	}
	for _, t := range f.Fixed {
		parts = append(parts, t.Name())
	}
	for _, r := range f.Random {
		parts = append(parts, r.String())
	}
	return f.Response + " ~ " + strings.Join(parts, " + ")
}

// Variables returns every column the model reads: response, predictors and
// grouping factors, each once in order of first appearance.
func (f *Formula) Variables() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(f.Response)
	for _, v := range f.Predictors() {
		add(v)
	}
	for _, g := range f.Groups() {
		add(g)
	}
	return out
}

// Predictors returns the variables used in fixed or random terms.
func (f *Formula) Predictors() []string {
	var out []string
	seen := make(map[string]bool)
	addTerms := func(terms []Term) {
		for _, t := range terms {
			for _, v := range t.Vars {
				if !seen[v] {
					seen[v] = true
					out = append(out, v)
				}
			}
		}
	}
	addTerms(f.Fixed)
	for _, r := range f.Random {
		addTerms(r.Terms)
	}
	return out
}

// Groups returns the distinct grouping factors of the random terms.
func (f *Formula) Groups() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range f.Random {
		if !seen[r.Group] {
			seen[r.Group] = true
			out = append(out, r.Group)
		}
	}
	return out
}
