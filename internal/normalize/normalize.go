// Package normalize rescales outcome columns by a per-subject or per-row
// reference value.
//
// Two methods are provided:
//
//   - [BaselineMean]: divide each subject's values by that subject's mean in a
//     baseline condition (e.g. ad-libitum lean).
//   - [Paired]: divide each row's values by a concurrent measurement in the
//     same row (e.g. joint powers by crank power).
//
// Both operate on a [dataset.Dataset] in place and return a [Report].
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/san-kum/pedalstat/internal/dataset"
)

var (
	// ErrNoBaseline indicates a subject without usable baseline observations.
	ErrNoBaseline = errors.New("normalize: subject has no baseline observations")

	// ErrZeroReference indicates a reference value of zero.
	ErrZeroReference = errors.New("normalize: reference value is zero")

	// ErrNoColumns indicates a normalizer with nothing to rescale.
	ErrNoColumns = errors.New("normalize: no target columns")

	// ErrNotNumeric indicates a target or reference column holding text.
	ErrNotNumeric = errors.New("normalize: column is not numeric")
)

// Normalizer rescales columns of a dataset in place.
type Normalizer interface {
	Name() string
	Apply(ds *dataset.Dataset) (*Report, error)
}

// Report lists the reference value used for each subject (BaselineMean) or
// summary information about per-row references (Paired).
type Report struct {
	Method     string
	Columns    []string
	References map[string]float64
}

// SubjectIDs returns the report's reference keys in a stable order.
func (r *Report) SubjectIDs() []string {
	ids := make([]string, 0, len(r.References))
	for id := range r.References {
		ids = append(ids, id)
	}
	dataset.SortLevels(ids)
	return ids
}

type BaselineMean struct {
	Subject   string
	Condition string
	Baseline  string
	Columns   []string
}

func (b *BaselineMean) Name() string { return "baseline-mean" }

func (b *BaselineMean) Apply(ds *dataset.Dataset) (*Report, error) {
	if len(b.Columns) == 0 {
		return nil, ErrNoColumns
	}
	subjects, err := ds.Strings(b.Subject)
	if err != nil {
		return nil, err
	}
	conditions, err := ds.Strings(b.Condition)
	if err != nil {
		return nil, err
	}

	if err := requireNumeric(ds, b.Columns...); err != nil {
		return nil, err
	}

	rep := &Report{Method: b.Name(), Columns: b.Columns, References: make(map[string]float64)}
	for _, col := range b.Columns {
		vals, err := ds.Floats(col)
		if err != nil {
			return nil, err
		}

		baseline := make(map[string][]float64)
		order := make([]string, 0)
		for i, s := range subjects {
			if _, ok := baseline[s]; !ok {
				baseline[s] = nil
				order = append(order, s)
			}
			if dataset.SameLevel(conditions[i], b.Baseline) && !math.IsNaN(vals[i]) {
				baseline[s] = append(baseline[s], vals[i])
			}
		}

		refs := make(map[string]float64, len(order))
		for _, s := range order {
			if len(baseline[s]) == 0 {
				return nil, fmt.Errorf("%w: subject %s, column %s, condition %s",
					ErrNoBaseline, s, col, b.Baseline)
			}
			m, err := stats.Mean(baseline[s])
			if err != nil {
				return nil, err
			}
			if m == 0 {
				return nil, fmt.Errorf("%w: subject %s, column %s", ErrZeroReference, s, col)
			}
			refs[s] = m
		}

		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = v / refs[subjects[i]]
		}
		if err := ds.SetFloats(col, out); err != nil {
			return nil, err
		}
		if len(b.Columns) == 1 {
			rep.References = refs
		} else {
			for s, r := range refs {
				rep.References[col+"/"+s] = r
			}
		}
	}
	return rep, nil
}

// Paired divides target columns by the reference column of the same row.
// Targets are Columns when given, otherwise every column at or after
// FromIndex. The reference column is rescaled too when it is a target.
type Paired struct {
	Reference string
	Columns   []string
	FromIndex int
}

func (p *Paired) Name() string { return "paired" }

func (p *Paired) Targets(ds *dataset.Dataset) []string {
	if len(p.Columns) > 0 {
		return p.Columns
	}
	names := ds.Names()
	if p.FromIndex >= len(names) || p.FromIndex < 0 {
		return nil
	}
	return append([]string(nil), names[p.FromIndex:]...)
}

func (p *Paired) Apply(ds *dataset.Dataset) (*Report, error) {
	targets := p.Targets(ds)
	if len(targets) == 0 {
		return nil, ErrNoColumns
	}
	if err := requireNumeric(ds, append([]string{p.Reference}, targets...)...); err != nil {
		return nil, err
	}
	ref, err := ds.Floats(p.Reference)
	if err != nil {
		return nil, err
	}
	for i, r := range ref {
		if r == 0 {
			return nil, fmt.Errorf("%w: %s in row %d", ErrZeroReference, p.Reference, i+1)
		}
	}

	rep := &Report{Method: p.Name(), Columns: targets, References: make(map[string]float64)}
	for _, col := range targets {
		vals, err := ds.Floats(col)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = v / ref[i]
		}
		if err := ds.SetFloats(col, out); err != nil {
			return nil, err
		}
	}

	present := make([]float64, 0, len(ref))
	for _, r := range ref {
		if !math.IsNaN(r) {
			present = append(present, r)
		}
	}
	if len(present) > 0 {
		sort.Float64s(present)
		rep.References["min"] = present[0]
		rep.References["max"] = present[len(present)-1]
		rep.References["mean"], _ = stats.Mean(present)
	}
	return rep, nil
}

// requireNumeric checks every column before anything is rewritten, so a
// text column fails the run instead of turning into NaN.
func requireNumeric(ds *dataset.Dataset, cols ...string) error {
	for _, col := range cols {
		ok, err := ds.IsNumeric(col)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotNumeric, col)
		}
	}
	return nil
}
