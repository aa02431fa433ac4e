package dataset

import (
	"math"

	"github.com/montanaflynn/stats"
)

type ColumnSummary struct {
	Name    string
	Numeric bool
	Count   int
	Missing int
	Levels  int
	Mean    float64
	SD      float64
	Min     float64
	Max     float64
}

// Describe summarises every column: numeric columns get moments and range,
// text columns get their number of distinct levels.
func (d *Dataset) Describe() ([]ColumnSummary, error) {
	out := make([]ColumnSummary, 0, len(d.Names()))
	for _, name := range d.Names() {
		numeric, err := d.IsNumeric(name)
		if err != nil {
			return nil, err
		}
		sum := ColumnSummary{Name: name, Numeric: numeric}

		if !numeric {
			recs, _ := d.Strings(name)
			for _, r := range recs {
				if r == "NaN" {
					sum.Missing++
				} else {
					sum.Count++
				}
			}
			levels, _ := d.Levels(name)
			sum.Levels = len(levels)
			out = append(out, sum)
			continue
		}

		vals, _ := d.Floats(name)
		present := make([]float64, 0, len(vals))
		for _, v := range vals {
			if math.IsNaN(v) {
				sum.Missing++
				continue
			}
			present = append(present, v)
		}
		sum.Count = len(present)
		sum.Mean, _ = stats.Mean(present)
		sum.Min, _ = stats.Min(present)
		sum.Max, _ = stats.Max(present)
		if len(present) > 1 {
			sum.SD, _ = stats.StandardDeviationSample(present)
		}
		levels, _ := d.Levels(name)
		sum.Levels = len(levels)
		out = append(out, sum)
	}
	return out, nil
}
