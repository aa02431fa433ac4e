package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Dataset is a table of per-trial observations. Columns are kept as text so
// condition codes keep their original spelling ("1", not "1.000000"); numeric
// access parses on demand.
type Dataset struct {
	Source string
	frame  dataframe.DataFrame
}

// FromRecords builds a dataset from a header row followed by data rows.
// Short rows are padded with missing values.
func FromRecords(source string, records [][]string) (*Dataset, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, source)
	}
	width := len(records[0])
	padded := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, width)
		for j := range row {
			if j < len(rec) {
				row[j] = rec[j]
			} else {
				row[j] = "NA"
			}
		}
		padded[i] = row
	}

	df := dataframe.LoadRecords(padded,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{"", "NA", "NaN", "nan", "<nil>"}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("load %s: %w", source, df.Err)
	}
	return &Dataset{Source: source, frame: df}, nil
}

func (d *Dataset) Len() int {
	return d.frame.Nrow()
}

func (d *Dataset) Names() []string {
	return d.frame.Names()
}

func (d *Dataset) Has(col string) bool {
	for _, n := range d.frame.Names() {
		if n == col {
			return true
		}
	}
	return false
}

func (d *Dataset) column(col string) (series.Series, error) {
	if !d.Has(col) {
		return series.Series{}, fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	s := d.frame.Col(col)
	if err := s.Error(); err != nil {
		return series.Series{}, err
	}
	return s, nil
}

// Strings returns the column as text. Missing cells are reported as "NaN".
func (d *Dataset) Strings(col string) ([]string, error) {
	s, err := d.column(col)
	if err != nil {
		return nil, err
	}
	return s.Records(), nil
}

// Floats returns the column parsed as numbers; unparsable or missing cells
// become NaN.
func (d *Dataset) Floats(col string) ([]float64, error) {
	s, err := d.column(col)
	if err != nil {
		return nil, err
	}
	return s.Float(), nil
}

// SetFloats replaces (or appends) a numeric column.
func (d *Dataset) SetFloats(col string, values []float64) error {
	if len(values) != d.Len() {
		return fmt.Errorf("%w: column %q has %d values, dataset has %d rows",
			ErrLength, col, len(values), d.Len())
	}
	text := make([]string, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			text[i] = "NaN"
			continue
		}
		text[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	df := d.frame.Mutate(series.New(text, series.String, col))
	if df.Err != nil {
		return df.Err
	}
	d.frame = df
	return nil
}

// IsNumeric reports whether every present value of the column parses as a
// number. Columns with no present values are not numeric.
func (d *Dataset) IsNumeric(col string) (bool, error) {
	recs, err := d.Strings(col)
	if err != nil {
		return false, err
	}
	seen := 0
	for _, r := range recs {
		if r == "NaN" {
			continue
		}
		if _, err := strconv.ParseFloat(r, 64); err != nil {
			return false, nil
		}
		seen++
	}
	return seen > 0, nil
}

// Levels returns the distinct present values of a column, ordered numerically
// when all of them are numbers and lexically otherwise.
func (d *Dataset) Levels(col string) ([]string, error) {
	recs, err := d.Strings(col)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	var levels []string
	for _, r := range recs {
		if r == "NaN" {
			continue
		}
		if _, ok := set[r]; ok {
			continue
		}
		set[r] = struct{}{}
		levels = append(levels, r)
	}
	SortLevels(levels)
	return levels, nil
}

// SortLevels sorts level labels in place, numerically when possible.
func SortLevels(levels []string) {
	numeric := true
	vals := make(map[string]float64, len(levels))
	for _, l := range levels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		vals[l] = v
	}
	if numeric {
		sort.SliceStable(levels, func(i, j int) bool { return vals[levels[i]] < vals[levels[j]] })
		return
	}
	sort.Strings(levels)
}

// SameLevel reports whether two level labels name the same level: equal
// text, or equal numbers so that "1" matches "1.0".
func SameLevel(a, b string) bool {
	if a == b {
		return true
	}
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(b, 64)
	return err == nil && x == y
}

// LevelIndex finds a level by exact text, falling back to numeric equality.
// It returns -1 when s is not among levels.
func LevelIndex(levels []string, s string) int {
	for i, l := range levels {
		if l == s {
			return i
		}
	}
	for i, l := range levels {
		if SameLevel(l, s) {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy, used so normalization never touches the
// caller's table.
func (d *Dataset) Clone() *Dataset {
	return &Dataset{Source: d.Source, frame: d.frame.Copy()}
}

// Records returns the table including its header row.
func (d *Dataset) Records() [][]string {
	return d.frame.Records()
}
