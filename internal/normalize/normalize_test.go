package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pedalstat/internal/dataset"
)

func ergo(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromRecords("mem", [][]string{
		{"subject", "condition", "power"},
		{"1", "1", "1000"},
		{"1", "1", "1100"},
		{"1", "2", "945"},
		{"1", "3", "1260"},
		{"2", "1", "800"},
		{"2", "2", "760"},
		{"2", "3", "880"},
	})
	require.NoError(t, err)
	return ds
}

func TestBaselineMeanIsOne(t *testing.T) {
	ds := ergo(t)
	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"power"}}
	rep, err := n.Apply(ds)
	require.NoError(t, err)

	assert.InDelta(t, 1050.0, rep.References["1"], 1e-12)
	assert.InDelta(t, 800.0, rep.References["2"], 1e-12)
	assert.Equal(t, []string{"1", "2"}, rep.SubjectIDs())

	power, _ := ds.Floats("power")
	subj, _ := ds.Strings("subject")
	cond, _ := ds.Strings("condition")
	sums := map[string]float64{}
	counts := map[string]int{}
	for i := range power {
		if cond[i] == "1" {
			sums[subj[i]] += power[i]
			counts[subj[i]]++
		}
	}
	for s, sum := range sums {
		assert.InDelta(t, 1.0, sum/float64(counts[s]), 1e-12, "subject %s", s)
	}
	assert.InDelta(t, 0.9, power[2], 1e-12)
	assert.InDelta(t, 1.1, power[6], 1e-12)
}

func TestBaselineMeanMissingBaseline(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"subject", "condition", "power"},
		{"1", "1", "10"},
		{"2", "2", "12"},
	})
	require.NoError(t, err)
	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"power"}}
	_, err = n.Apply(ds)
	assert.ErrorIs(t, err, ErrNoBaseline)
	assert.Contains(t, err.Error(), "subject 2")
}

func TestBaselineMeanZero(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"subject", "condition", "power"},
		{"1", "1", "0"},
		{"1", "2", "5"},
	})
	require.NoError(t, err)
	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"power"}}
	_, err = n.Apply(ds)
	assert.ErrorIs(t, err, ErrZeroReference)
}

func TestBaselineMeanUnknownColumn(t *testing.T) {
	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"watts"}}
	_, err := n.Apply(ergo(t))
	assert.ErrorIs(t, err, dataset.ErrUnknownColumn)

	_, err = (&BaselineMean{Subject: "subject", Condition: "condition"}).Apply(ergo(t))
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestPairedFromIndex(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"Subject", "Posture", "Cadence", "CrankPower", "HipPower", "KneePower"},
		{"1", "1", "1", "200", "50", "100"},
		{"1", "2", "1", "400", "100", "NA"},
	})
	require.NoError(t, err)

	p := &Paired{Reference: "CrankPower", FromIndex: 3}
	assert.Equal(t, []string{"CrankPower", "HipPower", "KneePower"}, p.Targets(ds))

	rep, err := p.Apply(ds)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, rep.References["mean"], 1e-12)

	crank, _ := ds.Floats("CrankPower")
	hip, _ := ds.Floats("HipPower")
	knee, _ := ds.Floats("KneePower")
	assert.Equal(t, []float64{1, 1}, crank)
	assert.Equal(t, []float64{0.25, 0.25}, hip)
	assert.InDelta(t, 0.5, knee[0], 1e-12)
	assert.True(t, math.IsNaN(knee[1]))
}

func TestPairedNamedColumns(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"ref", "a", "b"},
		{"2", "4", "8"},
	})
	require.NoError(t, err)

	_, err = (&Paired{Reference: "ref", Columns: []string{"a"}}).Apply(ds)
	require.NoError(t, err)
	a, _ := ds.Floats("a")
	b, _ := ds.Floats("b")
	ref, _ := ds.Floats("ref")
	assert.Equal(t, []float64{2}, a)
	assert.Equal(t, []float64{8}, b)
	assert.Equal(t, []float64{2}, ref)
}

func TestPairedZeroReference(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"ref", "a"},
		{"1", "4"},
		{"0", "8"},
	})
	require.NoError(t, err)
	_, err = (&Paired{Reference: "ref", Columns: []string{"a"}}).Apply(ds)
	assert.ErrorIs(t, err, ErrZeroReference)
	assert.Contains(t, err.Error(), "row 2")
}

func TestPairedNoTargets(t *testing.T) {
	_, err := (&Paired{Reference: "power", FromIndex: 10}).Apply(ergo(t))
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestBaselineMeanFloatCodedConditions(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"subject", "condition", "power"},
		{"1", "1.0", "200"},
		{"1", "2.0", "180"},
		{"2", "1.0", "400"},
		{"2", "2.0", "440"},
	})
	require.NoError(t, err)

	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"power"}}
	rep, err := n.Apply(ds)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, rep.References["1"], 1e-12)
	assert.InDelta(t, 400.0, rep.References["2"], 1e-12)

	power, _ := ds.Floats("power")
	assert.Equal(t, []float64{1, 0.9, 1, 1.1}, power)
}

func TestPairedRejectsTextColumns(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"Subject", "Posture", "Cadence", "CrankPower", "Note", "HipPower"},
		{"1", "1", "1", "200", "warm-up", "50"},
		{"1", "2", "1", "400", "ok", "100"},
	})
	require.NoError(t, err)

	_, err = (&Paired{Reference: "CrankPower", FromIndex: 3}).Apply(ds)
	assert.ErrorIs(t, err, ErrNotNumeric)
	assert.Contains(t, err.Error(), "Note")

	note, _ := ds.Strings("Note")
	assert.Equal(t, []string{"warm-up", "ok"}, note)
	crank, _ := ds.Floats("CrankPower")
	assert.Equal(t, []float64{200, 400}, crank, "nothing is rescaled when a column fails")
}

func TestBaselineMeanRejectsTextColumn(t *testing.T) {
	ds, err := dataset.FromRecords("mem", [][]string{
		{"subject", "condition", "power", "note"},
		{"1", "1", "200", "fine"},
	})
	require.NoError(t, err)

	n := &BaselineMean{Subject: "subject", Condition: "condition", Baseline: "1", Columns: []string{"power", "note"}}
	_, err = n.Apply(ds)
	assert.ErrorIs(t, err, ErrNotNumeric)
}
