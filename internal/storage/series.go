package storage

import "strconv"

// SubjectSeries rebuilds the per-subject value rows of one response from a
// subjects table, in stored level order.
func (t *Table) SubjectSeries(response string) (subjects, labels []string, values [][]float64) {
	resp, ok1 := t.Column("response")
	subj, ok2 := t.Column("subject")
	lab, ok3 := t.Column("label")
	val, ok4 := t.Column("value")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil, nil
	}

	index := map[string]int{}
	seenLabel := map[string]bool{}
	for i := range t.Rows {
		if resp[i] != response {
			continue
		}
		if !seenLabel[lab[i]] {
			seenLabel[lab[i]] = true
			labels = append(labels, lab[i])
		}
		k, ok := index[subj[i]]
		if !ok {
			k = len(subjects)
			index[subj[i]] = k
			subjects = append(subjects, subj[i])
			values = append(values, nil)
		}
		v, err := strconv.ParseFloat(val[i], 64)
		if err != nil {
			continue
		}
		values[k] = append(values[k], v)
	}
	return subjects, labels, values
}

// Responses lists the distinct values of the response column in first-seen
// order.
func (t *Table) Responses() []string {
	col, ok := t.Column("response")
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, r := range col {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
