// Package analysis summarises per-subject model coefficients of a
// single-factor condition effect.
//
// The package turns the coefficients returned by [lmm.Model.Coef] into:
//
//   - [SubjectSummary.Values]: each subject's value per condition level, in
//     display order
//   - [LevelEffect]: mean and SD of the per-subject deviation from the
//     reference level, a normal interval of the mean and an effect size
//   - [PercentDiff]: percent differences against the reference level and
//     between non-reference levels
//
// # Example
//
// With condition levels 1 (ad-lib), 2 (minimal) and 3 (locked):
//
//	sum, err := analysis.Summarize(model, analysis.Options{
//	    Group:    "subject",
//	    Variable: "condition",
//	    Order:    []string{"3", "1", "2"},
//	    Labels:   []string{"Locked", "ad-lib", "Minimal"},
//	})
package analysis
