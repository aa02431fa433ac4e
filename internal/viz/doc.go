// Package viz draws figures of fitted models and browses stored runs.
//
// Figures are written with go-chart as PNG or SVG:
//
//   - [Trajectories]: one line per subject across display levels
//   - [Coefficients]: fixed effects with intervals and per-subject points
//   - [FactorEffect]: per-subject and population predictions over a factor
//
// [Preview] and [PreviewSeries] render the same trajectories in the
// terminal. [RunBrowser] opens an interactive list of stored runs.
//
// # Key Bindings
//
//	j/k    - Move or scroll
//	Enter  - Open run
//	Tab    - Next table
//	R      - Next response in the subjects table
//	P      - Toggle plot of subject values
//	Esc    - Back to the run list
//	Q      - Quit
package viz
