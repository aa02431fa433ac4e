package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/pedalstat/internal/analysis"
)

var previewColors = []asciigraph.AnsiColor{
	asciigraph.Red, asciigraph.Green, asciigraph.Blue, asciigraph.Yellow,
	asciigraph.Magenta, asciigraph.Cyan, asciigraph.Orange, asciigraph.Purple,
}

// Preview renders subject trajectories as a terminal plot. The x axis
// follows the display levels, listed in the caption.
func Preview(s *analysis.SubjectSummary, width, height int) string {
	if s == nil || len(s.Values) == 0 {
		return ""
	}
	if width <= 0 {
		width = 60
	}
	if height <= 0 {
		height = 12
	}
	data := make([][]float64, len(s.Values))
	colors := make([]asciigraph.AnsiColor, len(s.Values))
	for i, row := range s.Values {
		data[i] = row
		colors[i] = previewColors[i%len(previewColors)]
	}
	caption := fmt.Sprintf("%s: %s", s.Variable, strings.Join(s.Labels, " -> "))
	return asciigraph.PlotMany(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	)
}

// PreviewSeries plots one named value column per subject, as stored with a
// run.
func PreviewSeries(caption string, series [][]float64, width, height int) string {
	if len(series) == 0 {
		return ""
	}
	colors := make([]asciigraph.AnsiColor, len(series))
	for i := range series {
		colors[i] = previewColors[i%len(previewColors)]
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	)
}
