package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title    lipgloss.Style
	subtle   lipgloss.Style
	selected lipgloss.Style
	item     lipgloss.Style
	value    lipgloss.Style
	label    lipgloss.Style
	key      lipgloss.Style
	hint     lipgloss.Style
	header   lipgloss.Style
	err      lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	panel    lipgloss.Style
	sparkHi  lipgloss.Style
	sparkMid lipgloss.Style
	sparkLo  lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		subtle:   lipgloss.NewStyle().Foreground(t.Muted),
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Text),
		item:     lipgloss.NewStyle().Foreground(t.Muted),
		value:    lipgloss.NewStyle().Bold(true).Foreground(t.Secondary),
		label:    lipgloss.NewStyle().Foreground(t.Muted),
		key:      lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		hint:     lipgloss.NewStyle().Italic(true).Foreground(t.Muted),
		header: lipgloss.NewStyle().Bold(true).Foreground(t.Text).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(t.Muted),
		err:      lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		ok:       lipgloss.NewStyle().Foreground(t.Success),
		warn:     lipgloss.NewStyle().Foreground(t.Warning),
		panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Muted).Padding(0, 1),
		sparkHi:  lipgloss.NewStyle().Foreground(t.Success),
		sparkMid: lipgloss.NewStyle().Foreground(t.Warning),
		sparkLo:  lipgloss.NewStyle().Foreground(t.Error),
	}
}

// hints renders key/description pairs for the footer.
func (s styles) hints(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(s.key.Render(pairs[i]))
		b.WriteString(s.hint.Render(" " + pairs[i+1]))
	}
	return b.String()
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders values scaled between lo and hi, one character each.
func (s styles) sparkline(values []float64, lo, hi float64) string {
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}
	var b strings.Builder
	for _, v := range values {
		norm := (v - lo) / rng
		idx := int(norm * float64(len(sparkChars)-1))
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		c := string(sparkChars[idx])
		switch {
		case norm > 0.7:
			b.WriteString(s.sparkHi.Render(c))
		case norm > 0.3:
			b.WriteString(s.sparkMid.Render(c))
		default:
			b.WriteString(s.sparkLo.Render(c))
		}
	}
	return b.String()
}

func (s styles) separator(width int) string {
	if width < 8 {
		width = 8
	}
	mid := width / 2
	return s.subtle.Render(strings.Repeat("─", mid-3) + " ◆ " + strings.Repeat("─", width-mid-3))
}
