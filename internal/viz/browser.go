package viz

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/pedalstat/internal/report"
	"github.com/san-kum/pedalstat/internal/storage"
)

const (
	stateList = iota
	stateRun
)

// Browser is an interactive viewer over stored runs.
type Browser struct {
	store  *storage.Store
	styles styles

	state   int
	runs    []storage.RunMetadata
	cursor  int
	record  *storage.Record
	table   int
	offset  int
	resp    int
	preview bool
	err     error

	width, height int
}

// NewBrowser lists the runs of store, newest last.
func NewBrowser(store *storage.Store, theme Theme) (*Browser, error) {
	runs, err := store.List()
	if err != nil {
		return nil, err
	}
	return &Browser{
		store:  store,
		styles: newStyles(theme),
		runs:   runs,
		cursor: max(len(runs)-1, 0),
		width:  100,
		height: 30,
	}, nil
}

func (b *Browser) Init() tea.Cmd { return nil }

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return b, tea.Quit
		}
		if b.state == stateList {
			return b, b.listKey(msg)
		}
		return b, b.runKey(msg)
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
	}
	return b, nil
}

func (b *Browser) listKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}
	case "down", "j":
		if b.cursor < len(b.runs)-1 {
			b.cursor++
		}
	case "enter", " ":
		if len(b.runs) == 0 {
			return nil
		}
		rec, err := b.store.LoadRecord(b.runs[b.cursor].ID)
		if err != nil {
			b.err = err
			return nil
		}
		b.err = nil
		b.record = rec
		b.state, b.table, b.offset, b.resp, b.preview = stateRun, 0, 0, 0, false
	}
	return nil
}

func (b *Browser) runKey(msg tea.KeyMsg) tea.Cmd {
	n := len(b.record.Tables)
	switch msg.String() {
	case "q":
		return tea.Quit
	case "esc", "backspace":
		b.state, b.record = stateList, nil
	case "tab", "right", "l":
		if n > 0 {
			b.table, b.offset = (b.table+1)%n, 0
		}
	case "shift+tab", "left", "h":
		if n > 0 {
			b.table, b.offset = (b.table+n-1)%n, 0
		}
	case "down", "j":
		if n > 0 && b.offset < len(b.record.Tables[b.table].Rows)-1 {
			b.offset++
		}
	case "up", "k":
		if b.offset > 0 {
			b.offset--
		}
	case "r":
		if t := b.subjects(); t != nil {
			if rs := t.Responses(); len(rs) > 0 {
				b.resp = (b.resp + 1) % len(rs)
			}
		}
	case "p":
		b.preview = !b.preview
	}
	return nil
}

func (b *Browser) subjects() *storage.Table {
	if b.record == nil {
		return nil
	}
	for i := range b.record.Tables {
		if b.record.Tables[i].Name == storage.TableSubjects {
			return &b.record.Tables[i]
		}
	}
	return nil
}

func (b *Browser) View() string {
	if b.state == stateRun {
		return b.viewRun()
	}
	return b.viewList()
}

func (b *Browser) viewList() string {
	s := b.styles
	var sb strings.Builder
	sb.WriteString("\n  " + s.title.Render("PEDALSTAT") + "\n  " + s.subtle.Render("stored runs in "+b.store.Dir()) + "\n  " + s.separator(40) + "\n\n")
	if len(b.runs) == 0 {
		sb.WriteString("  " + s.subtle.Render("no runs yet") + "\n")
	}
	for i, r := range b.runs {
		line := fmt.Sprintf("%-24s %s  %d models", r.Study, r.Timestamp.Format("2006-01-02 15:04"), len(r.Models))
		if i == b.cursor {
			sb.WriteString("  " + s.key.Render("▸") + " " + s.selected.Render(line) + "\n")
		} else {
			sb.WriteString("    " + s.item.Render(line) + "\n")
		}
	}
	if b.err != nil {
		sb.WriteString("\n  " + s.err.Render(b.err.Error()) + "\n")
	}
	sb.WriteString("\n  " + s.hints("j/k", "navigate", "enter", "open", "q", "quit") + "\n")
	return sb.String()
}

func (b *Browser) viewRun() string {
	s := b.styles
	meta := b.record.Metadata
	var sb strings.Builder

	sb.WriteString("\n  " + s.title.Render(meta.Study) + "  " + s.subtle.Render(meta.ID) + "\n")
	sb.WriteString(fmt.Sprintf("  %s %s  %s %d  %s %s\n",
		s.label.Render("dataset"), s.value.Render(meta.Dataset),
		s.label.Render("rows"), meta.Rows,
		s.label.Render("at"), meta.Timestamp.Format("2006-01-02 15:04:05")))
	if len(meta.Normalizers) > 0 {
		sb.WriteString("  " + s.label.Render("normalized") + " " + strings.Join(meta.Normalizers, "; ") + "\n")
	}

	var models strings.Builder
	for i, m := range meta.Models {
		if i > 0 {
			models.WriteString("\n")
		}
		status := s.ok.Render("converged")
		switch {
		case !m.Converged:
			status = s.err.Render("not converged")
		case m.Singular:
			status = s.warn.Render("singular")
		}
		models.WriteString(fmt.Sprintf("%s  %s  AIC %.2f  %s",
			s.value.Render(m.Formula), m.Method, m.AIC, status))
	}
	if len(meta.Models) > 0 {
		sb.WriteString(s.panel.Render(models.String()) + "\n")
	}

	var tabs []string
	for i, t := range b.record.Tables {
		if i > 0 {
			tabs = append(tabs, "  ")
		}
		if i == b.table {
			tabs = append(tabs, s.header.Render(t.Name))
		} else {
			tabs = append(tabs, s.item.Render(t.Name))
		}
	}
	sb.WriteString("\n" + indent(lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)) + "\n")

	if len(b.record.Tables) > 0 {
		sb.WriteString(b.viewTable(&b.record.Tables[b.table]))
	}

	if t := b.subjects(); t != nil && b.record.Tables[b.table].Name == storage.TableSubjects {
		sb.WriteString(b.viewSeries(t))
	}

	sb.WriteString("\n  " + s.hints("tab", "table", "j/k", "scroll", "r", "response", "p", "plot", "esc", "back", "q", "quit") + "\n")
	return sb.String()
}

func (b *Browser) viewTable(t *storage.Table) string {
	rows := max(b.height-20, 5)
	end := min(b.offset+rows, len(t.Rows))
	page := &storage.Table{Name: t.Name, Header: t.Header, Rows: t.Rows[b.offset:end]}

	var buf bytes.Buffer
	if err := report.Table(&buf, page); err != nil {
		return b.styles.err.Render(err.Error()) + "\n"
	}
	out := strings.TrimPrefix(buf.String(), "== "+t.Name+" ==\n")
	if len(t.Rows) > rows {
		out += b.styles.subtle.Render(fmt.Sprintf("rows %d-%d of %d", b.offset+1, end, len(t.Rows))) + "\n"
	}
	return indent(out)
}

func (b *Browser) viewSeries(t *storage.Table) string {
	responses := t.Responses()
	if len(responses) == 0 {
		return ""
	}
	resp := responses[b.resp%len(responses)]
	subjects, labels, values := t.SubjectSeries(resp)
	if len(subjects) == 0 {
		return ""
	}

	s := b.styles
	var sb strings.Builder
	sb.WriteString("\n  " + s.title.Render(resp) + "  " + s.subtle.Render(strings.Join(labels, " -> ")) + "\n")
	if b.preview {
		sb.WriteString(indent(PreviewSeries(resp, values, max(b.width-16, 20), 10)) + "\n")
		return sb.String()
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range values {
		for _, v := range row {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	for i, subj := range subjects {
		sb.WriteString(fmt.Sprintf("  %-8s %s\n", subj, s.sparkline(values[i], lo, hi)))
	}
	return sb.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// RunBrowser opens the browser full screen.
func RunBrowser(store *storage.Store, theme Theme) error {
	b, err := NewBrowser(store, theme)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(b, tea.WithAltScreen()).Run()
	return err
}
