package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/state"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("39"))
	folderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

// badgeColors maps overlay and server states to badge colours.
var badgeColors = map[string]lipgloss.Color{
	string(state.StateIndexing):      "220",
	string(state.StateRemoving):      "220",
	string(state.StateSynchronizing): "220",
	string(state.StateIndexed):       "39",
	string(state.StateSynchronized):  "42",
	string(state.StateFailed):        "203",
	"parsed":                         "42",
	"error":                          "203",
}

func badge(status string) string {
	if status == "" || status == string(state.StateResource) {
		return ""
	}
	color, ok := badgeColors[status]
	if !ok {
		color = "245"
	}
	return lipgloss.NewStyle().Foreground(color).Render("[" + status + "]")
}

func checkbox(c state.CheckState) string {
	switch c {
	case state.Checked:
		return "[x]"
	case state.Indeterminate:
		return "[-]"
	default:
		return "[ ]"
	}
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	footer := m.help.View(m.keys)
	if m.mode != inputNone {
		footer = m.input.View()
	} else if m.searchQuery != "" {
		footer = "search: " + m.searchQuery + "  " + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		m.body(),
		footer,
	)
}

func (m Model) body() string {
	h := m.listHeight()
	lines := make([]string, 0, h)

	switch {
	case m.loadingRoot && len(m.rows) == 0:
		lines = append(lines, m.spinner.View()+" Loading drive...")
	case len(m.rows) == 0 && m.searchQuery != "":
		lines = append(lines, dimStyle.Render("No files match your search."))
	case len(m.rows) == 0:
		lines = append(lines, dimStyle.Render("This drive is empty."))
	}

	end := m.offset + h
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		line := m.renderRow(m.rows[i])
		if i == m.cursor {
			line = cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < h {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(row state.Row) string {
	indent := strings.Repeat("  ", row.Depth)

	if row.Placeholder {
		if row.Loading {
			return indent + "  " + m.spinner.View() + " Loading..."
		}
		return indent + "  " + errorStyle.Render("Failed to load: "+shorten(errString(row.Err), 60)+" (enter to retry)")
	}

	r := row.Resource
	caret := "  "
	name := r.Name()
	if r.IsDirectory() {
		caret = "▸ "
		if row.Expanded {
			caret = "▾ "
		}
		name = folderStyle.Render(name + "/")
	}

	line := indent + caret + checkbox(row.Check) + " " + name
	if b := badge(m.svc.Overlay().Effective(r)); b != "" {
		line += " " + b
	}
	return line
}

func (m Model) statusLine() string {
	status := "kb-picker"

	if id := m.svc.Session().ActiveID(); id != "" {
		status += "  KB " + shorten(id, 18)
	} else {
		status += "  no KB"
	}
	status += fmt.Sprintf("  %d selected", m.svc.Tree().SelectedCount())

	order := "↑"
	if m.sortDesc {
		order = "↓"
	}
	status += "  sort " + string(m.sortField) + order

	if n := m.svc.Tree().InFlightCount(); n > 0 {
		status += fmt.Sprintf("  %s %d loading", m.spinner.View(), n)
	}
	if m.busy != "" {
		status += "  " + m.spinner.View() + " " + m.busy
		if m.busy == "sync" && m.syncTotal > 0 {
			status += fmt.Sprintf(" %d/%d", m.syncDone, m.syncTotal)
		}
	} else if m.svc.Session().IsSyncing() {
		status += "  [syncing]"
	}

	if s := strings.TrimSpace(m.status); s != "" && time.Since(m.statusAt) < constants.StatusMessageTTL {
		status += "  " + shorten(s, 80)
	}
	return statusStyle.Render(status)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
