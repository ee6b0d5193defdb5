// Package tui is the interactive picker: a bubbletea rendering layer over
// services.PickerService. All tree mutations go through the service; the
// model only renders the visible rows and reacts to bus events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/notify"
	"github.com/kbpicker/kb-picker/internal/services"
	"github.com/kbpicker/kb-picker/internal/state"
	"github.com/kbpicker/kb-picker/internal/util/filter"
	"github.com/kbpicker/kb-picker/internal/validation"
)

// Options configures the picker.
type Options struct {
	// Notifier is optional
	Notifier       *notify.Notifier
	ResolveFolders bool
	IndexParams    models.IndexingParams
	SyncTimeout    time.Duration
}

type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputName
)

type Model struct {
	ctx    context.Context
	svc    *services.PickerService
	events <-chan events.Event
	opts   Options

	help    help.Model
	spinner spinner.Model
	input   textinput.Model
	keys    keyMap

	width  int
	height int

	rows   []state.Row
	cursor int
	offset int

	mode        inputMode
	searchQuery string
	sortField   filter.SortField
	sortDesc    bool

	loadingRoot bool
	busy        string // running knowledge base operation, empty when idle
	syncDone    int
	syncTotal   int

	status   string
	statusAt time.Time
	err      error
}

type eventMsg struct{ ev events.Event }
type busClosedMsg struct{}
type rootLoadedMsg struct{ err error }
type indexDoneMsg struct {
	kb  *models.KnowledgeBase
	err error
}
type syncDoneMsg struct{ err error }
type reconcileMsg struct {
	result services.ReconcileResult
	err    error
}
type removeDoneMsg struct {
	name string
	err  error
}

// NewModel creates the picker model. bus may be nil, in which case the model
// only refreshes after its own commands.
func NewModel(ctx context.Context, svc *services.PickerService, bus *events.EventBus, opts Options) Model {
	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ti := textinput.New()
	ti.CharLimit = constants.MaxKnowledgeBaseNameLength

	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = constants.DefaultSyncWaitTimeout
	}

	m := Model{
		ctx:         ctx,
		svc:         svc,
		opts:        opts,
		help:        h,
		spinner:     sp,
		input:       ti,
		keys:        defaultKeys(),
		sortField:   filter.SortByName,
		loadingRoot: true,
	}
	if bus != nil {
		m.events = bus.SubscribeAll()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadRootCmd(), m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	ch := m.events
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) loadRootCmd() tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		return rootLoadedMsg{err: svc.LoadRoot(ctx)}
	}
}

func (m Model) indexCmd(name string) tea.Cmd {
	svc, ctx, opts := m.svc, m.ctx, m.opts
	return func() tea.Msg {
		kb, err := svc.IndexSelected(ctx, services.IndexOptions{
			Name:           name,
			Params:         opts.IndexParams,
			ResolveFolders: opts.ResolveFolders,
		})
		return indexDoneMsg{kb: kb, err: err}
	}
}

func (m Model) syncCmd() tea.Cmd {
	svc, ctx, timeout := m.svc, m.ctx, m.opts.SyncTimeout
	return func() tea.Msg {
		if err := svc.Sync(ctx); err != nil {
			return syncDoneMsg{err: err}
		}
		return syncDoneMsg{err: svc.WaitForSync(ctx, services.WaitOptions{Timeout: timeout})}
	}
}

func (m Model) reconcileCmd() tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		result, err := svc.Reconcile(ctx)
		return reconcileMsg{result: result, err: err}
	}
}

func (m Model) removeCmd(r models.Resource) tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		return removeDoneMsg{name: r.Name(), err: svc.RemoveResource(ctx, r)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.scrollToCursor()

	case eventMsg:
		m.handleEvent(msg.ev)
		m.refreshRows()
		cmds = append(cmds, m.waitForEvent())

	case busClosedMsg:
		m.events = nil

	case rootLoadedMsg:
		m.loadingRoot = false
		if msg.err != nil {
			m.setError("Could not load drive", msg.err)
		}
		m.refreshRows()

	case indexDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError("Index failed", msg.err)
			break
		}
		m.setStatus("Created knowledge base " + msg.kb.KnowledgeBaseID + " (press s to sync)")
		if m.opts.Notifier != nil {
			m.opts.Notifier.KnowledgeBaseCreated(msg.kb.Name, len(m.svc.Tree().LeafResourceIDs()))
		}
		m.refreshRows()

	case syncDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError("Sync failed", msg.err)
			break
		}
		m.setStatus("Knowledge base synchronized")
		if m.opts.Notifier != nil {
			m.opts.Notifier.SyncComplete(m.svc.Session().ActiveID(), m.syncTotal)
		}
		m.refreshRows()

	case reconcileMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError("Refresh failed", msg.err)
			break
		}
		m.syncDone, m.syncTotal = msg.result.Synchronized, msg.result.Total
		m.setStatus(fmt.Sprintf("%d/%d resources synchronized", msg.result.Synchronized, msg.result.Total))
		m.refreshRows()

	case removeDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError("Remove failed", msg.err)
			break
		}
		m.setStatus("Removed " + msg.name)
		m.refreshRows()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.handleInput(msg)
		}
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleEvent(ev events.Event) {
	switch e := ev.(type) {
	case *events.SyncProgressEvent:
		m.syncDone, m.syncTotal = e.Synchronized, e.Total
	case *events.ChildrenLoadFailedEvent:
		if e.FolderID == state.RootID {
			m.setError("Could not load drive", e.Error)
		}
	case *events.KnowledgeBaseChangedEvent:
		m.syncDone, m.syncTotal = 0, 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.PageUp):
		m.moveCursor(-m.listHeight())
	case key.Matches(msg, m.keys.PageDown):
		m.moveCursor(m.listHeight())
	case key.Matches(msg, m.keys.Expand):
		m.toggleExpand()
	case key.Matches(msg, m.keys.Collapse):
		m.collapseOrParent()
	case key.Matches(msg, m.keys.Select):
		if row, ok := m.currentRow(); ok && !row.Placeholder {
			m.svc.ToggleSelection(row.Resource.ResourceID, row.Resource.IsDirectory())
		}
	case key.Matches(msg, m.keys.Search):
		m.mode = inputSearch
		m.input.Prompt = "/ "
		m.input.Placeholder = "Search file names..."
		m.input.SetValue(m.searchQuery)
		m.input.CursorEnd()
		cmd = m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Sort):
		m.sortField = m.sortField.Next()
		m.sortDesc = m.sortField == filter.SortByDate
	case key.Matches(msg, m.keys.Index):
		if m.busy != "" {
			m.setStatus("Wait for " + m.busy + " to finish")
			break
		}
		if m.svc.Tree().SelectedCount() == 0 {
			m.setStatus("Select files or folders first")
			break
		}
		m.mode = inputName
		m.input.Prompt = "Knowledge base name: "
		m.input.Placeholder = "leave empty for a generated name"
		m.input.SetValue("")
		cmd = m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Sync):
		if m.startOperation("sync") {
			m.syncDone, m.syncTotal = 0, 0
			cmd = m.syncCmd()
		}
	case key.Matches(msg, m.keys.Refresh):
		if m.startOperation("refresh") {
			cmd = m.reconcileCmd()
		}
	case key.Matches(msg, m.keys.Remove):
		row, ok := m.currentRow()
		if !ok || row.Placeholder {
			break
		}
		if m.startOperation("remove") {
			cmd = m.removeCmd(row.Resource)
		}
	case key.Matches(msg, m.keys.NewKB):
		if m.busy != "" {
			m.setStatus("Wait for " + m.busy + " to finish")
			break
		}
		m.svc.NewKnowledgeBase(m.ctx)
		m.cursor, m.offset = 0, 0
		m.loadingRoot = true
		m.setStatus("Started a new knowledge base")
		cmd = m.loadRootCmd()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}

	m.refreshRows()
	return m, cmd
}

// startOperation marks a knowledge base operation as running. It reports
// false, with a status message, when the operation cannot start.
func (m *Model) startOperation(name string) bool {
	if m.busy != "" {
		m.setStatus("Wait for " + m.busy + " to finish")
		return false
	}
	if !m.svc.Session().Exists() {
		m.setStatus("No active knowledge base (press i to index the selection)")
		return false
	}
	m.busy = name
	m.err = nil
	return true
}

func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == inputSearch {
			m.searchQuery = ""
		}
		m.mode = inputNone
		m.input.Blur()
		m.refreshRows()
		return m, nil
	case "enter":
		mode := m.mode
		value := strings.TrimSpace(m.input.Value())
		m.mode = inputNone
		m.input.Blur()

		if mode == inputSearch {
			m.searchQuery = value
			m.refreshRows()
			return m, nil
		}
		if err := validation.ValidateKnowledgeBaseName(value); err != nil {
			m.setError("Invalid name", err)
			return m, nil
		}
		m.busy = "index"
		m.err = nil
		m.setStatus("Indexing selection...")
		return m, m.indexCmd(value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == inputSearch {
		m.searchQuery = strings.TrimSpace(m.input.Value())
		m.refreshRows()
	}
	return m, cmd
}

func (m *Model) toggleExpand() {
	row, ok := m.currentRow()
	if !ok {
		return
	}
	if row.Placeholder {
		// Retry a failed folder
		if row.Err != nil {
			m.svc.Expand(m.ctx, row.ParentID)
		}
		return
	}
	if row.Resource.IsDirectory() {
		m.svc.ToggleExpand(m.ctx, row.Resource.ResourceID)
	}
}

func (m *Model) collapseOrParent() {
	row, ok := m.currentRow()
	if !ok {
		return
	}
	if !row.Placeholder && row.Expanded {
		m.svc.Collapse(row.Resource.ResourceID)
		return
	}
	if row.ParentID == state.RootID {
		return
	}
	for i, r := range m.rows {
		if !r.Placeholder && r.Resource.ResourceID == row.ParentID {
			m.cursor = i
			m.scrollToCursor()
			return
		}
	}
}

func (m *Model) currentRow() (state.Row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return state.Row{}, false
	}
	return m.rows[m.cursor], true
}

// refreshRows rebuilds the visible rows, keeping the cursor on the same
// resource when it is still visible.
func (m *Model) refreshRows() {
	var currentID string
	if row, ok := m.currentRow(); ok && !row.Placeholder {
		currentID = row.Resource.ResourceID
	}

	rows := m.svc.Tree().VisibleRows(filter.Comparator(m.sortField, m.sortDesc))
	if terms := strings.Fields(m.searchQuery); len(terms) > 0 {
		cfg := filter.Config{Search: terms}
		kept := rows[:0]
		for _, r := range rows {
			if r.Placeholder || r.Resource.IsDirectory() || filter.Matches(r.Resource, cfg) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	m.rows = rows

	if currentID != "" {
		for i, r := range rows {
			if !r.Placeholder && r.Resource.ResourceID == currentID {
				m.cursor = i
				break
			}
		}
	}
	m.moveCursor(0)
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.scrollToCursor()
}

func (m *Model) scrollToCursor() {
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) listHeight() int {
	h := m.height - 3 // header, footer, spacing
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusAt = time.Now()
}

func (m *Model) setError(prefix string, err error) {
	m.err = err
	m.setStatus(prefix + ": " + err.Error())
}

// Run starts the picker on the terminal and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, svc *services.PickerService, bus *events.EventBus, opts Options) error {
	m := NewModel(ctx, svc, bus, opts)
	if bus != nil {
		defer bus.UnsubscribeAll(m.events)
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
