package tui

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"bos-cli/internal/format"
	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"
	"bos-cli/internal/position"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

// Mover persists a reorder. *mutate.Service implements it.
type Mover interface {
	Move(ctx context.Context, updates []model.RelativeUpdate) ([]model.PositionUpdate, error)
}

type Options struct {
	Title string
	// JobID limits replica pushes to one job. Empty shows every job.
	JobID  string
	Config position.Config
	// Mover persists K/J reorders. Without one, moves only change the in-memory outline.
	Mover  Mover
	Logger *slog.Logger
	Width  int
	Height int
}

// TasksMsg replaces the outline contents, e.g. after the replica applied a change.
type TasksMsg []model.Task

type movedMsg struct {
	ups []model.PositionUpdate
	err error
}

// chrome is the number of lines View draws around the list.
const chrome = 3

type Model struct {
	opts Options
	keys keyMap
	help help.Model
	list list.Model
	org  *hierarchy.Organizer
	exp  *hierarchy.Expansion

	tasks   []model.Task
	tree    []*hierarchy.Node
	rows    []hierarchy.Row
	filters []string
	filter  int

	showDetail bool
	width      int
	height     int
	status     string
	err        error
}

func New(tasks []model.Task, opts Options) Model {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Height <= 0 {
		opts.Height = 24
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := list.New(nil, newOutlineItemDelegate(), opts.Width, opts.Height-chrome)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	m := Model{
		opts:   opts,
		keys:   defaultKeyMap(),
		help:   help.New(),
		list:   l,
		org:    hierarchy.New(opts.Logger),
		exp:    hierarchy.NewExpansion(),
		width:  opts.Width,
		height: opts.Height,
	}
	m.load(tasks)
	return m
}

func (m Model) Init() tea.Cmd { return nil }

// Expansion exposes the view's expansion state.
func (m Model) Expansion() *hierarchy.Expansion { return m.exp }

// Rows returns the rows currently shown.
func (m Model) Rows() []hierarchy.Row { return m.rows }

// Tasks returns the outline's current flat task list.
func (m Model) Tasks() []model.Task { return m.tasks }

// Filter returns the active status filter, "" when every status is shown.
func (m Model) Filter() string { return m.filters[m.filter] }

// Selected returns the row under the cursor.
func (m Model) Selected() (hierarchy.Row, bool) {
	i := m.list.Index()
	if i < 0 || i >= len(m.rows) {
		return hierarchy.Row{}, false
	}
	return m.rows[i], true
}

// selectedID is the id under the cursor, "" when the outline is empty.
func (m Model) selectedID() string {
	if row, ok := m.Selected(); ok {
		return row.ID()
	}
	return ""
}

func (m *Model) load(tasks []model.Task) {
	keep := m.selectedID()
	current := ""
	if len(m.filters) > 0 {
		current = m.filters[m.filter]
	}
	m.tasks = slices.Clone(tasks)
	m.filters = statusFilters(m.tasks)
	m.filter = max(0, slices.Index(m.filters, current))
	m.rebuild(keep)
}

func statusFilters(tasks []model.Task) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tasks {
		s := strings.ToLower(strings.TrimSpace(t.Status))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return append([]string{""}, out...)
}

// rebuild re-derives tree and rows and keeps the cursor on keepID when it is still visible.
func (m *Model) rebuild(keepID string) {
	var match hierarchy.Predicate
	if f := m.filters[m.filter]; f != "" {
		match = hierarchy.StatusIn(f)
	}
	m.tree = m.org.Organize(m.tasks, match)
	if match != nil {
		// A filtered view would otherwise hide matches under collapsed ancestors.
		m.exp.AutoExpandAll(m.tree)
	}
	m.refresh(keepID)
}

func (m *Model) refresh(keepID string) {
	m.rows = hierarchy.Flatten(m.tree, m.exp)
	items := make([]list.Item, 0, len(m.rows))
	sel := -1
	for i, r := range m.rows {
		items = append(items, outlineRowItem{row: r})
		if r.ID() == keepID {
			sel = i
		}
	}
	prev := m.list.Index()
	m.list.SetItems(items)
	switch {
	case sel >= 0:
		m.list.Select(sel)
	case len(items) == 0:
	case prev >= len(items):
		m.list.Select(len(items) - 1)
	default:
		m.list.Select(max(prev, 0))
	}
}

func (m Model) selectID(id string) Model {
	for i, r := range m.rows {
		if r.ID() == id {
			m.list.Select(i)
			break
		}
	}
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, max(1, msg.Height-chrome-m.detailHeight()))
		m.help.Width = msg.Width
		return m, nil

	case TasksMsg:
		m.load(msg)
		return m, nil

	case movedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.opts.Logger.Warn("move failed", "err", msg.err)
			return m, nil
		}
		m.err = nil
		keep := m.selectedID()
		m.applyUpdates(msg.ups)
		m.rebuild(keep)
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	row, ok := m.Selected()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		m.list.CursorUp()
	case key.Matches(msg, m.keys.Down):
		m.list.CursorDown()
	case key.Matches(msg, m.keys.Toggle):
		if ok && row.HasSubtasks {
			m.exp.Toggle(row.ID())
			m.refresh(row.ID())
		}
	case key.Matches(msg, m.keys.Expand):
		if ok && row.HasSubtasks && !row.IsExpanded {
			m.exp.Expand(row.ID())
			m.refresh(row.ID())
		}
	case key.Matches(msg, m.keys.Collapse):
		if !ok {
			break
		}
		if row.HasSubtasks && row.IsExpanded {
			m.exp.Collapse(row.ID())
			m.refresh(row.ID())
			break
		}
		if p := row.Node.Task.Parent(); p != "" {
			m = m.selectID(p)
		}
	case key.Matches(msg, m.keys.ExpandAll):
		if m.exp.AutoExpandAll(m.tree) {
			m.status = ""
		} else {
			m.status = "already expanded; R collapses all"
		}
		m.refresh(m.selectedID())
	case key.Matches(msg, m.keys.Reset):
		m.exp.Reset()
		m.status = ""
		id := ""
		if ok {
			id = m.rootOf(row.ID())
		}
		m.refresh(id)
	case key.Matches(msg, m.keys.Filter):
		m.filter = (m.filter + 1) % len(m.filters)
		m.exp.Reset()
		m.rebuild(m.selectedID())
	case key.Matches(msg, m.keys.Detail):
		m.showDetail = !m.showDetail
		m.list.SetSize(m.width, max(1, m.height-chrome-m.detailHeight()))
	case key.Matches(msg, m.keys.MoveUp):
		if ok {
			return m.move(row, -1)
		}
	case key.Matches(msg, m.keys.MoveDown):
		if ok {
			return m.move(row, 1)
		}
	}
	return m, nil
}

func (m Model) rootOf(id string) string {
	path := hierarchy.PathTo(m.tree, id)
	if len(path) == 0 {
		return id
	}
	return path[0]
}

// shownParent is the parent of the level row is displayed at. A row whose parent is filtered
// out or deleted shows as a root, so it has none.
func (m Model) shownParent(row hierarchy.Row) *hierarchy.Node {
	parent := row.Node.Task.Parent()
	if parent == "" || parent == row.ID() {
		return nil
	}
	return hierarchy.Find(m.tree, parent)
}

// siblings returns the visible siblings of id, including id itself.
func (m Model) siblings(row hierarchy.Row) []*hierarchy.Node {
	if n := m.shownParent(row); n != nil {
		return n.Subtasks
	}
	return m.tree
}

// move swaps row with its previous (dir < 0) or next visible sibling. The outline updates
// immediately; a Mover, when set, persists the move and its answer replaces the local guess.
func (m Model) move(row hierarchy.Row, dir int) (tea.Model, tea.Cmd) {
	sibs := m.siblings(row)
	i := slices.IndexFunc(sibs, func(n *hierarchy.Node) bool { return n.Task.ID == row.ID() })
	j := i + dir
	if i < 0 || j < 0 || j >= len(sibs) {
		return m, nil
	}
	u := model.RelativeUpdate{ID: row.ID()}
	if n := m.shownParent(row); n != nil {
		u.ParentID = model.ID(n.Task.ID)
	}
	if dir < 0 {
		u.BeforeTaskID = sibs[j].Task.ID
	} else {
		u.AfterTaskID = sibs[j].Task.ID
	}

	m.applyUpdates(position.Convert(m.tasks, []model.RelativeUpdate{u}, m.opts.Config))
	m.rebuild(row.ID())

	if m.opts.Mover == nil {
		return m, nil
	}
	mover := m.opts.Mover
	return m, func() tea.Msg {
		ups, err := mover.Move(context.Background(), []model.RelativeUpdate{u})
		return movedMsg{ups: ups, err: err}
	}
}

func (m *Model) applyUpdates(ups []model.PositionUpdate) {
	if len(ups) == 0 {
		return
	}
	m.tasks = slices.Clone(m.tasks)
	for _, u := range ups {
		for i := range m.tasks {
			if m.tasks[i].ID == u.ID {
				u.Apply(&m.tasks[i])
			}
		}
	}
}

func (m Model) detailHeight() int {
	if !m.showDetail {
		return 0
	}
	return max(3, m.height/3)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	if len(m.rows) == 0 {
		b.WriteString(styleMuted().Render("  no tasks"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.list.View())
		b.WriteString("\n")
	}
	if m.showDetail {
		b.WriteString(m.detailView())
		b.WriteString("\n")
	}
	switch {
	case m.err != nil:
		b.WriteString(styleError().Render(m.err.Error()))
	case m.status != "":
		b.WriteString(styleMuted().Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) headerView() string {
	title := m.opts.Title
	if title == "" {
		title = "bos"
	}
	filter := "all"
	if f := m.Filter(); f != "" {
		filter = format.StatusLabel(f)
	}
	line := styleHeader().Render(title) + styleMuted().Render(fmt.Sprintf("  %d tasks · status: %s", len(m.tasks), filter))
	if xansi.StringWidth(line) > m.width && m.width > 0 {
		line = xansi.Truncate(line, m.width, "…")
	}
	return line
}

func (m Model) detailView() string {
	row, ok := m.Selected()
	if !ok {
		return ""
	}
	t := row.Node.Task
	body := RenderMarkdown(t.Description, m.width-2)
	if body == "" {
		body = styleMuted().Render("(no description)")
	}
	lines := strings.Split(body, "\n")
	if h := m.detailHeight(); len(lines) > h {
		lines = lines[:h]
	}
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(colorMuted).
		Width(max(1, m.width)).
		Render(strings.Join(lines, "\n"))
}
