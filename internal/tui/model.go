// Package tui is a terminal dashboard for the sync daemon: connectivity,
// queue contents and flush results, refreshed from the event stream.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/omerix/offline-sync/internal/api"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/syncer"
)

const (
	refreshInterval = 5 * time.Second
	requestTimeout  = 90 * time.Second
	maxLogLines     = 6
)

// Source is what the dashboard reads from and acts on; api.Client
// satisfies it.
type Source interface {
	Status(ctx context.Context) (*api.Status, error)
	List(ctx context.Context) (*api.QueueList, error)
	Flush(ctx context.Context) (*syncer.Result, error)
	Requeue(ctx context.Context, id string) (*opqueue.Operation, error)
	Remove(ctx context.Context, id string) error
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type snapshotMsg struct {
	status *api.Status
	list   *api.QueueList
}

type flushDoneMsg struct {
	result *syncer.Result
}

type actionDoneMsg struct {
	text string
}

type errMsg struct {
	err error
}

type streamMsg struct {
	ev api.StreamEvent
}

type streamClosedMsg struct{}

type tickMsg struct{}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	statStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	deadStyle    = lipgloss.NewStyle().Foreground(warnColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)

	footerStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

// Model is the dashboard state.
type Model struct {
	src    Source
	stream <-chan api.StreamEvent

	table  table.Model
	status *api.Status
	ops    []opqueue.Operation
	log    []string
	err    error
	busy   bool
	width  int
}

// New creates the dashboard. stream may be nil, in which case the view is
// only refreshed by polling.
func New(src Source, stream <-chan api.StreamEvent) Model {
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(st)

	return Model{src: src, stream: stream, table: t}
}

func columns(width int) []table.Column {
	url := width - 8 - 10 - 8 - 8 - 20 - 12
	if url < 20 {
		url = 20
	}
	return []table.Column{
		{Title: "Seq", Width: 8},
		{Title: "State", Width: 10},
		{Title: "Method", Width: 8},
		{Title: "Tries", Width: 8},
		{Title: "URL", Width: url},
		{Title: "Created", Width: 20},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.listen(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) refresh() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := src.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		list, err := src.List(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{status: st, list: list}
	}
}

func (m Model) listen() tea.Cmd {
	if m.stream == nil {
		return nil
	}
	stream := m.stream
	return func() tea.Msg {
		ev, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return streamMsg{ev}
	}
}

func (m Model) flush() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := src.Flush(ctx)
		if err != nil {
			return errMsg{fmt.Errorf("flush: %w", err)}
		}
		return flushDoneMsg{res}
	}
}

func (m Model) requeue(id string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := src.Requeue(ctx, id); err != nil {
			return errMsg{fmt.Errorf("requeue %s: %w", id, err)}
		}
		return actionDoneMsg{"requeued " + id}
	}
}

func (m Model) remove(id string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := src.Remove(ctx, id); err != nil {
			return errMsg{fmt.Errorf("remove %s: %w", id, err)}
		}
		return actionDoneMsg{"removed " + id}
	}
}

// selected returns the operation under the cursor.
func (m Model) selected() (opqueue.Operation, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.ops) {
		return opqueue.Operation{}, false
	}
	return m.ops[i], true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "f":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.addLog("flush requested")
			return m, m.flush()
		case "r":
			if op, ok := m.selected(); ok {
				return m, m.requeue(op.ID)
			}
			return m, nil
		case "d":
			if op, ok := m.selected(); ok {
				return m, m.remove(op.ID)
			}
			return m, nil
		case "g":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(columns(msg.Width - 4))
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case snapshotMsg:
		m.err = nil
		m.status = msg.status
		m.ops = msg.list.Operations
		m.table.SetRows(rows(m.ops))
		return m, nil

	case flushDoneMsg:
		m.busy = false
		r := msg.result
		m.addLog(fmt.Sprintf("flush: ok=%d failed=%d dead=%d deferred=%d", r.OK, r.Failed, r.Dead, r.Deferred))
		return m, m.refresh()

	case actionDoneMsg:
		m.addLog(msg.text)
		return m, m.refresh()

	case errMsg:
		m.busy = false
		m.err = msg.err
		return m, nil

	case streamMsg:
		m.addLog(describe(msg.ev))
		return m, tea.Batch(m.refresh(), m.listen())

	case streamClosedMsg:
		m.stream = nil
		m.addLog("event stream closed, polling only")
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) addLog(line string) {
	m.log = append(m.log, time.Now().Format("15:04:05")+" "+line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render("Omerix offline sync"))
	sb.WriteString(" ")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n\n")
	sb.WriteString(tableBorder.Render(m.table.View()))
	sb.WriteString("\n")

	for _, line := range m.log {
		sb.WriteString(statStyle.Render(line))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render("error: " + m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString(footerStyle.Render("f: flush │ r: requeue dead │ d: delete │ g: refresh │ q: quit"))
	return sb.String()
}

func (m Model) renderStatus() string {
	if m.status == nil {
		return statStyle.Render("connecting...")
	}
	st := m.status

	var parts []string
	if st.Online {
		parts = append(parts, onlineStyle.Render("● ONLINE"))
	} else {
		parts = append(parts, offlineStyle.Render("○ OFFLINE"))
	}

	q := st.Queue
	stats := fmt.Sprintf("pending %d │ retrying %d │ ", q.Pending, q.Retrying)
	parts = append(parts, statStyle.Render(stats)+deadStyle.Render(fmt.Sprintf("dead %d", q.Dead)))

	if st.Session.Present {
		parts = append(parts, statStyle.Render("session "+st.Session.Fingerprint))
	} else {
		parts = append(parts, offlineStyle.Render("no session"))
	}
	if st.LastFlush != nil {
		parts = append(parts, statStyle.Render(fmt.Sprintf("last flush %s ok=%d failed=%d",
			st.LastFlush.Started.Format("15:04:05"), st.LastFlush.OK, st.LastFlush.Failed)))
	}
	return strings.Join(parts, "  ")
}

func rows(ops []opqueue.Operation) []table.Row {
	out := make([]table.Row, 0, len(ops))
	for _, op := range ops {
		out = append(out, table.Row{
			fmt.Sprintf("%d", op.Seq),
			string(op.State),
			op.Method,
			fmt.Sprintf("%d", op.Retries),
			op.URL,
			op.Created().Format("2006-01-02 15:04:05"),
		})
	}
	return out
}

func describe(ev api.StreamEvent) string {
	switch ev.Type {
	case api.EventQueue:
		if ev.Queue != nil {
			return fmt.Sprintf("queue: %s %s", ev.Queue.Kind, ev.Queue.ID)
		}
	case api.EventFlush:
		if ev.Flush != nil {
			s := fmt.Sprintf("sync: ok=%d failed=%d", ev.Flush.OK, ev.Flush.Failed)
			if ev.FlushError != "" {
				s += " (" + ev.FlushError + ")"
			}
			return s
		}
	case api.EventConnectivity:
		if ev.Connectivity != nil {
			state := "offline"
			if ev.Connectivity.Online {
				state = "online"
			}
			return fmt.Sprintf("connectivity: %s via %s", state, ev.Connectivity.Source)
		}
	}
	return ev.Type
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, src Source, stream <-chan api.StreamEvent) error {
	p := tea.NewProgram(New(src, stream), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
