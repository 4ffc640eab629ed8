package tui

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"

	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/store"
)

const (
	DefaultInterval = 2 * time.Second
	requestTimeout  = 8 * time.Second
	recentLimit     = 8
)

// Source is the slice of the admin API the dashboard polls.
type Source interface {
	Status(ctx context.Context) (interaction.Status, error)
	Decisions(ctx context.Context, groupID, kind string, limit int) ([]store.DecisionRecord, error)
	Transitions(ctx context.Context, groupID string, limit int) ([]store.ModeTransitionRecord, error)
}

type Options struct {
	Endpoint string
	Interval time.Duration
	// Group preselects a group; empty selects the first one.
	Group string
}

type model struct {
	source   Source
	endpoint string
	interval time.Duration

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	width    int
	height   int
	quitting bool
	loading  bool
	paused   bool

	status      interaction.Status
	selected    string
	decisions   []store.DecisionRecord
	transitions []store.ModeTransitionRecord
	lastRefresh time.Time
	errorText   string
}

type tickMsg time.Time

type snapshotMsg struct {
	status      interaction.Status
	groupID     string
	decisions   []store.DecisionRecord
	transitions []store.ModeTransitionRecord
	at          time.Time
	scheduled   bool
	err         error
}

func Run(source Source, opts Options) error {
	_, err := tea.NewProgram(newModel(source, opts)).Run()
	return err
}

func newModel(source Source, opts Options) model {
	interval := opts.Interval
	if interval < 500*time.Millisecond {
		interval = DefaultInterval
	}
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = newTheme().spinner
	return model{
		source:   source,
		endpoint: opts.Endpoint,
		interval: interval,
		keys:     newKeyMap(),
		help:     help.New(),
		spinner:  spin,
		selected: opts.Group,
		width:    120,
		height:   36,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(m.selected, true), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tickMsg:
		if m.paused {
			return m, m.tickCmd()
		}
		m.loading = true
		return m, m.refreshCmd(m.selected, true)
	case snapshotMsg:
		return m.applySnapshot(typed)
	case tea.KeyPressMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

func (m model) View() tea.View {
	view := tea.NewView(m.renderView())
	view.AltScreen = true
	return view
}

func (m model) applySnapshot(msg snapshotMsg) (model, tea.Cmd) {
	m.loading = false
	var next tea.Cmd
	if msg.scheduled {
		next = m.tickCmd()
	}
	if msg.err != nil {
		m.errorText = msg.err.Error()
		return m, next
	}
	m.errorText = ""
	m.status = msg.status
	m.lastRefresh = msg.at
	if msg.groupID == m.selected {
		m.decisions = msg.decisions
		m.transitions = msg.transitions
	}
	if m.selectedIndex() < 0 {
		m.selected = ""
		m.decisions = nil
		m.transitions = nil
		if len(m.status.Groups) > 0 {
			m.selected = m.status.Groups[0].GroupID
			return m, tea.Batch(next, m.refreshCmd(m.selected, false))
		}
	}
	return m, next
}

func (m model) handleKey(msg tea.KeyPressMsg) (model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, m.refreshCmd(m.selected, false)
	case key.Matches(msg, m.keys.Down):
		return m.moveSelection(1)
	case key.Matches(msg, m.keys.Up):
		return m.moveSelection(-1)
	}
	return m, nil
}

func (m model) moveSelection(delta int) (model, tea.Cmd) {
	groups := m.status.Groups
	if len(groups) == 0 {
		return m, nil
	}
	index := m.selectedIndex() + delta
	if index < 0 {
		index = 0
	}
	if index >= len(groups) {
		index = len(groups) - 1
	}
	if groups[index].GroupID == m.selected {
		return m, nil
	}
	m.selected = groups[index].GroupID
	m.decisions = nil
	m.transitions = nil
	m.loading = true
	return m, m.refreshCmd(m.selected, false)
}

func (m model) selectedIndex() int {
	for index, group := range m.status.Groups {
		if group.GroupID == m.selected {
			return index
		}
	}
	return -1
}

func (m model) selectedGroup() (interaction.GroupStatus, bool) {
	index := m.selectedIndex()
	if index < 0 {
		return interaction.GroupStatus{}, false
	}
	return m.status.Groups[index], true
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(at time.Time) tea.Msg {
		return tickMsg(at)
	})
}

// refreshCmd polls the status and, for groupID, its recent decisions and
// mode transitions. Only scheduled refreshes re-arm the poll timer.
func (m model) refreshCmd(groupID string, scheduled bool) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		out := snapshotMsg{groupID: groupID, scheduled: scheduled}
		if source == nil {
			out.err = fmt.Errorf("admin api is not configured")
			return out
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		status, err := source.Status(ctx)
		if err != nil {
			out.err = err
			return out
		}
		out.status = status
		out.at = time.Now().UTC()
		if groupID == "" {
			return out
		}
		if out.transitions, err = source.Transitions(ctx, groupID, recentLimit); err != nil {
			out.err = err
			return out
		}
		if out.decisions, err = source.Decisions(ctx, groupID, "", recentLimit); err != nil {
			out.err = err
		}
		return out
	}
}
