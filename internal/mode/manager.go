package mode

import (
	"sync"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/state"
)

const (
	ReasonInterestSpike = "interest_above_focus_threshold"
	ReasonSustainedCool = "sustained_low_heat"
	ReasonFocusTimeout  = "focus_timeout"
	ReasonLowActivity   = "low_activity"
	ReasonReengaged     = "reengaged"
	ReasonFocusRest     = "focus_rest"
)

type Config struct {
	FocusedChatThreshold     float64
	ReengageThreshold        float64
	Cooldown                 time.Duration
	FocusedSustainHeat       float64
	FocusedExitMessages      int
	FocusTimeout             time.Duration
	ObservationModeThreshold float64
	ObservationWindow        time.Duration
	HeatWindow               time.Duration
}

type Transition struct {
	GroupID string    `json:"group_id"`
	From    chat.Mode `json:"from"`
	To      chat.Mode `json:"to"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// signals is what a guard may look at besides the group state.
type signals struct {
	interest      float64
	heat          float64
	now           time.Time
	requested     chat.Mode
	requestReason string
}

type rule struct {
	from   chat.Mode
	to     chat.Mode
	reason func(s signals) string
	guard  func(group *state.GroupState, s signals) bool
}

// Manager owns the Observation/Classic/Focused transition table. It keeps no
// per-group data itself; everything lives on the GroupState passed in, which
// the caller must hold under the group's lane.
type Manager struct {
	cfg   Config
	rules []rule

	mu        sync.RWMutex
	onEnter   []func(group *state.GroupState, now time.Time)
	observers []func(Transition)
}

func New(cfg Config) *Manager {
	if cfg.HeatWindow <= 0 {
		cfg.HeatWindow = 5 * time.Minute
	}
	if cfg.FocusedExitMessages < 1 {
		cfg.FocusedExitMessages = 1
	}
	manager := &Manager{cfg: cfg}
	manager.rules = manager.table()
	return manager
}

func fixed(reason string) func(signals) string {
	return func(signals) string { return reason }
}

func (m *Manager) table() []rule {
	return []rule{
		{
			from:   chat.ModeClassic,
			to:     chat.ModeFocused,
			reason: fixed(ReasonInterestSpike),
			guard: func(_ *state.GroupState, s signals) bool {
				return s.interest >= m.cfg.FocusedChatThreshold
			},
		},
		{
			from: chat.ModeFocused,
			to:   chat.ModeClassic,
			reason: func(s signals) string {
				if s.requestReason != "" {
					return s.requestReason
				}
				return ReasonFocusRest
			},
			guard: func(_ *state.GroupState, s signals) bool {
				return s.requested == chat.ModeClassic
			},
		},
		{
			from:   chat.ModeFocused,
			to:     chat.ModeClassic,
			reason: fixed(ReasonSustainedCool),
			guard: func(group *state.GroupState, _ signals) bool {
				return group.LowHeatRun >= m.cfg.FocusedExitMessages
			},
		},
		{
			from:   chat.ModeFocused,
			to:     chat.ModeClassic,
			reason: fixed(ReasonFocusTimeout),
			guard: func(group *state.GroupState, s signals) bool {
				if m.cfg.FocusTimeout <= 0 {
					return false
				}
				last := group.LastInterestAt
				if group.FocusedAt.After(last) {
					last = group.FocusedAt
				}
				return !last.IsZero() && s.now.Sub(last) >= m.cfg.FocusTimeout
			},
		},
		{
			from:   chat.ModeClassic,
			to:     chat.ModeObservation,
			reason: fixed(ReasonLowActivity),
			guard: func(group *state.GroupState, s signals) bool {
				return !group.LowHeatFrom.IsZero() && s.now.Sub(group.LowHeatFrom) >= m.cfg.ObservationWindow
			},
		},
		{
			from:   chat.ModeObservation,
			to:     chat.ModeClassic,
			reason: fixed(ReasonReengaged),
			guard: func(_ *state.GroupState, s signals) bool {
				return s.interest >= m.cfg.ReengageThreshold
			},
		},
	}
}

// OnEnterFocused registers a hook run right after a group switches into
// Focused, still under the caller's lane.
func (m *Manager) OnEnterFocused(hook func(group *state.GroupState, now time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter = append(m.onEnter, hook)
}

func (m *Manager) OnTransition(observer func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// Evaluate records msg into the group's heat window, updates the low-heat
// streaks and applies at most one transition.
func (m *Manager) Evaluate(group *state.GroupState, msg chat.Message, interest chat.InterestScore, now time.Time) (Transition, bool) {
	group.Observe(msg, now, m.cfg.HeatWindow)
	heat := group.Heat(now, m.cfg.HeatWindow)

	switch group.Mode {
	case chat.ModeFocused:
		if heat < m.cfg.FocusedSustainHeat {
			group.LowHeatRun++
		} else {
			group.LowHeatRun = 0
		}
		if interest.Composite >= m.cfg.FocusedChatThreshold {
			group.LastInterestAt = now
		}
	case chat.ModeClassic:
		m.trackLowHeat(group, heat, now)
	}

	return m.apply(group, signals{interest: interest.Composite, heat: heat, now: now})
}

// Request asks for a transition on behalf of another component. It still
// goes through the table and the cooldown.
func (m *Manager) Request(group *state.GroupState, target chat.Mode, reason string, now time.Time) (Transition, bool) {
	return m.apply(group, signals{
		heat:          group.Heat(now, m.cfg.HeatWindow),
		now:           now,
		requested:     target,
		requestReason: reason,
	})
}

// Sweep runs the time-based guards for a group that may have gone quiet.
func (m *Manager) Sweep(group *state.GroupState, now time.Time) (Transition, bool) {
	heat := group.Heat(now, m.cfg.HeatWindow)
	if group.Mode == chat.ModeClassic {
		m.trackLowHeat(group, heat, now)
	}
	return m.apply(group, signals{heat: heat, now: now})
}

func (m *Manager) trackLowHeat(group *state.GroupState, heat float64, now time.Time) {
	if heat < m.cfg.ObservationModeThreshold {
		if group.LowHeatFrom.IsZero() {
			group.LowHeatFrom = now
		}
		return
	}
	group.LowHeatFrom = time.Time{}
}

// CoolingDown reports whether a transition at now would violate the shared
// cooldown. A group that never switched is never cooling down.
func (m *Manager) CoolingDown(group *state.GroupState, now time.Time) bool {
	if group.LastSwitchAt.IsZero() {
		return false
	}
	return now.Sub(group.LastSwitchAt) < m.cfg.Cooldown
}

func (m *Manager) apply(group *state.GroupState, s signals) (Transition, bool) {
	if m.CoolingDown(group, s.now) {
		return Transition{}, false
	}
	for _, candidate := range m.rules {
		if candidate.from != group.Mode || !candidate.guard(group, s) {
			continue
		}
		transition := Transition{
			GroupID: group.GroupID,
			From:    candidate.from,
			To:      candidate.to,
			Reason:  candidate.reason(s),
			At:      s.now,
		}
		m.commit(group, transition)
		return transition, true
	}
	return Transition{}, false
}

func (m *Manager) commit(group *state.GroupState, transition Transition) {
	group.RecordModeChange(state.ModeChange{
		From:   transition.From,
		To:     transition.To,
		Reason: transition.Reason,
		At:     transition.At,
	})
	if transition.To == chat.ModeFocused {
		group.FocusEpoch++
		group.FocusTurns = 0
		group.FocusedAt = transition.At
		group.LastInterestAt = transition.At
	}

	m.mu.RLock()
	onEnter := append([]func(*state.GroupState, time.Time){}, m.onEnter...)
	observers := append([]func(Transition){}, m.observers...)
	m.mu.RUnlock()

	if transition.To == chat.ModeFocused {
		for _, hook := range onEnter {
			hook(group, transition.At)
		}
	}
	for _, observer := range observers {
		observer(transition)
	}
}
