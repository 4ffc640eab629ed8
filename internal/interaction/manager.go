package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/dispatch"
	"github.com/dwizi/lurker/internal/fatigue"
	"github.com/dwizi/lurker/internal/focus"
	"github.com/dwizi/lurker/internal/interest"
	"github.com/dwizi/lurker/internal/mode"
	"github.com/dwizi/lurker/internal/state"
	"github.com/dwizi/lurker/internal/willingness"
)

const (
	ReasonGroupFiltered  = "group_filtered"
	ReasonOwnMessage     = "own_message"
	ReasonBelowInterest  = "below_interest_threshold"
	ReasonInternalError  = "internal_error"
	ReasonInvalidMessage = "invalid_message"
)

type GroupFilter interface {
	Allowed(groupID string) bool
}

// Observer receives every final decision. Implementations must not block.
type Observer interface {
	ObserveDecision(decision chat.Decision, score chat.InterestScore)
}

type Config struct {
	BotID                  string
	InterestThreshold      float64
	HeatWindow             time.Duration
	FatigueScope           string
	Typing                 dispatch.Typing
	GroupIdleEviction      time.Duration
	ConversantIdleEviction time.Duration
}

type Dependencies struct {
	Store      *state.Store
	Interest   *interest.Evaluator
	Modes      *mode.Manager
	Calculator *willingness.Calculator
	Focus      *focus.Manager
	Fatigue    *fatigue.System
	Sender     focus.ReplySender
	Filter     GroupFilter
	Now        func() time.Time
	Draw       func() float64
}

// Manager sequences one message at a time per group. It owns no decision
// rules; each step is delegated to the component that does.
type Manager struct {
	cfg        Config
	logger     *slog.Logger
	store      *state.Store
	interest   *interest.Evaluator
	modes      *mode.Manager
	calc       *willingness.Calculator
	focus      *focus.Manager
	fatigue    *fatigue.System
	sender     focus.ReplySender
	filter     GroupFilter
	now        func() time.Time
	draw       func() float64
	fatigueKey func(groupID, userID string) string

	lanesMu sync.Mutex
	lanes   map[string]*sync.Mutex

	observersMu sync.RWMutex
	observers   []Observer
}

func New(cfg Config, deps Dependencies, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Draw == nil {
		deps.Draw = rand.Float64
	}
	if cfg.HeatWindow <= 0 {
		cfg.HeatWindow = 5 * time.Minute
	}
	manager := &Manager{
		cfg:        cfg,
		logger:     logger.With("component", "interaction"),
		store:      deps.Store,
		interest:   deps.Interest,
		modes:      deps.Modes,
		calc:       deps.Calculator,
		focus:      deps.Focus,
		fatigue:    deps.Fatigue,
		sender:     deps.Sender,
		filter:     deps.Filter,
		now:        deps.Now,
		draw:       deps.Draw,
		fatigueKey: fatigue.KeyFunc(cfg.FatigueScope),
		lanes:      map[string]*sync.Mutex{},
	}
	if manager.focus != nil && manager.modes != nil {
		manager.modes.OnEnterFocused(manager.focus.Enter)
	}
	return manager
}

func (m *Manager) AddObserver(observer Observer) {
	if observer == nil {
		return
	}
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.observers = append(m.observers, observer)
}

// OnMessage resolves msg to exactly one Decision.
func (m *Manager) OnMessage(ctx context.Context, msg chat.Message) chat.Decision {
	now := m.now()
	msg.GroupID = strings.TrimSpace(msg.GroupID)
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	decision := chat.Decision{
		ID:             uuid.NewString(),
		MessageID:      msg.ID,
		GroupID:        msg.GroupID,
		UserID:         msg.SenderID,
		Kind:           chat.DecisionSkip,
		FatigueAllowed: true,
		DecidedAt:      now,
	}
	var score chat.InterestScore

	switch {
	case msg.GroupID == "":
		decision.Reason = ReasonInvalidMessage
	case m.filter != nil && !m.filter.Allowed(msg.GroupID):
		decision.Reason = ReasonGroupFiltered
	default:
		decision, score = m.decideInLane(ctx, msg, decision)
	}

	m.logger.Debug("message decided",
		"group_id", decision.GroupID,
		"message_id", decision.MessageID,
		"decision", decision.Kind,
		"mode", decision.Mode,
		"reason", decision.Reason,
		"willingness", decision.Willingness,
		"interest", decision.Interest,
	)
	m.publish(decision, score)
	return decision
}

func (m *Manager) decideInLane(ctx context.Context, msg chat.Message, base chat.Decision) (decision chat.Decision, score chat.InterestScore) {
	lane := m.lockLane(msg.GroupID)
	defer lane.Unlock()

	// Read the clock under the lane so a group's decisions stay ordered.
	now := m.now()
	base.DecidedAt = now
	decision = base
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("message processing panicked, resetting group state",
				"group_id", msg.GroupID,
				"message_id", msg.ID,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			m.store.Replace(msg.GroupID, now)
			if m.focus != nil {
				m.focus.Forget(msg.GroupID)
			}
			decision = base
			decision.Kind = chat.DecisionSkip
			decision.Reason = ReasonInternalError
			score = chat.InterestScore{MessageID: msg.ID}
		}
	}()

	group := m.store.GetOrCreate(msg.GroupID, now)
	decision.Mode = group.Mode

	if m.ownMessage(msg) {
		group.Observe(msg, now, m.cfg.HeatWindow)
		decision.Reason = ReasonOwnMessage
		return decision, score
	}

	score = m.interest.Evaluate(msg, group, now)
	decision.Interest = score.Composite
	if transition, ok := m.modes.Evaluate(group, msg, score, now); ok {
		decision.TransitionTo = transition.To
	}
	decision.Mode = group.Mode

	switch {
	case score.Composite < m.cfg.InterestThreshold && !score.Mentioned:
		decision.Reason = ReasonBelowInterest
	case group.Mode == chat.ModeFocused:
		decision = m.focus.Handle(ctx, msg, group, decision, now)
	default:
		decision = m.classic(msg, group, score, decision, now)
	}

	m.updateCounters(group, msg, decision, now)
	return decision, score
}

func (m *Manager) classic(msg chat.Message, group *state.GroupState, score chat.InterestScore, decision chat.Decision, now time.Time) chat.Decision {
	key := m.fatigueKey(group.GroupID, msg.SenderID)
	decision.FatigueAllowed = m.fatigue.CheckAllowed(key, now)

	result := m.calc.Classic(willingness.ClassicInput{
		Baseline:           group.ClassicBaseline,
		BaselineAt:         group.BaselineAt,
		Mentioned:          score.Mentioned,
		Interest:           score.Composite,
		ConsecutiveReplies: group.ConsecutiveReplies,
		Now:                now,
	})
	group.ClassicBaseline = result.Baseline
	group.BaselineAt = now
	decision.Willingness = result.Willingness
	decision.Reason = result.Reason
	decision.Components = result.Components
	if !result.Responds() {
		decision.Kind = chat.DecisionSkip
		return decision
	}

	delay := m.cfg.Typing.Delay(1, m.draw)
	decision.Kind = chat.DecisionRespond
	if delay > 0 {
		decision.Kind = chat.DecisionDefer
		decision.Delay = delay
	}
	if m.sender != nil {
		err := m.sender.SendReply(chat.Reply{
			DecisionID: decision.ID,
			GroupID:    group.GroupID,
			ReplyTo:    msg.ID,
			UserID:     msg.SenderID,
			Mode:       group.Mode,
			Delay:      delay,
			Hints:      map[string]string{"mentioned": fmt.Sprint(score.Mentioned)},
		})
		if err != nil {
			m.logger.Warn("reply dispatch failed", "group_id", group.GroupID, "message_id", msg.ID, "error", err)
		}
	}
	m.fatigue.RecordReply(key, now)
	return decision
}

func (m *Manager) updateCounters(group *state.GroupState, msg chat.Message, decision chat.Decision, now time.Time) {
	if decision.Replies() {
		group.ConsecutiveReplies++
		group.Stats.Replies++
		group.SenderReplies[msg.SenderID]++
	} else {
		group.ConsecutiveReplies = 0
		group.Stats.Skips++
	}
	if decision.Reason != ReasonBelowInterest {
		group.LastWillingness = decision.Willingness
	}
	group.LastDecisionAt = now
}

func (m *Manager) ownMessage(msg chat.Message) bool {
	if msg.FromBot {
		return true
	}
	botID := strings.TrimSpace(m.cfg.BotID)
	return botID != "" && msg.SenderID == botID
}

func (m *Manager) lane(groupID string) *sync.Mutex {
	m.lanesMu.Lock()
	defer m.lanesMu.Unlock()
	lane, ok := m.lanes[groupID]
	if !ok {
		lane = &sync.Mutex{}
		m.lanes[groupID] = lane
	}
	return lane
}

// lockLane returns the group's lane locked. A lane retired while the caller
// waited on it is released and the current one taken instead.
func (m *Manager) lockLane(groupID string) *sync.Mutex {
	for {
		lane := m.lane(groupID)
		lane.Lock()
		m.lanesMu.Lock()
		current := m.lanes[groupID] == lane
		m.lanesMu.Unlock()
		if current {
			return lane
		}
		lane.Unlock()
	}
}

// retireLane drops the lane of a group that no longer has state. The caller
// must hold lane.
func (m *Manager) retireLane(groupID string, lane *sync.Mutex) {
	m.lanesMu.Lock()
	defer m.lanesMu.Unlock()
	if m.lanes[groupID] == lane {
		delete(m.lanes, groupID)
	}
}

func (m *Manager) publish(decision chat.Decision, score chat.InterestScore) {
	m.observersMu.RLock()
	observers := append([]Observer{}, m.observers...)
	m.observersMu.RUnlock()
	for _, observer := range observers {
		observer.ObserveDecision(decision, score)
	}
}

// Reset clears all group, conversant and fatigue state while holding every
// known lane.
func (m *Manager) Reset() {
	m.lanesMu.Lock()
	ids := make([]string, 0, len(m.lanes))
	for id := range m.lanes {
		ids = append(ids, id)
	}
	m.lanesMu.Unlock()
	sort.Strings(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		held = append(held, m.lockLane(id))
	}
	defer func() {
		for index, lane := range held {
			m.retireLane(ids[index], lane)
			lane.Unlock()
		}
	}()

	m.store.Reset()
	m.fatigue.Reset()
	if m.focus != nil {
		m.focus.Reset()
	}
	m.logger.Info("state reset", "groups", len(ids))
}

type SweepReport struct {
	Transitions       []mode.Transition `json:"transitions"`
	EvictedGroups     []string          `json:"evicted_groups"`
	PrunedConversants int               `json:"pruned_conversants"`
}

// Sweep runs the time-based mode guards, evicts idle groups and conversants
// and decays fatigue records.
func (m *Manager) Sweep(now time.Time) SweepReport {
	var report SweepReport
	if m.cfg.GroupIdleEviction > 0 {
		for _, groupID := range m.store.IdleGroups(now, m.cfg.GroupIdleEviction) {
			m.evictGroup(groupID, now, &report)
		}
	}
	for _, groupID := range m.store.GroupIDs() {
		m.sweepGroup(groupID, now, &report)
	}
	m.fatigue.Tick(now)
	if len(report.Transitions) > 0 || len(report.EvictedGroups) > 0 || report.PrunedConversants > 0 {
		m.logger.Info("sweep finished",
			"transitions", len(report.Transitions),
			"evicted_groups", len(report.EvictedGroups),
			"pruned_conversants", report.PrunedConversants,
		)
	}
	return report
}

// evictGroup drops an idle group together with its fatigue, focus and lane.
// Activity that arrived since the idle scan keeps the group.
func (m *Manager) evictGroup(groupID string, now time.Time, report *SweepReport) {
	lane := m.lockLane(groupID)
	defer lane.Unlock()

	group, ok := m.store.Get(groupID)
	if !ok {
		m.retireLane(groupID, lane)
		return
	}
	if now.Sub(group.LastActiveAt) < m.cfg.GroupIdleEviction {
		return
	}
	m.store.Delete(groupID)
	m.fatigue.Evict(groupID)
	if m.focus != nil {
		m.focus.Forget(groupID)
	}
	m.retireLane(groupID, lane)
	report.EvictedGroups = append(report.EvictedGroups, groupID)
}

func (m *Manager) sweepGroup(groupID string, now time.Time, report *SweepReport) {
	lane := m.lockLane(groupID)
	defer lane.Unlock()

	group, ok := m.store.Get(groupID)
	if !ok {
		m.retireLane(groupID, lane)
		return
	}
	if transition, ok := m.modes.Sweep(group, now); ok {
		report.Transitions = append(report.Transitions, transition)
	}
	if m.cfg.ConversantIdleEviction > 0 {
		report.PrunedConversants += len(group.PruneConversants(now, m.cfg.ConversantIdleEviction))
	}
}

type ConversantStatus struct {
	UserID        string    `json:"user_id"`
	Baseline      float64   `json:"baseline"`
	Turns         int       `json:"turns"`
	Frequency     float64   `json:"frequency"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastReplyAt   time.Time `json:"last_reply_at,omitempty"`
}

type GroupStatus struct {
	GroupID            string                `json:"group_id"`
	Mode               chat.Mode             `json:"mode"`
	ModeEnteredAt      time.Time             `json:"mode_entered_at"`
	LastSwitchAt       time.Time             `json:"last_switch_at,omitempty"`
	ClassicBaseline    float64               `json:"classic_baseline"`
	LastWillingness    float64               `json:"last_willingness"`
	ConsecutiveReplies int                   `json:"consecutive_replies"`
	FocusTurns         int                   `json:"focus_turns"`
	FocusEpoch         int                   `json:"focus_epoch"`
	Heat               float64               `json:"heat"`
	Stats              state.Stats           `json:"stats"`
	ReplyRate          float64               `json:"reply_rate"`
	Fatigue            *fatigue.RecordStatus `json:"fatigue,omitempty"`
	LastActiveAt       time.Time             `json:"last_active_at"`
	Conversants        []ConversantStatus    `json:"conversants,omitempty"`
	History            []state.ModeChange    `json:"history,omitempty"`
}

type Status struct {
	Groups  []GroupStatus          `json:"groups"`
	Focus   focus.Stats            `json:"focus"`
	Fatigue []fatigue.RecordStatus `json:"fatigue"`
}

// Status snapshots every known group. Each group is read under its lane.
func (m *Manager) Status() Status {
	now := m.now()
	status := Status{Groups: []GroupStatus{}}
	for _, groupID := range m.store.GroupIDs() {
		if group, ok := m.groupStatus(groupID, now, false); ok {
			status.Groups = append(status.Groups, group)
		}
	}
	if m.focus != nil {
		status.Focus = m.focus.Stats()
	}
	status.Fatigue = m.fatigue.Snapshot(now)
	return status
}

// GroupStatus is the detailed view of one group, including conversants and
// mode history.
func (m *Manager) GroupStatus(groupID string) (GroupStatus, bool) {
	return m.groupStatus(strings.TrimSpace(groupID), m.now(), true)
}

func (m *Manager) groupStatus(groupID string, now time.Time, detailed bool) (GroupStatus, bool) {
	if _, ok := m.store.Get(groupID); !ok {
		return GroupStatus{}, false
	}
	lane := m.lockLane(groupID)
	defer lane.Unlock()

	group, ok := m.store.Get(groupID)
	if !ok {
		m.retireLane(groupID, lane)
		return GroupStatus{}, false
	}
	status := GroupStatus{
		GroupID:            group.GroupID,
		Mode:               group.Mode,
		ModeEnteredAt:      group.ModeEntered,
		LastSwitchAt:       group.LastSwitchAt,
		ClassicBaseline:    group.ClassicBaseline,
		LastWillingness:    group.LastWillingness,
		ConsecutiveReplies: group.ConsecutiveReplies,
		FocusTurns:         group.FocusTurns,
		FocusEpoch:         group.FocusEpoch,
		Heat:               group.Heat(now, m.cfg.HeatWindow),
		Stats:              group.Stats,
		ReplyRate:          group.Stats.ReplyRate(),
		LastActiveAt:       group.LastActiveAt,
	}
	if record, ok := m.fatigue.Get(fatigue.GroupKey(groupID), now); ok {
		recordStatus := fatigue.StatusOf(record, now)
		status.Fatigue = &recordStatus
	}
	if !detailed {
		return status, true
	}
	for _, conversant := range group.Conversants {
		status.Conversants = append(status.Conversants, ConversantStatus{
			UserID:        conversant.UserID,
			Baseline:      conversant.Baseline,
			Turns:         conversant.Turns,
			Frequency:     conversant.Frequency,
			LastMessageAt: conversant.LastMessageAt,
			LastReplyAt:   conversant.LastReplyAt,
		})
	}
	sort.Slice(status.Conversants, func(i, j int) bool {
		return status.Conversants[i].UserID < status.Conversants[j].UserID
	})
	status.History = append([]state.ModeChange(nil), group.History...)
	return status, true
}
