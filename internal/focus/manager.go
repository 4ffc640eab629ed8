package focus

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/dispatch"
	"github.com/dwizi/lurker/internal/impression"
	"github.com/dwizi/lurker/internal/interest"
	"github.com/dwizi/lurker/internal/mode"
	"github.com/dwizi/lurker/internal/state"
	"github.com/dwizi/lurker/internal/willingness"
)

const ReasonFatigueRest = "fatigue_rest"

// PlanKind is the single action the focused pipeline settles on.
type PlanKind string

const (
	PlanRespondNow        PlanKind = "respond_now"
	PlanRespondWithDelay  PlanKind = "respond_with_delay"
	PlanSkip              PlanKind = "skip"
	PlanRequestTransition PlanKind = "request_transition"
)

type Plan struct {
	Kind   PlanKind
	Delay  time.Duration
	Target chat.Mode
	Reason string
}

type ReplySender interface {
	SendReply(reply chat.Reply) error
}

type Fatigue interface {
	RecordReply(key string, now time.Time)
	CheckAllowed(key string, now time.Time) bool
	Load(key string, now time.Time) float64
}

type Transitioner interface {
	Request(group *state.GroupState, target chat.Mode, reason string, now time.Time) (mode.Transition, bool)
}

// ToolSource reports the tools discovered on external tool servers.
type ToolSource interface {
	Configured() bool
	ToolNames(ctx context.Context) ([]string, error)
}

type AnalyzerObserver interface {
	ObserveAnalyzer(name, outcome string, took time.Duration)
}

type Config struct {
	AnalyzerTimeout   time.Duration
	ImpressionTimeout time.Duration
	ToolCapabilities  []string
	Typing            dispatch.Typing
	FocusedBase       float64
	HeatWindow        time.Duration
	FatigueKey        func(groupID, userID string) string
}

type Stats struct {
	Processed        int64 `json:"processed"`
	RepliesPlanned   int64 `json:"replies_planned"`
	Skips            int64 `json:"skips"`
	RestRequests     int64 `json:"rest_requests"`
	AnalyzerTimeouts int64 `json:"analyzer_timeouts"`
	AnalyzerFailures int64 `json:"analyzer_failures"`
}

// session is the observation context opened when a group enters Focused.
type session struct {
	epoch     int
	enteredAt time.Time
	seed      []string
}

type Manager struct {
	cfg         Config
	logger      *slog.Logger
	calc        *willingness.Calculator
	impressions impression.Client
	fatigue     Fatigue
	sender      ReplySender
	modes       Transitioner
	observer    AnalyzerObserver
	tools       ToolSource
	draw        func() float64

	mu       sync.Mutex
	sessions map[string]*session
	stats    Stats
}

type Dependencies struct {
	Calculator  *willingness.Calculator
	Impressions impression.Client
	Fatigue     Fatigue
	Sender      ReplySender
	Modes       Transitioner
	Observer    AnalyzerObserver
	// Tools narrows tool matching to discovered tools; nil keeps the static
	// capability list.
	Tools ToolSource
	// Draw feeds the typing delay; nil uses math/rand.
	Draw func() float64
}

func New(cfg Config, deps Dependencies, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 800 * time.Millisecond
	}
	if cfg.ImpressionTimeout <= 0 {
		cfg.ImpressionTimeout = 500 * time.Millisecond
	}
	if cfg.FatigueKey == nil {
		cfg.FatigueKey = func(groupID, _ string) string { return groupID }
	}
	if deps.Impressions == nil {
		deps.Impressions = impression.Noop{}
	}
	if deps.Draw == nil {
		deps.Draw = rand.Float64
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "focus"),
		calc:        deps.Calculator,
		impressions: deps.Impressions,
		fatigue:     deps.Fatigue,
		sender:      deps.Sender,
		modes:       deps.Modes,
		observer:    deps.Observer,
		tools:       deps.Tools,
		draw:        deps.Draw,
		sessions:    map[string]*session{},
	}
}

// Enter opens a fresh focus session for group. It runs under the group's lane
// right after the switch into Focused.
func (m *Manager) Enter(group *state.GroupState, now time.Time) {
	seed := analyzeWorkingMemory(Snapshot{Context: group.Recent(0)}).TopicTerms
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[group.GroupID] = &session{epoch: group.FocusEpoch, enteredAt: now, seed: seed}
	m.logger.Info("focus session opened", "group_id", group.GroupID, "focus_epoch", group.FocusEpoch, "topic_terms", strings.Join(seed, ","))
}

func (m *Manager) Forget(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, groupID)
}

func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = map[string]*session{}
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Handle runs Observe, Process, Plan and Act for one message of a focused
// group and fills in base. The message must already be recorded in the
// group's context.
func (m *Manager) Handle(ctx context.Context, msg chat.Message, group *state.GroupState, base chat.Decision, now time.Time) chat.Decision {
	snap, conversant := m.observe(msg, group, now)
	analysis := m.process(ctx, snap)

	heat := group.Heat(now, m.cfg.HeatWindow)
	key := m.cfg.FatigueKey(group.GroupID, msg.SenderID)
	allowed := m.fatigue.CheckAllowed(key, now)
	result := m.calc.Focused(willingness.FocusedInput{
		Baseline:       conversant.Baseline,
		BaselineAt:     conversant.BaselineAt,
		Heat:           heat,
		Turns:          conversant.Turns,
		Frequency:      conversant.Frequency,
		Impression:     analysis.Impression,
		FatigueLoad:    m.fatigue.Load(key, now),
		FatigueAllowed: allowed,
		Now:            now,
	})
	plan := m.plan(result, analysis)

	decision := base
	decision.MessageID = msg.ID
	decision.GroupID = group.GroupID
	decision.UserID = msg.SenderID
	decision.Mode = chat.ModeFocused
	decision.Willingness = result.Willingness
	decision.FatigueAllowed = allowed
	decision.Reason = result.Reason
	decision.Components = result.Components
	m.act(plan, &decision, msg, group, conversant, result, analysis, key, now)
	return decision
}

func (m *Manager) observe(msg chat.Message, group *state.GroupState, now time.Time) (Snapshot, *state.ConversantState) {
	conversant := group.Conversant(msg.SenderID, m.cfg.FocusedBase, now)
	conversant.NoteMessage(now)

	m.mu.Lock()
	current, ok := m.sessions[group.GroupID]
	m.mu.Unlock()
	if !ok || current.epoch != group.FocusEpoch {
		m.Enter(group, now)
		m.mu.Lock()
		current = m.sessions[group.GroupID]
		m.mu.Unlock()
	}

	snap := Snapshot{
		Message:    msg,
		Context:    group.Recent(1),
		Seed:       append([]string(nil), current.seed...),
		GroupID:    group.GroupID,
		UserID:     msg.SenderID,
		FocusTurns: group.FocusTurns,
		Turns:      conversant.Turns,
		Frequency:  conversant.Frequency,
	}
	return snap, conversant
}

func (m *Manager) process(ctx context.Context, snap Snapshot) Analysis {
	analysis := Analysis{
		Memory:   neutralMemory(),
		Style:    neutralStyle(),
		Outcomes: map[string]string{},
	}
	var memoryOutcome, impressionOutcome, toolsOutcome, styleOutcome string
	timeout := m.cfg.AnalyzerTimeout

	fanout, fanoutCtx := errgroup.WithContext(ctx)
	fanout.Go(func() error {
		started := time.Now()
		analysis.Memory, memoryOutcome = runAnalyzer(fanoutCtx, timeout, neutralMemory(), func(context.Context) (WorkingMemory, error) {
			return analyzeWorkingMemory(snap), nil
		})
		m.observeAnalyzer(AnalyzerMemory, memoryOutcome, time.Since(started))
		return nil
	})
	fanout.Go(func() error {
		started := time.Now()
		analysis.Impression, impressionOutcome = runAnalyzer(fanoutCtx, timeout, impression.Score{}, func(runCtx context.Context) (impression.Score, error) {
			return impression.Lookup(runCtx, m.impressions, m.cfg.ImpressionTimeout, snap.UserID, snap.GroupID), nil
		})
		if impressionOutcome == OutcomeOK && !analysis.Impression.Available {
			impressionOutcome = "unavailable"
		}
		m.observeAnalyzer(AnalyzerImpression, impressionOutcome, time.Since(started))
		return nil
	})
	fanout.Go(func() error {
		started := time.Now()
		analysis.Tools, toolsOutcome = runAnalyzer(fanoutCtx, timeout, ToolNeeds{}, func(runCtx context.Context) (ToolNeeds, error) {
			return m.toolNeeds(runCtx, snap)
		})
		m.observeAnalyzer(AnalyzerTools, toolsOutcome, time.Since(started))
		return nil
	})
	fanout.Go(func() error {
		started := time.Now()
		analysis.Style, styleOutcome = runAnalyzer(fanoutCtx, timeout, neutralStyle(), func(context.Context) (ExpressionStyle, error) {
			return analyzeStyle(snap), nil
		})
		m.observeAnalyzer(AnalyzerStyle, styleOutcome, time.Since(started))
		return nil
	})
	_ = fanout.Wait()

	analysis.Outcomes[AnalyzerMemory] = memoryOutcome
	analysis.Outcomes[AnalyzerImpression] = impressionOutcome
	analysis.Outcomes[AnalyzerTools] = toolsOutcome
	analysis.Outcomes[AnalyzerStyle] = styleOutcome

	m.mu.Lock()
	for name, outcome := range analysis.Outcomes {
		switch outcome {
		case OutcomeTimeout:
			m.stats.AnalyzerTimeouts++
			m.logger.Warn("analyzer timed out", "group_id", snap.GroupID, "analyzer", name)
		case OutcomeFailed:
			m.stats.AnalyzerFailures++
			m.logger.Warn("analyzer failed", "group_id", snap.GroupID, "analyzer", name)
		}
	}
	m.mu.Unlock()
	return analysis
}

// toolNeeds checks the message against the discovered tool set when tool
// servers are configured, and against the static capability list otherwise.
func (m *Manager) toolNeeds(ctx context.Context, snap Snapshot) (ToolNeeds, error) {
	if m.tools == nil || !m.tools.Configured() {
		return analyzeTools(snap, m.cfg.ToolCapabilities, nil), nil
	}
	names, err := m.tools.ToolNames(ctx)
	if err != nil {
		return ToolNeeds{}, err
	}
	available := make(map[string]struct{}, len(names))
	for _, name := range names {
		available[interest.Normalize(name)] = struct{}{}
	}
	candidates := make([]string, 0, len(m.cfg.ToolCapabilities)+len(names))
	candidates = append(candidates, m.cfg.ToolCapabilities...)
	candidates = append(candidates, names...)
	return analyzeTools(snap, candidates, available), nil
}

func (m *Manager) observeAnalyzer(name, outcome string, took time.Duration) {
	if m.observer != nil {
		m.observer.ObserveAnalyzer(name, outcome, took)
	}
}

func (m *Manager) plan(result willingness.Result, analysis Analysis) Plan {
	switch {
	case result.Reason == willingness.ReasonFatigueVeto:
		return Plan{Kind: PlanRequestTransition, Target: chat.ModeClassic, Reason: ReasonFatigueRest}
	case !result.Responds():
		return Plan{Kind: PlanSkip, Reason: result.Reason}
	}
	delay := m.cfg.Typing.Delay(analysis.Style.DelayScale, m.draw)
	if delay <= 0 {
		return Plan{Kind: PlanRespondNow, Reason: result.Reason}
	}
	return Plan{Kind: PlanRespondWithDelay, Delay: delay, Reason: result.Reason}
}

func (m *Manager) act(plan Plan, decision *chat.Decision, msg chat.Message, group *state.GroupState, conversant *state.ConversantState, result willingness.Result, analysis Analysis, fatigueKey string, now time.Time) {
	conversant.Baseline = result.Baseline
	conversant.BaselineAt = now

	m.mu.Lock()
	m.stats.Processed++
	m.mu.Unlock()

	switch plan.Kind {
	case PlanRespondNow, PlanRespondWithDelay:
		decision.Kind = chat.DecisionRespond
		if plan.Kind == PlanRespondWithDelay {
			decision.Kind = chat.DecisionDefer
			decision.Delay = plan.Delay
		}
		if m.sender != nil {
			if err := m.sender.SendReply(chat.Reply{
				DecisionID: decision.ID,
				GroupID:    group.GroupID,
				ReplyTo:    msg.ID,
				UserID:     msg.SenderID,
				Mode:       chat.ModeFocused,
				Delay:      plan.Delay,
				Hints:      hints(analysis, result),
			}); err != nil {
				m.logger.Warn("reply dispatch failed", "group_id", group.GroupID, "message_id", msg.ID, "error", err)
			}
		}
		m.fatigue.RecordReply(fatigueKey, now)
		conversant.Turns++
		conversant.LastReplyAt = now
		group.FocusTurns++
		m.mu.Lock()
		m.stats.RepliesPlanned++
		m.mu.Unlock()
	case PlanRequestTransition:
		decision.Kind = chat.DecisionSkip
		if m.modes != nil {
			if transition, ok := m.modes.Request(group, plan.Target, plan.Reason, now); ok {
				decision.TransitionTo = transition.To
			}
		}
		m.mu.Lock()
		m.stats.RestRequests++
		m.stats.Skips++
		m.mu.Unlock()
	default:
		decision.Kind = chat.DecisionSkip
		m.mu.Lock()
		m.stats.Skips++
		m.mu.Unlock()
	}
}

// hints carries the analyzer output the adapter may use to render a reply.
func hints(analysis Analysis, result willingness.Result) map[string]string {
	out := map[string]string{
		"willingness": strconv.FormatFloat(result.Willingness, 'f', 3, 64),
		"continuity":  strconv.FormatFloat(analysis.Memory.Continuity, 'f', 3, 64),
		"style_speed": strconv.FormatFloat(analysis.Style.CharsPerSecond, 'f', 1, 64),
	}
	if len(analysis.Memory.TopicTerms) > 0 {
		out["topic_terms"] = strings.Join(analysis.Memory.TopicTerms, ",")
	}
	if analysis.Impression.Available {
		out["impression"] = strconv.FormatFloat(analysis.Impression.Value, 'f', 3, 64)
	}
	if analysis.Tools.Needed {
		out["tools_needed"] = "true"
		if len(analysis.Tools.Matched) > 0 {
			out["tools"] = strings.Join(analysis.Tools.Matched, ",")
		}
		if len(analysis.Tools.Unavailable) > 0 {
			out["tools_unavailable"] = strings.Join(analysis.Tools.Unavailable, ",")
		}
	}
	return out
}
