package interaction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/dispatch"
	"github.com/dwizi/lurker/internal/fatigue"
	"github.com/dwizi/lurker/internal/focus"
	"github.com/dwizi/lurker/internal/interest"
	"github.com/dwizi/lurker/internal/mode"
	"github.com/dwizi/lurker/internal/state"
	"github.com/dwizi/lurker/internal/willingness"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSender struct {
	mu      sync.Mutex
	replies []chat.Reply
	panics  bool
}

func (s *recordingSender) SendReply(reply chat.Reply) error {
	if s.panics {
		panic("sender exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

type denyList map[string]bool

func (d denyList) Allowed(groupID string) bool {
	return !d[groupID]
}

type collectingObserver struct {
	mu        sync.Mutex
	decisions []chat.Decision
}

func (o *collectingObserver) ObserveDecision(decision chat.Decision, _ chat.InterestScore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, decision)
}

type harness struct {
	manager *Manager
	store   *state.Store
	fatigue *fatigue.System
	sender  *recordingSender
	clock   *clock
}

type harnessOptions struct {
	filter             GroupFilter
	consecutivePenalty float64
	mentionBonus       float64
}

func newHarness(t *testing.T, opts harnessOptions) harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: baseTime}
	store := state.NewStore(state.Config{ClassicBaseline: 0.3, ContextWindow: 10})
	fatigueSystem := fatigue.New(fatigue.Config{
		MaxRepliesInSession: 100,
		DecayPerSecond:      0.0167,
		ResetInterval:       6 * time.Hour,
		RecoveryTime:        5 * time.Minute,
	})
	evaluator := interest.New(interest.Config{
		KeywordWeight:  1,
		TriggerTerms:   []string{"deploy", "outage"},
		BotID:          "bot",
		BotNames:       []string{"lurker"},
		HeatWindow:     5 * time.Minute,
		HeatSaturation: 5,
	})
	modes := mode.New(mode.Config{
		FocusedChatThreshold:     0.7,
		ReengageThreshold:        0.4,
		Cooldown:                 30 * time.Second,
		FocusedSustainHeat:       0,
		FocusedExitMessages:      3,
		FocusTimeout:             5 * time.Minute,
		ObservationModeThreshold: 0.4,
		ObservationWindow:        5 * time.Minute,
		HeatWindow:               5 * time.Minute,
	})
	mentionBonus := opts.mentionBonus
	if mentionBonus == 0 {
		mentionBonus = 0.4
	}
	calc := willingness.New(willingness.Config{
		BaseProbability:         0.3,
		WillingnessThreshold:    0.2,
		MaxConsecutiveResponses: 3,
		MentionBonus:            mentionBonus,
		TopicBonus:              0.5,
		ConsecutivePenalty:      opts.consecutivePenalty,
		DecayRate:               0.99,
		RecoveryRate:            0.8,
		Multiplier:              1,
		FocusedBase:             0.4,
		HeatWeight:              0.3,
		HeatSaturation:          5,
		ContinuityWeight:        0.5,
		FrequencyWeight:         0.2,
		FrequencySaturation:     2,
		FocusedFatigueThreshold: 5,
	}, fixedDraw(0))
	sender := &recordingSender{}
	focusManager := focus.New(focus.Config{
		AnalyzerTimeout:   time.Second,
		ImpressionTimeout: 100 * time.Millisecond,
		FocusedBase:       0.4,
		HeatWindow:        5 * time.Minute,
		FatigueKey:        fatigue.KeyFunc("group"),
	}, focus.Dependencies{
		Calculator: calc,
		Fatigue:    fatigueSystem,
		Sender:     sender,
		Modes:      modes,
	}, logger)

	manager := New(Config{
		BotID:                  "bot",
		InterestThreshold:      0.5,
		HeatWindow:             5 * time.Minute,
		FatigueScope:           "group",
		Typing:                 dispatch.Typing{},
		GroupIdleEviction:      time.Hour,
		ConversantIdleEviction: 30 * time.Minute,
	}, Dependencies{
		Store:      store,
		Interest:   evaluator,
		Modes:      modes,
		Calculator: calc,
		Focus:      focusManager,
		Fatigue:    fatigueSystem,
		Sender:     sender,
		Filter:     opts.filter,
		Now:        clk.Now,
	}, logger)
	return harness{manager: manager, store: store, fatigue: fatigueSystem, sender: sender, clock: clk}
}

func mention(id string) chat.Message {
	return chat.Message{ID: id, GroupID: "g1", SenderID: "u1", Text: "hey @lurker"}
}

func TestTriggeringMessageIsDecidedUnderFocusedMode(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	decision := h.manager.OnMessage(context.Background(), chat.Message{ID: "m1", GroupID: "g1", SenderID: "u1", Text: "is the deploy outage fixed?"})

	if decision.Mode != chat.ModeFocused {
		t.Fatalf("expected the triggering message to be decided in focused mode, got %s (%s)", decision.Mode, decision.Reason)
	}
	group, ok := h.store.Get("g1")
	if !ok || group.Mode != chat.ModeFocused {
		t.Fatal("expected the group to be focused")
	}
	if decision.Interest < 0.7 {
		t.Fatalf("expected high interest, got %v", decision.Interest)
	}
	if decision.TransitionTo != chat.ModeFocused {
		t.Fatalf("expected the decision to record the focused transition, got %q", decision.TransitionTo)
	}
	if _, ok := decision.Components["heat"]; !ok {
		t.Fatalf("expected focused willingness terms, got %v", decision.Components)
	}
}

func TestGroupFilterSkipsWithoutState(t *testing.T) {
	h := newHarness(t, harnessOptions{filter: denyList{"blocked": true}})
	decision := h.manager.OnMessage(context.Background(), chat.Message{ID: "m1", GroupID: "blocked", SenderID: "u1", Text: "hey @lurker"})
	if decision.Kind != chat.DecisionSkip || decision.Reason != ReasonGroupFiltered {
		t.Fatalf("expected filtered skip, got %s (%s)", decision.Kind, decision.Reason)
	}
	if h.store.Len() != 0 {
		t.Fatalf("expected no state for filtered group, got %d groups", h.store.Len())
	}
}

func TestOwnMessagesCountTowardHeatOnly(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	decision := h.manager.OnMessage(context.Background(), chat.Message{ID: "m1", GroupID: "g1", SenderID: "bot", Text: "hello"})
	if decision.Reason != ReasonOwnMessage {
		t.Fatalf("expected own message skip, got %s", decision.Reason)
	}
	group, _ := h.store.Get("g1")
	if group.Heat(baseTime, 5*time.Minute) == 0 {
		t.Fatal("expected own message to count toward heat")
	}
}

func TestBelowInterestGateResetsStreak(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), mention("m1"))
	group, _ := h.store.Get("g1")
	if group.ConsecutiveReplies != 1 {
		t.Fatalf("expected one consecutive reply, got %d", group.ConsecutiveReplies)
	}
	decision := h.manager.OnMessage(context.Background(), chat.Message{ID: "m2", GroupID: "g1", SenderID: "u2", Text: "nice weather"})
	if decision.Reason != ReasonBelowInterest {
		t.Fatalf("expected interest gate, got %s", decision.Reason)
	}
	if group.ConsecutiveReplies != 0 {
		t.Fatalf("expected streak reset, got %d", group.ConsecutiveReplies)
	}
}

func TestClassicMentionRepliesAndRecordsFatigue(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	decision := h.manager.OnMessage(context.Background(), mention("m1"))
	if decision.Kind != chat.DecisionRespond || decision.Mode != chat.ModeClassic {
		t.Fatalf("expected classic reply, got %s in %s (%s)", decision.Kind, decision.Mode, decision.Reason)
	}
	if h.sender.count() != 1 {
		t.Fatalf("expected one reply intent, got %d", h.sender.count())
	}
	if load := h.fatigue.Load("g1", baseTime); load != 1 {
		t.Fatalf("expected fatigue load 1, got %v", load)
	}
	if _, ok := decision.Components["baseline"]; !ok {
		t.Fatalf("expected classic willingness terms, got %v", decision.Components)
	}
	if decision.TransitionTo != "" {
		t.Fatalf("expected no transition, got %q", decision.TransitionTo)
	}
}

func TestConcurrentMessagesAreSerializedPerGroup(t *testing.T) {
	h := newHarness(t, harnessOptions{mentionBonus: 1})
	const messages = 40

	var wg sync.WaitGroup
	for index := 0; index < messages; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.manager.OnMessage(context.Background(), mention(""))
		}()
	}
	wg.Wait()

	// Three replies, then a forced consecutive-limit skip, repeating.
	want := messages - messages/4
	if got := h.sender.count(); got != want {
		t.Fatalf("expected %d replies, got %d", want, got)
	}
	group, _ := h.store.Get("g1")
	if group.Stats.MessagesSeen != messages {
		t.Fatalf("expected %d messages seen, got %d", messages, group.Stats.MessagesSeen)
	}
}

func TestPanicResolvesToInternalErrorAndResetsGroup(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m0", GroupID: "g1", SenderID: "u1", Text: "nice weather"})
	before, _ := h.store.Get("g1")

	h.sender.panics = true
	decision := h.manager.OnMessage(context.Background(), mention("m1"))
	if decision.Kind != chat.DecisionSkip || decision.Reason != ReasonInternalError {
		t.Fatalf("expected internal error skip, got %s (%s)", decision.Kind, decision.Reason)
	}
	after, ok := h.store.Get("g1")
	if !ok || after == before {
		t.Fatal("expected group state to be re-initialized")
	}
	if after.Mode != chat.ModeClassic || after.Stats.MessagesSeen != 0 {
		t.Fatalf("expected fresh classic state, got %+v", after.Stats)
	}
}

func TestResetClearsAllState(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), mention("m1"))
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m2", GroupID: "g2", SenderID: "u1", Text: "hey @lurker"})

	h.manager.Reset()
	if h.store.Len() != 0 {
		t.Fatalf("expected no groups after reset, got %d", h.store.Len())
	}
	if records := h.fatigue.Snapshot(baseTime); len(records) != 0 {
		t.Fatalf("expected no fatigue records after reset, got %v", records)
	}
	if lanes := laneCount(h.manager); lanes != 0 {
		t.Fatalf("expected reset to drop lanes, got %d", lanes)
	}
}

func TestSweepEvictsIdleGroups(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), mention("m1"))

	h.clock.Advance(2 * time.Hour)
	report := h.manager.Sweep(h.clock.Now())
	if len(report.EvictedGroups) != 1 || report.EvictedGroups[0] != "g1" {
		t.Fatalf("expected g1 evicted, got %+v", report)
	}
	if _, ok := h.store.Get("g1"); ok {
		t.Fatal("expected g1 state removed")
	}
	if _, ok := h.fatigue.Get("g1", h.clock.Now()); ok {
		t.Fatal("expected g1 fatigue removed")
	}
	if lanes := laneCount(h.manager); lanes != 0 {
		t.Fatalf("expected evicted group lane dropped, got %d lanes", lanes)
	}

	decision := h.manager.OnMessage(context.Background(), mention("m2"))
	if decision.Mode != chat.ModeClassic {
		t.Fatalf("expected recreated group in classic, got %s", decision.Mode)
	}
}

func TestSweepKeepsGroupsActiveSinceIdleScan(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), mention("m1"))
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m2", GroupID: "g2", SenderID: "u1", Text: "hey @lurker"})

	h.clock.Advance(2 * time.Hour)
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m3", GroupID: "g2", SenderID: "u1", Text: "still here @lurker"})
	report := h.manager.Sweep(h.clock.Now())
	if len(report.EvictedGroups) != 1 || report.EvictedGroups[0] != "g1" {
		t.Fatalf("expected only g1 evicted, got %+v", report.EvictedGroups)
	}
	if _, ok := h.store.Get("g2"); !ok {
		t.Fatal("expected active g2 to survive the sweep")
	}
	if lanes := laneCount(h.manager); lanes != 1 {
		t.Fatalf("expected one live lane, got %d", lanes)
	}
}

func TestMessageWaitingOnRetiredLaneTakesCurrentLane(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), mention("m1"))

	stale := h.manager.lane("g1")
	stale.Lock()
	done := make(chan chat.Decision, 1)
	go func() {
		done <- h.manager.OnMessage(context.Background(), mention("m2"))
	}()
	time.Sleep(10 * time.Millisecond)
	h.manager.retireLane("g1", stale)
	stale.Unlock()

	select {
	case decision := <-done:
		if decision.Reason == ReasonInternalError {
			t.Fatalf("unexpected decision %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("message stuck behind a retired lane")
	}
	if current := h.manager.lane("g1"); current == stale {
		t.Fatal("expected a fresh lane after retirement")
	}
}

func TestGroupStatusForUnknownGroupLeavesNoLane(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	if _, ok := h.manager.GroupStatus("ghost"); ok {
		t.Fatal("expected unknown group to be absent")
	}
	if lanes := laneCount(h.manager); lanes != 0 {
		t.Fatalf("expected no lanes, got %d", lanes)
	}
}

func TestObserversReceiveEveryDecision(t *testing.T) {
	h := newHarness(t, harnessOptions{filter: denyList{"blocked": true}})
	observer := &collectingObserver{}
	h.manager.AddObserver(observer)

	h.manager.OnMessage(context.Background(), mention("m1"))
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m2", GroupID: "blocked", Text: "x"})
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m3", Text: "no group"})

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.decisions) != 3 {
		t.Fatalf("expected three observed decisions, got %d", len(observer.decisions))
	}
	for _, decision := range observer.decisions {
		if decision.ID == "" || decision.Kind == "" {
			t.Fatalf("expected complete decision, got %+v", decision)
		}
	}
}

func TestGroupStatusReportsConversantsAndHistory(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.manager.OnMessage(context.Background(), chat.Message{ID: "m1", GroupID: "g1", SenderID: "u1", Text: "is the deploy outage fixed?"})

	status, ok := h.manager.GroupStatus("g1")
	if !ok {
		t.Fatal("expected g1 status")
	}
	if status.Mode != chat.ModeFocused || len(status.History) != 1 {
		t.Fatalf("expected focused group with one mode change, got %s / %v", status.Mode, status.History)
	}
	if len(status.Conversants) != 1 || status.Conversants[0].UserID != "u1" {
		t.Fatalf("expected u1 conversant, got %+v", status.Conversants)
	}
	if status.Stats.MessagesSeen != 1 || status.Heat <= 0 {
		t.Fatalf("unexpected group counters %+v heat=%v", status.Stats, status.Heat)
	}
	if _, ok := h.manager.GroupStatus("missing"); ok {
		t.Fatal("expected unknown group to be absent")
	}

	overall := h.manager.Status()
	if len(overall.Groups) != 1 || overall.Groups[0].Conversants != nil {
		t.Fatalf("expected summary view without conversants, got %+v", overall.Groups)
	}
	if overall.Focus.Processed != 1 {
		t.Fatalf("expected focus stats, got %+v", overall.Focus)
	}
}

func fixedDraw(value float64) func() float64 {
	return func() float64 { return value }
}

func laneCount(manager *Manager) int {
	manager.lanesMu.Lock()
	defer manager.lanesMu.Unlock()
	return len(manager.lanes)
}
