package mode

import (
	"testing"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/state"
)

var start = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		FocusedChatThreshold:     0.7,
		ReengageThreshold:        0.4,
		Cooldown:                 30 * time.Second,
		FocusedSustainHeat:       1.0,
		FocusedExitMessages:      3,
		FocusTimeout:             5 * time.Minute,
		ObservationModeThreshold: 0.4,
		ObservationWindow:        5 * time.Minute,
		HeatWindow:               5 * time.Minute,
	}
}

func newGroup() *state.GroupState {
	return state.NewStore(state.Config{ClassicBaseline: 0.3, ContextWindow: 10}).GetOrCreate("g1", start)
}

func score(value float64) chat.InterestScore {
	return chat.InterestScore{Composite: value}
}

func TestFocusedEntryScenario(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	group.FocusTurns = 7
	group.LastSwitchAt = start.Add(-time.Hour)

	entered := 0
	manager.OnEnterFocused(func(g *state.GroupState, now time.Time) {
		if g != group {
			t.Fatal("expected hook to receive the switching group")
		}
		entered++
	})
	var observed []Transition
	manager.OnTransition(func(transition Transition) {
		observed = append(observed, transition)
	})

	transition, ok := manager.Evaluate(group, chat.Message{ID: "m1"}, score(0.75), start)
	if !ok {
		t.Fatal("expected a transition")
	}
	if transition.From != chat.ModeClassic || transition.To != chat.ModeFocused || transition.Reason != ReasonInterestSpike {
		t.Fatalf("unexpected transition %+v", transition)
	}
	if group.Mode != chat.ModeFocused {
		t.Fatalf("expected focused mode, got %s", group.Mode)
	}
	if group.FocusTurns != 0 {
		t.Fatalf("expected turn counter reset, got %d", group.FocusTurns)
	}
	if group.FocusEpoch != 1 {
		t.Fatalf("expected focus epoch 1, got %d", group.FocusEpoch)
	}
	if !group.LastSwitchAt.Equal(start) {
		t.Fatalf("expected switch time recorded, got %s", group.LastSwitchAt)
	}
	if entered != 1 || len(observed) != 1 {
		t.Fatalf("expected hook and observer once, got %d and %d", entered, len(observed))
	}
	if len(group.History) != 1 || group.History[0].To != chat.ModeFocused {
		t.Fatalf("expected mode history entry, got %+v", group.History)
	}
}

func TestFreshGroupIsNeverCoolingDown(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	if manager.CoolingDown(group, start) {
		t.Fatal("expected fresh group to allow its first transition")
	}
	if _, ok := manager.Evaluate(group, chat.Message{}, score(0.9), start); !ok {
		t.Fatal("expected first transition to pass")
	}
}

func TestCooldownHoldsUnderBurst(t *testing.T) {
	cfg := testConfig()
	cfg.FocusedExitMessages = 1
	cfg.FocusedSustainHeat = 1000
	manager := New(cfg)
	group := newGroup()

	var switches []time.Time
	manager.OnTransition(func(transition Transition) {
		switches = append(switches, transition.At)
	})
	for index := 0; index < 200; index++ {
		now := start.Add(time.Duration(index) * time.Second)
		interest := 0.9
		if index%2 == 1 {
			interest = 0.1
		}
		manager.Evaluate(group, chat.Message{}, score(interest), now)
		manager.Request(group, chat.ModeClassic, "rest", now)
	}
	if len(switches) < 2 {
		t.Fatalf("expected the burst to cause several transitions, got %d", len(switches))
	}
	for index := 1; index < len(switches); index++ {
		if gap := switches[index].Sub(switches[index-1]); gap < cfg.Cooldown {
			t.Fatalf("transitions %d and %d only %s apart", index-1, index, gap)
		}
	}
}

func TestObservationNeverJumpsToFocused(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	group.RecordModeChange(state.ModeChange{From: chat.ModeClassic, To: chat.ModeObservation, At: start.Add(-time.Hour)})

	transition, ok := manager.Evaluate(group, chat.Message{}, score(1.0), start)
	if !ok {
		t.Fatal("expected reengagement")
	}
	if transition.To != chat.ModeClassic || transition.Reason != ReasonReengaged {
		t.Fatalf("expected observation to return to classic, got %+v", transition)
	}
	// The next high-interest message is still inside the cooldown.
	if _, ok := manager.Evaluate(group, chat.Message{}, score(1.0), start.Add(time.Second)); ok {
		t.Fatal("expected cooldown to block the second transition")
	}
	transition, ok = manager.Evaluate(group, chat.Message{}, score(1.0), start.Add(time.Minute))
	if !ok || transition.From != chat.ModeClassic || transition.To != chat.ModeFocused {
		t.Fatalf("expected classic to focused after cooldown, got %+v (%v)", transition, ok)
	}
	for index := 1; index < len(group.History); index++ {
		previous, current := group.History[index-1], group.History[index]
		if previous.To == chat.ModeObservation && current.To == chat.ModeFocused {
			t.Fatalf("observed observation to focused jump: %+v", group.History)
		}
	}
}

func TestObservationReengageNeedsThreshold(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	group.RecordModeChange(state.ModeChange{From: chat.ModeClassic, To: chat.ModeObservation, At: start.Add(-time.Hour)})
	if _, ok := manager.Evaluate(group, chat.Message{}, score(0.3), start); ok {
		t.Fatal("expected low interest to keep observation")
	}
}

func TestFocusedExitsAfterSustainedLowHeat(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	manager.Evaluate(group, chat.Message{}, score(0.9), start)

	var transition Transition
	var ok bool
	for index := 1; index <= 3; index++ {
		transition, ok = manager.Evaluate(group, chat.Message{}, score(0.5), start.Add(time.Duration(index)*2*time.Minute))
		if index < 3 && ok {
			t.Fatalf("expected no exit after only %d low heat messages", index)
		}
	}
	if !ok || transition.To != chat.ModeClassic || transition.Reason != ReasonSustainedCool {
		t.Fatalf("expected sustained low heat exit, got %+v (%v)", transition, ok)
	}
}

func TestFocusedTimesOutViaSweep(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	manager.Evaluate(group, chat.Message{}, score(0.9), start)

	if _, ok := manager.Sweep(group, start.Add(4*time.Minute)); ok {
		t.Fatal("expected focus to hold before timeout")
	}
	transition, ok := manager.Sweep(group, start.Add(6*time.Minute))
	if !ok || transition.Reason != ReasonFocusTimeout {
		t.Fatalf("expected focus timeout, got %+v (%v)", transition, ok)
	}
}

func TestRequestRespectsCooldown(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	manager.Evaluate(group, chat.Message{}, score(0.9), start)

	if _, ok := manager.Request(group, chat.ModeClassic, "fatigue_rest", start.Add(10*time.Second)); ok {
		t.Fatal("expected request inside cooldown to be refused")
	}
	transition, ok := manager.Request(group, chat.ModeClassic, "fatigue_rest", start.Add(time.Minute))
	if !ok || transition.Reason != "fatigue_rest" {
		t.Fatalf("expected honored rest request, got %+v (%v)", transition, ok)
	}
	if _, ok := manager.Request(group, chat.ModeFocused, "", start.Add(time.Hour)); ok {
		t.Fatal("expected requests outside the table to be refused")
	}
}

func TestClassicDropsToObservationAfterQuietWindow(t *testing.T) {
	manager := New(testConfig())
	group := newGroup()
	manager.Evaluate(group, chat.Message{}, score(0.1), start)
	if group.LowHeatFrom.IsZero() {
		t.Fatal("expected low heat marker to start")
	}
	if _, ok := manager.Sweep(group, start.Add(2*time.Minute)); ok {
		t.Fatal("expected classic to hold inside the window")
	}
	transition, ok := manager.Sweep(group, start.Add(6*time.Minute))
	if !ok || transition.To != chat.ModeObservation {
		t.Fatalf("expected observation after quiet window, got %+v (%v)", transition, ok)
	}
}
