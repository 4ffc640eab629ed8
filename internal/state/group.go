package state

import (
	"math"
	"time"

	"github.com/dwizi/lurker/internal/chat"
)

const modeHistoryLimit = 20

type ModeChange struct {
	From   chat.Mode `json:"from"`
	To     chat.Mode `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type Stats struct {
	MessagesSeen int `json:"messages_seen"`
	Replies      int `json:"replies"`
	Skips        int `json:"skips"`
}

func (s Stats) ReplyRate() float64 {
	if s.MessagesSeen == 0 {
		return 0
	}
	return float64(s.Replies) / float64(s.MessagesSeen)
}

// GroupState is owned by the interaction lane of its group. Callers must hold
// that lane while reading or mutating it.
type GroupState struct {
	GroupID string

	Mode         chat.Mode
	ModeEntered  time.Time
	LastSwitchAt time.Time
	History      []ModeChange

	// FocusEpoch increments on every entry into focused mode; conversant turn
	// counters tagged with an older epoch are stale.
	FocusEpoch  int
	FocusTurns  int
	FocusedAt   time.Time
	LowHeatRun  int
	LowHeatFrom time.Time
	// LastInterestAt is the last time a message reached the focused threshold.
	LastInterestAt time.Time

	ConsecutiveReplies int
	ClassicBaseline    float64
	BaselineAt         time.Time
	LastWillingness    float64
	LastDecisionAt     time.Time

	Stats         Stats
	SenderReplies map[string]int
	Conversants   map[string]*ConversantState

	arrivals     []time.Time
	recent       []chat.Message
	contextLimit int
	CreatedAt    time.Time
	LastActiveAt time.Time
}

type ConversantState struct {
	GroupID string
	UserID  string

	Baseline      float64
	BaselineAt    time.Time
	LastMessageAt time.Time
	LastReplyAt   time.Time
	Turns         int
	TurnEpoch     int
	// Frequency is an exponentially weighted estimate of messages per minute.
	Frequency float64
}

func newGroupState(groupID string, cfg Config, now time.Time) *GroupState {
	return &GroupState{
		GroupID:         groupID,
		Mode:            chat.ModeClassic,
		ModeEntered:     now,
		ClassicBaseline: cfg.ClassicBaseline,
		BaselineAt:      now,
		SenderReplies:   map[string]int{},
		Conversants:     map[string]*ConversantState{},
		contextLimit:    cfg.ContextWindow,
		CreatedAt:       now,
		LastActiveAt:    now,
	}
}

// Observe records an arriving message into the heat window and the recent
// context ring.
func (g *GroupState) Observe(msg chat.Message, now time.Time, heatWindow time.Duration) {
	g.arrivals = append(g.arrivals, now)
	g.pruneArrivals(now, heatWindow)
	g.recent = append(g.recent, msg)
	if limit := g.contextLimit; limit > 0 && len(g.recent) > limit {
		g.recent = append([]chat.Message(nil), g.recent[len(g.recent)-limit:]...)
	}
	g.LastActiveAt = now
	g.Stats.MessagesSeen++
}

// Heat is the message rate within window, in messages per minute.
func (g *GroupState) Heat(now time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	g.pruneArrivals(now, window)
	return float64(len(g.arrivals)) / window.Minutes()
}

func (g *GroupState) pruneArrivals(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := 0
	for keep < len(g.arrivals) && !g.arrivals[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		g.arrivals = append([]time.Time(nil), g.arrivals[keep:]...)
	}
}

// Recent returns the context ring excluding the newest n messages.
func (g *GroupState) Recent(excludeNewest int) []chat.Message {
	end := len(g.recent) - excludeNewest
	if end <= 0 {
		return nil
	}
	out := make([]chat.Message, end)
	copy(out, g.recent[:end])
	return out
}

func (g *GroupState) RecordModeChange(change ModeChange) {
	g.History = append(g.History, change)
	if len(g.History) > modeHistoryLimit {
		g.History = append([]ModeChange(nil), g.History[len(g.History)-modeHistoryLimit:]...)
	}
	g.Mode = change.To
	g.ModeEntered = change.At
	g.LastSwitchAt = change.At
	g.LowHeatRun = 0
	g.LowHeatFrom = time.Time{}
}

// Conversant returns the state for userID, creating it lazily.
func (g *GroupState) Conversant(userID string, baseline float64, now time.Time) *ConversantState {
	conversant, ok := g.Conversants[userID]
	if !ok {
		conversant = &ConversantState{
			GroupID:    g.GroupID,
			UserID:     userID,
			Baseline:   baseline,
			BaselineAt: now,
			TurnEpoch:  g.FocusEpoch,
		}
		g.Conversants[userID] = conversant
	}
	if conversant.TurnEpoch != g.FocusEpoch {
		conversant.Turns = 0
		conversant.TurnEpoch = g.FocusEpoch
	}
	return conversant
}

// NoteMessage updates the speaking-frequency estimate.
func (c *ConversantState) NoteMessage(now time.Time) {
	if !c.LastMessageAt.IsZero() {
		gap := now.Sub(c.LastMessageAt).Minutes()
		if gap > 0 {
			instant := 1 / gap
			c.Frequency = 0.7*c.Frequency + 0.3*math.Min(instant, 60)
		}
	}
	c.LastMessageAt = now
}

// RecoverBaseline moves a decayed baseline back toward target. rate is the
// fraction of the gap that remains after one minute.
func RecoverBaseline(baseline, target float64, since, now time.Time, rate float64) float64 {
	if since.IsZero() || !now.After(since) || baseline >= target {
		return baseline
	}
	minutes := now.Sub(since).Minutes()
	gap := (target - baseline) * math.Pow(rate, minutes)
	return target - gap
}
