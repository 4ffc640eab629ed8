package chat

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeObservation Mode = "observation"
	ModeClassic     Mode = "classic"
	ModeFocused     Mode = "focused"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeObservation, ModeClassic, ModeFocused:
		return true
	default:
		return false
	}
}

type DecisionKind string

const (
	DecisionRespond DecisionKind = "respond"
	DecisionSkip    DecisionKind = "skip"
	// DecisionDefer is a reply scheduled after a simulated typing delay.
	DecisionDefer DecisionKind = "defer"
)

// Message is one inbound group-chat message. It is never mutated after
// ingress normalizes it.
type Message struct {
	ID              string    `json:"id"`
	GroupID         string    `json:"group_id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Text            string    `json:"text"`
	Mentions        []string  `json:"mentions,omitempty"`
	ReplyTo         string    `json:"reply_to,omitempty"`
	ReplyToSenderID string    `json:"reply_to_sender_id,omitempty"`
	FromBot         bool      `json:"from_bot,omitempty"`
}

func (m Message) MentionsUser(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if strings.TrimSpace(mention) == userID {
			return true
		}
	}
	return false
}

const (
	ScoreKeyword = "keyword"
	ScoreContext = "context"
	ScoreSender  = "sender"
	ScoreTime    = "time"
)

type InterestScore struct {
	MessageID string             `json:"message_id"`
	Composite float64            `json:"composite"`
	Breakdown map[string]float64 `json:"breakdown"`
	Mentioned bool               `json:"mentioned"`
}

// Decision is the single outcome produced for every message. Components
// carries the willingness terms behind the score when one was computed.
type Decision struct {
	ID             string             `json:"id"`
	MessageID      string             `json:"message_id"`
	GroupID        string             `json:"group_id"`
	UserID         string             `json:"user_id"`
	Kind           DecisionKind       `json:"kind"`
	Mode           Mode               `json:"mode"`
	Delay          time.Duration      `json:"delay_ns,omitempty"`
	TransitionTo   Mode               `json:"transition_to,omitempty"`
	Willingness    float64            `json:"willingness"`
	Interest       float64            `json:"interest"`
	FatigueAllowed bool               `json:"fatigue_allowed"`
	Reason         string             `json:"reason"`
	Components     map[string]float64 `json:"components,omitempty"`
	DecidedAt      time.Time          `json:"decided_at"`
}

func (d Decision) Replies() bool {
	return d.Kind == DecisionRespond || d.Kind == DecisionDefer
}

// Clip bounds value to [low, high].
func Clip(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// Reply is a reply intent handed to the platform adapter. Content may be
// empty; the adapter renders the text from the hints.
type Reply struct {
	DecisionID string            `json:"decision_id"`
	GroupID    string            `json:"group_id"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Mode       Mode              `json:"mode"`
	Content    string            `json:"content,omitempty"`
	Delay      time.Duration     `json:"delay_ns,omitempty"`
	Hints      map[string]string `json:"hints,omitempty"`
}
