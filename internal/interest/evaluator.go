package interest

import (
	"math"
	"strings"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/state"
)

type Config struct {
	KeywordWeight  float64
	ContextWeight  float64
	SenderWeight   float64
	TimeWeight     float64
	TriggerTerms   []string
	BotID          string
	BotNames       []string
	PriorityUsers  []string
	HeatWindow     time.Duration
	HeatSaturation float64
	Location       *time.Location
}

// Evaluator is the cheap first-pass gate run for every message.
type Evaluator struct {
	cfg      Config
	terms    []string
	names    []string
	priority map[string]struct{}
}

func New(cfg Config) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HeatSaturation <= 0 {
		cfg.HeatSaturation = 5
	}
	evaluator := &Evaluator{
		cfg:      cfg,
		priority: map[string]struct{}{},
	}
	for _, term := range cfg.TriggerTerms {
		if normalized := Normalize(term); normalized != "" {
			evaluator.terms = append(evaluator.terms, normalized)
		}
	}
	for _, name := range cfg.BotNames {
		if normalized := Normalize(name); normalized != "" {
			evaluator.names = append(evaluator.names, normalized)
			evaluator.terms = append(evaluator.terms, normalized)
		}
	}
	for _, user := range cfg.PriorityUsers {
		if trimmed := strings.TrimSpace(user); trimmed != "" {
			evaluator.priority[trimmed] = struct{}{}
		}
	}
	return evaluator
}

// Evaluate scores msg against the group context it arrives into. group must
// not yet contain msg.
func (e *Evaluator) Evaluate(msg chat.Message, group *state.GroupState, now time.Time) chat.InterestScore {
	text := Normalize(msg.Text)
	breakdown := map[string]float64{
		chat.ScoreKeyword: e.keywordScore(text),
		chat.ScoreContext: e.contextScore(msg, group),
		chat.ScoreSender:  e.senderScore(msg, group),
		chat.ScoreTime:    e.timeScore(group, now),
	}
	return chat.InterestScore{
		MessageID: msg.ID,
		Composite: e.Composite(breakdown),
		Breakdown: breakdown,
		Mentioned: e.Mentioned(msg),
	}
}

// Composite is the weight-normalized sum of the sub-scores, clipped to [0,1].
func (e *Evaluator) Composite(breakdown map[string]float64) float64 {
	weights := map[string]float64{
		chat.ScoreKeyword: e.cfg.KeywordWeight,
		chat.ScoreContext: e.cfg.ContextWeight,
		chat.ScoreSender:  e.cfg.SenderWeight,
		chat.ScoreTime:    e.cfg.TimeWeight,
	}
	var weighted, total float64
	for name, weight := range weights {
		if weight <= 0 {
			continue
		}
		weighted += weight * chat.Clip(breakdown[name], 0, 1)
		total += weight
	}
	if total == 0 {
		return 0
	}
	return chat.Clip(weighted/total, 0, 1)
}

// Mentioned reports whether the message addresses the bot directly.
func (e *Evaluator) Mentioned(msg chat.Message) bool {
	botID := strings.TrimSpace(e.cfg.BotID)
	if botID != "" {
		if msg.MentionsUser(botID) || strings.TrimSpace(msg.ReplyToSenderID) == botID {
			return true
		}
	}
	text := Normalize(msg.Text)
	for _, name := range e.names {
		if strings.Contains(text, "@"+name) {
			return true
		}
	}
	return false
}

func (e *Evaluator) keywordScore(text string) float64 {
	hits := 0
	for _, term := range e.terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	termScore := math.Min(1, float64(hits)/2)
	return chat.Clip(0.7*termScore+0.3*TypeScore(Classify(text)), 0, 1)
}

func (e *Evaluator) contextScore(msg chat.Message, group *state.GroupState) float64 {
	botID := strings.TrimSpace(e.cfg.BotID)
	if botID != "" && strings.TrimSpace(msg.ReplyToSenderID) == botID {
		return 1
	}
	if group == nil {
		return 0.5
	}
	recent := group.Recent(0)
	if len(recent) == 0 {
		return 0.5
	}
	tokens := Tokens(msg.Text)
	if len(tokens) == 0 {
		return 0
	}
	contextTerms := map[string]struct{}{}
	for _, previous := range recent {
		for _, token := range Tokens(previous.Text) {
			contextTerms[token] = struct{}{}
		}
	}
	shared := 0
	for _, token := range tokens {
		if _, ok := contextTerms[token]; ok {
			shared++
		}
	}
	return chat.Clip(float64(shared)/float64(len(tokens)), 0, 1)
}

func (e *Evaluator) senderScore(msg chat.Message, group *state.GroupState) float64 {
	if _, ok := e.priority[strings.TrimSpace(msg.SenderID)]; ok {
		return 1
	}
	replies := 0
	if group != nil {
		replies = group.SenderReplies[msg.SenderID]
	}
	return chat.Clip(0.3+0.4*math.Min(1, float64(replies)/5), 0, 1)
}

func (e *Evaluator) timeScore(group *state.GroupState, now time.Time) float64 {
	liveness := 0.0
	if group != nil {
		liveness = math.Min(1, group.Heat(now, e.cfg.HeatWindow)/e.cfg.HeatSaturation)
	}
	return chat.Clip(0.5*TimeOfDayScore(now.In(e.cfg.Location).Hour())+0.5*liveness, 0, 1)
}

// TimeOfDayScore weights the local hour by how lively chats usually are.
func TimeOfDayScore(hour int) float64 {
	switch {
	case hour >= 9 && hour < 12:
		return 0.7
	case hour >= 14 && hour < 18:
		return 0.8
	case hour >= 19 && hour <= 23:
		return 0.9
	case hour >= 0 && hour < 6:
		return 0.4
	default:
		return 0.5
	}
}
