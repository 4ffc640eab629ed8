package willingness

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/impression"
	"github.com/dwizi/lurker/internal/state"
)

const (
	ReasonConsecutiveLimit = "consecutive_limit"
	ReasonBelowThreshold   = "below_willingness_threshold"
	ReasonFatigueVeto      = "fatigue_veto"
	ReasonSampledRespond   = "sampled_respond"
	ReasonSampledSkip      = "sampled_skip"
)

type Config struct {
	BaseProbability         float64
	WillingnessThreshold    float64
	MaxConsecutiveResponses int
	MentionBonus            float64
	TopicBonus              float64
	ConsecutivePenalty      float64
	DecayRate               float64
	RecoveryRate            float64
	Multiplier              float64

	FocusedBase             float64
	HeatWeight              float64
	HeatSaturation          float64
	ContinuityWeight        float64
	FrequencyWeight         float64
	FrequencySaturation     float64
	MemoryInfluenceWeight   float64
	EnableMemory            bool
	FocusedFatigueThreshold float64
}

// Calculator turns signals into a respond/skip draw. It holds no state of
// its own; baselines are read from and written back to the caller's state.
type Calculator struct {
	cfg  Config
	draw func() float64
}

// New builds a Calculator. draw returns values in [0,1); nil uses math/rand.
func New(cfg Config, draw func() float64) *Calculator {
	if draw == nil {
		draw = rand.Float64
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	if cfg.HeatSaturation <= 0 {
		cfg.HeatSaturation = 5
	}
	if cfg.FrequencySaturation <= 0 {
		cfg.FrequencySaturation = 2
	}
	return &Calculator{cfg: cfg, draw: draw}
}

type Result struct {
	Kind        chat.DecisionKind
	Willingness float64
	Reason      string
	// Baseline is the recovered baseline, already decayed when Kind is Respond.
	Baseline   float64
	Components map[string]float64
}

func (r Result) Responds() bool {
	return r.Kind == chat.DecisionRespond
}

type ClassicInput struct {
	Baseline           float64
	BaselineAt         time.Time
	Mentioned          bool
	Interest           float64
	ConsecutiveReplies int
	Now                time.Time
}

// Classic is the group-wide path used in Classic and Observation modes.
func (c *Calculator) Classic(in ClassicInput) Result {
	baseline := state.RecoverBaseline(in.Baseline, c.cfg.BaseProbability, in.BaselineAt, in.Now, c.cfg.RecoveryRate)
	components := map[string]float64{
		"baseline":    baseline,
		"mention":     0,
		"topic":       c.cfg.TopicBonus * chat.Clip(in.Interest, 0, 1),
		"consecutive": -c.cfg.ConsecutivePenalty * float64(in.ConsecutiveReplies),
	}
	if in.Mentioned {
		components["mention"] = c.cfg.MentionBonus
	}
	raw := components["baseline"] + components["mention"] + components["topic"] + components["consecutive"]
	willingness := chat.Clip(raw*c.cfg.Multiplier, 0, 1)

	result := Result{Willingness: willingness, Baseline: baseline, Components: components}
	if c.cfg.MaxConsecutiveResponses > 0 && in.ConsecutiveReplies >= c.cfg.MaxConsecutiveResponses {
		result.Kind = chat.DecisionSkip
		result.Reason = ReasonConsecutiveLimit
		return result
	}
	return c.sample(result)
}

type FocusedInput struct {
	Baseline       float64
	BaselineAt     time.Time
	Heat           float64
	Turns          int
	Frequency      float64
	Impression     impression.Score
	FatigueLoad    float64
	FatigueAllowed bool
	Now            time.Time
}

// Focused is the per-conversant path used while the group is in Focused mode.
func (c *Calculator) Focused(in FocusedInput) Result {
	baseline := state.RecoverBaseline(in.Baseline, c.cfg.FocusedBase, in.BaselineAt, in.Now, c.cfg.RecoveryRate)
	components := map[string]float64{
		"baseline":        baseline,
		"heat":            c.cfg.HeatWeight * math.Min(1, math.Max(0, in.Heat)/c.cfg.HeatSaturation),
		"continuity":      c.cfg.ContinuityWeight * math.Min(0.5, 0.1*float64(in.Turns)),
		"frequency":       c.cfg.FrequencyWeight * math.Min(1, math.Max(0, in.Frequency)/c.cfg.FrequencySaturation),
		"memory":          0,
		"fatigue_penalty": -c.fatiguePenalty(in.FatigueLoad),
	}
	if c.cfg.EnableMemory && in.Impression.Available {
		components["memory"] = c.cfg.MemoryInfluenceWeight * in.Impression.Value
	}
	var raw float64
	for _, value := range components {
		raw += value
	}
	willingness := chat.Clip(raw*c.cfg.Multiplier, 0, 1)

	result := Result{Willingness: willingness, Baseline: baseline, Components: components}
	if !in.FatigueAllowed {
		result.Kind = chat.DecisionSkip
		result.Reason = ReasonFatigueVeto
		return result
	}
	return c.sample(result)
}

func (c *Calculator) fatiguePenalty(load float64) float64 {
	if c.cfg.FocusedFatigueThreshold > 0 && load >= c.cfg.FocusedFatigueThreshold {
		return 0.5
	}
	return 0.05 * math.Max(0, load)
}

func (c *Calculator) sample(result Result) Result {
	if result.Willingness < c.cfg.WillingnessThreshold {
		result.Kind = chat.DecisionSkip
		result.Reason = ReasonBelowThreshold
		return result
	}
	if c.draw() < result.Willingness {
		result.Kind = chat.DecisionRespond
		result.Reason = ReasonSampledRespond
		result.Baseline *= c.cfg.DecayRate
		return result
	}
	result.Kind = chat.DecisionSkip
	result.Reason = ReasonSampledSkip
	return result
}
