package dispatch

import "time"

// Typing describes the simulated typing delay put in front of replies.
type Typing struct {
	Enabled bool
	Min     time.Duration
	Max     time.Duration
}

// Delay draws a delay from [Min, Max] and scales it by the group's expression
// style. A disabled simulation always answers immediately.
func (t Typing) Delay(scale float64, draw func() float64) time.Duration {
	if !t.Enabled || t.Max <= 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	low, high := t.Min, t.Max
	if low < 0 {
		low = 0
	}
	if high < low {
		high = low
	}
	value := 0.5
	if draw != nil {
		value = draw()
	}
	base := float64(low) + value*float64(high-low)
	return time.Duration(base * scale).Round(time.Millisecond)
}
