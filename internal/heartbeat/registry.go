package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	OverallIdle    = "idle"
	OverallUnknown = "unknown"
)

// Reporter is how long-running components announce their liveness.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type component struct {
	state     string
	message   string
	err       string
	lastBeat  time.Time
	updatedAt time.Time
}

// Registry holds the last reported state of every component. A healthy or
// starting component that stops beating is reported stale.
type Registry struct {
	now func() time.Time

	mu         sync.RWMutex
	components map[string]component
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(nil)
}

func NewRegistryWithClock(now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{now: now, components: map[string]component{}}
}

func (r *Registry) Starting(name, message string) {
	r.update(name, StateStarting, message, nil, false)
}

func (r *Registry) Beat(name, message string) {
	r.update(name, StateHealthy, message, nil, true)
}

func (r *Registry) Degrade(name, message string, err error) {
	r.update(name, StateDegraded, message, err, false)
}

func (r *Registry) Disabled(name, message string) {
	r.update(name, StateDisabled, message, nil, false)
}

func (r *Registry) Stopped(name, message string) {
	r.update(name, StateStopped, message, nil, false)
}

func (r *Registry) update(name, state, message string, err error, beat bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.state = state
	record.message = strings.TrimSpace(message)
	record.err = ""
	if err != nil {
		record.err = err.Error()
	}
	record.updatedAt = now
	if beat || record.lastBeat.IsZero() {
		record.lastBeat = now
	}
	r.components[name] = record
}

func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          record.state,
			Message:        record.message,
			Error:          record.err,
			LastBeatAtUnix: record.lastBeat.Unix(),
			UpdatedAtUnix:  record.updatedAt.Unix(),
		}
		live := record.state == StateHealthy || record.state == StateStarting
		if staleAfter > 0 && live && now.Sub(record.lastBeat) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(items),
		Components:      items,
	}
}

// Ready reports whether every named component is healthy and fresh.
func (r *Registry) Ready(staleAfter time.Duration, required ...string) (bool, []string) {
	snapshot := r.Snapshot(staleAfter)
	states := make(map[string]string, len(snapshot.Components))
	for _, item := range snapshot.Components {
		states[item.Name] = item.State
	}
	var missing []string
	for _, name := range required {
		name = strings.ToLower(strings.TrimSpace(name))
		if states[name] != StateHealthy {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

func IsDegradedState(state string) bool {
	return state == StateDegraded || state == StateStale
}

func overall(items []ComponentStatus) string {
	if len(items) == 0 {
		return OverallUnknown
	}
	starting, healthy := false, false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateHealthy:
			healthy = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case healthy:
		return StateHealthy
	default:
		return OverallIdle
	}
}
