package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	OnTransition func(context.Context, Transition)
}

// Monitor polls the registry and reports component state changes, including
// components going stale.
type Monitor struct {
	registry     *Registry
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	onTransition func(context.Context, Transition)
}

func NewMonitor(registry *Registry, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:     registry,
		interval:     cfg.Interval,
		staleAfter:   cfg.StaleAfter,
		logger:       logger.With("component", "heartbeat"),
		onTransition: cfg.OnTransition,
	}
}

func (m *Monitor) Name() string {
	return "heartbeat"
}

func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())

	previous := map[string]string{}
	for {
		m.check(ctx, previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) check(ctx context.Context, previous map[string]string) {
	for _, item := range m.registry.Snapshot(m.staleAfter).Components {
		before, seen := previous[item.Name]
		previous[item.Name] = item.State
		if !seen || before == item.State {
			continue
		}
		transition := Transition{
			Component: item.Name,
			FromState: before,
			ToState:   item.State,
			Message:   item.Message,
			Error:     item.Error,
		}
		level := slog.LevelInfo
		if IsDegradedState(item.State) {
			level = slog.LevelWarn
		}
		m.logger.Log(ctx, level, "component state changed",
			"component_name", transition.Component,
			"from_state", transition.FromState,
			"to_state", transition.ToState,
			"error", transition.Error,
		)
		if m.onTransition != nil {
			m.onTransition(ctx, transition)
		}
	}
}
