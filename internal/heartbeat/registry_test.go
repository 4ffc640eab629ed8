package heartbeat

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSnapshotMarksSilentComponentStale(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	registry := NewRegistryWithClock(clock.Now)
	registry.Beat("dispatch", "ok")
	registry.Disabled("webhook", "no url")

	clock.Advance(3 * time.Minute)
	snapshot := registry.Snapshot(time.Minute)
	if snapshot.Overall != StateDegraded {
		t.Fatalf("expected degraded overall, got %s", snapshot.Overall)
	}
	if snapshot.Components[0].Name != "dispatch" || snapshot.Components[0].State != StateStale {
		t.Fatalf("expected stale dispatch, got %+v", snapshot.Components[0])
	}
	if snapshot.Components[1].State != StateDisabled {
		t.Fatalf("expected disabled components to never go stale, got %+v", snapshot.Components[1])
	}
}

func TestOverallIdleWhenNothingRuns(t *testing.T) {
	registry := NewRegistry()
	if got := registry.Snapshot(time.Minute).Overall; got != OverallUnknown {
		t.Fatalf("expected unknown for empty registry, got %s", got)
	}
	registry.Disabled("webhook", "no url")
	registry.Stopped("bridge", "stopped")
	if got := registry.Snapshot(time.Minute).Overall; got != OverallIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestReadyListsUnhealthyComponents(t *testing.T) {
	registry := NewRegistry()
	registry.Beat("dispatch", "ok")
	registry.Degrade("journal", "write failed", errors.New("disk full"))

	ready, missing := registry.Ready(time.Minute, "dispatch", "journal", "scheduler")
	if ready {
		t.Fatal("expected not ready")
	}
	if len(missing) != 2 || missing[0] != "journal" || missing[1] != "scheduler" {
		t.Fatalf("unexpected missing components %v", missing)
	}
	if ready, _ := registry.Ready(time.Minute, "dispatch"); !ready {
		t.Fatal("expected ready for healthy component")
	}
}
