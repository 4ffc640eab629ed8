package fatigue

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestSystem() *System {
	return New(Config{
		MaxRepliesInSession: 3,
		DecayPerSecond:      0.1,
		ResetInterval:       6 * time.Hour,
		RecoveryTime:        5 * time.Minute,
	})
}

func TestRecordReplyIncrementsCounter(t *testing.T) {
	system := newTestSystem()
	system.RecordReply("g1", baseTime)
	system.RecordReply("g1", baseTime)

	if load := system.Load("g1", baseTime); load != 2 {
		t.Fatalf("expected load 2, got %v", load)
	}
	if !system.CheckAllowed("g1", baseTime) {
		t.Fatal("expected entity below threshold to be allowed")
	}
}

func TestDecayIsLinearAndFloored(t *testing.T) {
	system := newTestSystem()
	system.RecordReply("g1", baseTime)
	system.RecordReply("g1", baseTime)

	if load := system.Load("g1", baseTime.Add(5*time.Second)); load < 1.49 || load > 1.51 {
		t.Fatalf("expected load 1.5 after 5s, got %v", load)
	}
	if load := system.Load("g1", baseTime.Add(time.Minute)); load != 0 {
		t.Fatalf("expected load floored at 0, got %v", load)
	}
}

func TestDecayIdempotentAtSameInstant(t *testing.T) {
	system := newTestSystem()
	system.RecordReply("g1", baseTime)
	system.RecordReply("g1", baseTime)

	now := baseTime.Add(10 * time.Second)
	first := system.Load("g1", now)
	system.Tick(now)
	system.CheckAllowed("g1", now)
	second := system.Load("g1", now)
	if first != second {
		t.Fatalf("expected repeated decay at same instant to be a no-op, got %v then %v", first, second)
	}
}

func TestHardResetAfterInterval(t *testing.T) {
	system := New(Config{
		MaxRepliesInSession: 100,
		DecayPerSecond:      0,
		ResetInterval:       time.Hour,
		RecoveryTime:        time.Minute,
	})
	for index := 0; index < 5; index++ {
		system.RecordReply("g1", baseTime)
	}
	if load := system.Load("g1", baseTime.Add(59*time.Minute)); load != 5 {
		t.Fatalf("expected no decay before reset, got %v", load)
	}
	if load := system.Load("g1", baseTime.Add(61*time.Minute)); load != 0 {
		t.Fatalf("expected hard reset after interval, got %v", load)
	}
}

func TestMuteIsStickyForRecoveryWindow(t *testing.T) {
	system := newTestSystem()
	for index := 0; index < 3; index++ {
		system.RecordReply("g1", baseTime)
	}
	if system.CheckAllowed("g1", baseTime) {
		t.Fatal("expected entity to be muted once threshold is reached")
	}

	// Decay drops the counter to zero long before recovery ends; the mute holds.
	for offset := time.Second; offset < 5*time.Minute; offset += 30 * time.Second {
		if system.CheckAllowed("g1", baseTime.Add(offset)) {
			t.Fatalf("expected mute to hold at +%s", offset)
		}
	}
	if !system.CheckAllowed("g1", baseTime.Add(5*time.Minute)) {
		t.Fatal("expected entity to be allowed after recovery time")
	}
	record, ok := system.Get("g1", baseTime.Add(5*time.Minute))
	if !ok {
		t.Fatal("expected record to exist")
	}
	if record.Counter != 0 {
		t.Fatalf("expected counter cleared after recovery, got %v", record.Counter)
	}
}

func TestMuteSurvivesHardReset(t *testing.T) {
	system := New(Config{
		MaxRepliesInSession: 1,
		DecayPerSecond:      0,
		ResetInterval:       time.Minute,
		RecoveryTime:        10 * time.Minute,
	})
	system.RecordReply("g1", baseTime)
	if system.CheckAllowed("g1", baseTime.Add(2*time.Minute)) {
		t.Fatal("expected hard reset not to lift the mute")
	}
}

func TestEvictDropsGroupAndUserRecords(t *testing.T) {
	system := newTestSystem()
	system.RecordReply(GroupKey("g1"), baseTime)
	system.RecordReply(UserKey("g1", "u1"), baseTime)
	system.RecordReply(UserKey("g2", "u1"), baseTime)

	system.Evict("g1")
	snapshot := system.Snapshot(baseTime)
	if len(snapshot) != 1 || snapshot[0].Key != "g2/u1" {
		t.Fatalf("expected only g2/u1 to remain, got %+v", snapshot)
	}
}

func TestTickDropsIdleRecords(t *testing.T) {
	system := newTestSystem()
	system.RecordReply("g1", baseTime)
	system.Tick(baseTime.Add(time.Minute))
	if _, ok := system.Get("g1", baseTime.Add(time.Minute)); ok {
		t.Fatal("expected fully decayed record to be dropped")
	}
}

func TestResetClearsEverything(t *testing.T) {
	system := newTestSystem()
	for index := 0; index < 3; index++ {
		system.RecordReply("g1", baseTime)
	}
	system.Reset()
	if !system.CheckAllowed("g1", baseTime) {
		t.Fatal("expected reset to lift the mute")
	}
}
