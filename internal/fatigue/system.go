package fatigue

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	MaxRepliesInSession int
	// DecayPerSecond is subtracted from the counter for every elapsed second.
	DecayPerSecond float64
	ResetInterval  time.Duration
	RecoveryTime   time.Duration
}

type Record struct {
	Key         string
	Counter     float64
	LastReplyAt time.Time
	MutedUntil  time.Time

	lastUpdateAt time.Time
	lastResetAt  time.Time
}

func (r Record) Muted(now time.Time) bool {
	return !r.MutedUntil.IsZero() && now.Before(r.MutedUntil)
}

type RecordStatus struct {
	Key           string  `json:"key"`
	Counter       float64 `json:"counter"`
	Muted         bool    `json:"muted"`
	MutedUntil    int64   `json:"muted_until_unix,omitempty"`
	LastReplyUnix int64   `json:"last_reply_unix,omitempty"`
}

// System tracks reply load per entity. Decay is applied lazily on every
// access, so no background timer is needed.
type System struct {
	cfg     Config
	mu      sync.Mutex
	records map[string]*Record
}

func New(cfg Config) *System {
	if cfg.MaxRepliesInSession < 1 {
		cfg.MaxRepliesInSession = 1
	}
	if cfg.DecayPerSecond < 0 {
		cfg.DecayPerSecond = 0
	}
	return &System{
		cfg:     cfg,
		records: map[string]*Record{},
	}
}

func GroupKey(groupID string) string {
	return strings.TrimSpace(groupID)
}

func UserKey(groupID, userID string) string {
	return strings.TrimSpace(groupID) + "/" + strings.TrimSpace(userID)
}

const (
	ScopeGroup = "group"
	ScopeUser  = "user"
)

// KeyFunc maps a (group, user) pair to the entity key for scope.
func KeyFunc(scope string) func(groupID, userID string) string {
	if strings.EqualFold(strings.TrimSpace(scope), ScopeUser) {
		return UserKey
	}
	return func(groupID, _ string) string { return GroupKey(groupID) }
}

func (s *System) RecordReply(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.recordLocked(key, now)
	s.advanceLocked(record, now)
	record.Counter++
	record.LastReplyAt = now
	if record.Counter >= float64(s.cfg.MaxRepliesInSession) && !record.Muted(now) {
		record.MutedUntil = now.Add(s.cfg.RecoveryTime)
	}
}

func (s *System) CheckAllowed(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return true
	}
	s.advanceLocked(record, now)
	return !record.Muted(now)
}

// Load returns the decayed counter for key.
func (s *System) Load(key string, now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return 0
	}
	s.advanceLocked(record, now)
	return record.Counter
}

// Tick decays every record and drops those that are idle and unmuted.
func (s *System) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.records {
		s.advanceLocked(record, now)
		if record.Counter == 0 && !record.Muted(now) {
			delete(s.records, key)
		}
	}
}

func (s *System) Get(key string, now time.Time) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	s.advanceLocked(record, now)
	return *record, true
}

// Evict drops the group record and every user record of groupID.
func (s *System) Evict(groupID string) {
	groupKey := GroupKey(groupID)
	prefix := groupKey + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.records {
		if key == groupKey || strings.HasPrefix(key, prefix) {
			delete(s.records, key)
		}
	}
}

func (s *System) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]*Record{}
}

func (s *System) Snapshot(now time.Time) []RecordStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]RecordStatus, 0, len(s.records))
	for _, record := range s.records {
		s.advanceLocked(record, now)
		items = append(items, statusOf(*record, now))
	}
	sort.Slice(items, func(left, right int) bool {
		return items[left].Key < items[right].Key
	})
	return items
}

func StatusOf(record Record, now time.Time) RecordStatus {
	return statusOf(record, now)
}

func statusOf(record Record, now time.Time) RecordStatus {
	status := RecordStatus{
		Key:     record.Key,
		Counter: record.Counter,
		Muted:   record.Muted(now),
	}
	if status.Muted {
		status.MutedUntil = record.MutedUntil.Unix()
	}
	if !record.LastReplyAt.IsZero() {
		status.LastReplyUnix = record.LastReplyAt.Unix()
	}
	return status
}

func (s *System) recordLocked(key string, now time.Time) *Record {
	record, ok := s.records[key]
	if !ok {
		record = &Record{Key: key, lastUpdateAt: now, lastResetAt: now}
		s.records[key] = record
	}
	return record
}

// advanceLocked brings record up to now. It only moves forward in time, so
// calling it twice with the same now is a no-op the second time.
func (s *System) advanceLocked(record *Record, now time.Time) {
	if !now.After(record.lastUpdateAt) {
		return
	}
	if !record.MutedUntil.IsZero() && !now.Before(record.MutedUntil) {
		record.MutedUntil = time.Time{}
		record.Counter = 0
	}
	if s.cfg.ResetInterval > 0 && now.Sub(record.lastResetAt) >= s.cfg.ResetInterval {
		record.Counter = 0
		record.lastResetAt = now
	} else {
		elapsed := now.Sub(record.lastUpdateAt).Seconds()
		record.Counter -= s.cfg.DecayPerSecond * elapsed
		if record.Counter < 0 {
			record.Counter = 0
		}
	}
	record.lastUpdateAt = now
}
