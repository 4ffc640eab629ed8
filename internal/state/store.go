package state

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	ClassicBaseline float64
	ContextWindow   int
}

// Store owns every GroupState. Lookups are safe for concurrent use; the
// returned state itself must only be touched under the group's lane.
type Store struct {
	cfg    Config
	mu     sync.RWMutex
	groups map[string]*GroupState
}

func NewStore(cfg Config) *Store {
	if cfg.ContextWindow < 1 {
		cfg.ContextWindow = 10
	}
	return &Store{
		cfg:    cfg,
		groups: map[string]*GroupState{},
	}
}

func (s *Store) Get(groupID string) (*GroupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[strings.TrimSpace(groupID)]
	return group, ok
}

// GetOrCreate returns the group state, creating a fresh Classic state on
// first sight.
func (s *Store) GetOrCreate(groupID string, now time.Time) *GroupState {
	groupID = strings.TrimSpace(groupID)
	s.mu.RLock()
	group, ok := s.groups[groupID]
	s.mu.RUnlock()
	if ok {
		return group
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if group, ok := s.groups[groupID]; ok {
		return group
	}
	group = newGroupState(groupID, s.cfg, now)
	s.groups[groupID] = group
	return group
}

// Replace discards the current state for groupID and installs a fresh one.
func (s *Store) Replace(groupID string, now time.Time) *GroupState {
	groupID = strings.TrimSpace(groupID)
	group := newGroupState(groupID, s.cfg, now)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = group
	return group
}

func (s *Store) Delete(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, strings.TrimSpace(groupID))
}

// IdleGroups lists groups whose last activity is older than idleAfter.
func (s *Store) IdleGroups(now time.Time, idleAfter time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, group := range s.groups {
		if now.Sub(group.LastActiveAt) >= idleAfter {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) GroupIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = map[string]*GroupState{}
}

// PruneConversants drops conversants idle for longer than idleAfter and
// returns their user ids.
func (g *GroupState) PruneConversants(now time.Time, idleAfter time.Duration) []string {
	var removed []string
	for userID, conversant := range g.Conversants {
		last := conversant.LastMessageAt
		if conversant.LastReplyAt.After(last) {
			last = conversant.LastReplyAt
		}
		if now.Sub(last) >= idleAfter {
			delete(g.Conversants, userID)
			removed = append(removed, userID)
		}
	}
	sort.Strings(removed)
	return removed
}
