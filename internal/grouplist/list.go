package grouplist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	ModeOff       = "off"
	ModeWhitelist = "whitelist"
	ModeBlacklist = "blacklist"
)

var ErrInvalidMode = errors.New("invalid group list mode")

type fileFormat struct {
	Mode   string   `yaml:"mode"`
	Groups []string `yaml:"groups"`
}

// List decides which groups the engine participates in. It is safe for
// concurrent use and can be reloaded while messages are being processed.
type List struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	mode   string
	groups map[string]struct{}
}

func NormalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeOff:
		return ModeOff, nil
	case ModeWhitelist:
		return ModeWhitelist, nil
	case ModeBlacklist:
		return ModeBlacklist, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// New builds a list in mode and loads path when one is given. A missing file
// leaves the list empty.
func New(mode, path string, logger *slog.Logger) (*List, error) {
	normalized, err := NormalizeMode(mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	list := &List{
		path:   strings.TrimSpace(path),
		logger: logger.With("component", "grouplist"),
		mode:   normalized,
		groups: map[string]struct{}{},
	}
	if list.path != "" {
		if err := list.load(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (l *List) Path() string {
	return l.path
}

func (l *List) Allowed(groupID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, listed := l.groups[strings.TrimSpace(groupID)]
	switch l.mode {
	case ModeWhitelist:
		return listed
	case ModeBlacklist:
		return !listed
	default:
		return true
	}
}

func (l *List) Mode() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode
}

func (l *List) Groups() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	groups := make([]string, 0, len(l.groups))
	for group := range l.groups {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// Reload re-reads the list file. On error the previous list stays active.
func (l *List) Reload(_ context.Context, _ string) {
	if err := l.load(); err != nil {
		l.logger.Error("group list reload failed, keeping previous list", "path", l.path, "error", err)
		return
	}
	l.logger.Info("group list reloaded", "path", l.path, "mode", l.Mode(), "groups", len(l.Groups()))
}

func (l *List) load() error {
	if l.path == "" {
		return nil
	}
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("group list file not found, list is empty", "path", l.path)
		l.swap("", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read group list %s: %w", l.path, err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse group list %s: %w", l.path, err)
	}
	if strings.TrimSpace(parsed.Mode) != "" {
		if _, err := NormalizeMode(parsed.Mode); err != nil {
			return fmt.Errorf("group list %s: %w", l.path, err)
		}
	}
	l.swap(parsed.Mode, parsed.Groups)
	return nil
}

// swap installs groups and, when fileMode is set, the mode it names.
func (l *List) swap(fileMode string, groups []string) {
	next := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		if trimmed := strings.TrimSpace(group); trimmed != "" {
			next[trimmed] = struct{}{}
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups = next
	if mode, err := NormalizeMode(fileMode); err == nil && strings.TrimSpace(fileMode) != "" {
		l.mode = mode
	}
}
