package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const DefaultRefreshInterval = 2 * time.Minute

// ErrToolsUnavailable is returned while servers are configured but none of
// them has completed a discovery.
var ErrToolsUnavailable = errors.New("no tool server has been discovered yet")

type ManagerConfig struct {
	CatalogPath     string
	RefreshInterval time.Duration
	Version         string
}

type serverState struct {
	cfg         ServerConfig
	healthy     bool
	lastError   string
	lastRefresh time.Time
	tools       []DiscoveredTool
}

// Manager keeps one client session per enabled server and a cached index of
// the tools they advertise. The index is rebuilt on every refresh, so reads
// never touch the network.
type Manager struct {
	logger   *slog.Logger
	interval time.Duration
	version  string

	mu         sync.RWMutex
	servers    map[string]*serverState
	toolIndex  map[string]DiscoveredTool
	sessions   map[string]*sdkmcp.ClientSession
	discovered bool
	closed     bool
}

func NewManager(cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "dev"
	}
	manager := &Manager{
		logger:    logger.With("component", "mcp"),
		interval:  interval,
		version:   version,
		servers:   map[string]*serverState{},
		toolIndex: map[string]DiscoveredTool{},
		sessions:  map[string]*sdkmcp.ClientSession{},
	}
	for _, server := range catalog.Servers {
		manager.servers[server.ID] = &serverState{cfg: server}
	}
	return manager, nil
}

func (m *Manager) Name() string {
	return "mcp"
}

// Start refreshes every enabled server once, then again on each interval
// until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.Refresh(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh rediscovers the tools of every enabled server.
func (m *Manager) Refresh(ctx context.Context) {
	for _, id := range m.serverIDs() {
		if ctx.Err() != nil {
			return
		}
		_ = m.refreshServer(ctx, id)
	}
}

// Configured reports whether at least one enabled server is in the catalog.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, state := range m.servers {
		if state.cfg.Enabled {
			return true
		}
	}
	return false
}

// ToolNames returns the cached names of all discovered tools.
func (m *Manager) ToolNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.discovered {
		return nil, ErrToolsUnavailable
	}
	names := make([]string, 0, len(m.toolIndex))
	for name := range m.toolIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) DiscoveredTools() []DiscoveredTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]DiscoveredTool, 0, len(m.toolIndex))
	for _, tool := range m.toolIndex {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ServerID == list[j].ServerID {
			return list[i].Name < list[j].Name
		}
		return list[i].ServerID < list[j].ServerID
	})
	return list
}

func (m *Manager) ListServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]ServerStatus, 0, len(ids))
	for _, id := range ids {
		state := m.servers[id]
		status := ServerStatus{
			ID:        id,
			Enabled:   state.cfg.Enabled,
			Healthy:   state.healthy,
			LastError: state.lastError,
			ToolCount: len(state.tools),
		}
		if !state.lastRefresh.IsZero() {
			status.LastRefreshUnix = state.lastRefresh.Unix()
		}
		result = append(result, status)
	}
	return result
}

func (m *Manager) Summary() Summary {
	summary := Summary{}
	for _, item := range m.ListServerStatus() {
		if !item.Enabled {
			continue
		}
		summary.EnabledServers++
		if item.Healthy {
			summary.HealthyServers++
		}
	}
	summary.DegradedServers = summary.EnabledServers - summary.HealthyServers
	m.mu.RLock()
	summary.Tools = len(m.toolIndex)
	m.mu.RUnlock()
	return summary
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*sdkmcp.ClientSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = map[string]*sdkmcp.ClientSession{}
	m.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) serverIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.servers))
	for id, state := range m.servers {
		if state.cfg.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) refreshServer(ctx context.Context, serverID string) error {
	m.mu.RLock()
	state, ok := m.servers[serverID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	cfg := state.cfg
	m.mu.RUnlock()

	session, err := m.ensureSession(ctx, cfg)
	if err != nil {
		m.updateServerFailure(serverID, err)
		return err
	}
	tools, err := discoverTools(ctx, cfg, session)
	if err != nil {
		// A broken session is replaced on the next refresh.
		m.dropSession(serverID, session)
		m.updateServerFailure(serverID, err)
		return err
	}
	m.updateServerSuccess(serverID, tools)
	m.logger.Info("mcp discovery succeeded", "server_id", serverID, "tools", len(tools))
	return nil
}

func (m *Manager) ensureSession(ctx context.Context, cfg ServerConfig) (*sdkmcp.ClientSession, error) {
	m.mu.RLock()
	session, exists := m.sessions[cfg.ID]
	m.mu.RUnlock()
	if exists && session != nil {
		return session, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()
	created, err := connectSession(connectCtx, cfg, m.version)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = created.Close()
		return nil, context.Canceled
	}
	if current, ok := m.sessions[cfg.ID]; ok && current != nil {
		_ = created.Close()
		return current, nil
	}
	m.sessions[cfg.ID] = created
	return created, nil
}

func (m *Manager) dropSession(serverID string, session *sdkmcp.ClientSession) {
	m.mu.Lock()
	if current, ok := m.sessions[serverID]; ok && current == session {
		delete(m.sessions, serverID)
	}
	m.mu.Unlock()
	_ = session.Close()
}

func (m *Manager) updateServerFailure(serverID string, err error) {
	m.logger.Warn("mcp discovery failed", "server_id", serverID, "error", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.servers[serverID]
	if state == nil {
		return
	}
	state.healthy = false
	state.lastError = strings.TrimSpace(err.Error())
	state.lastRefresh = time.Now().UTC()
	state.tools = nil
	m.rebuildToolIndexLocked()
}

func (m *Manager) updateServerSuccess(serverID string, tools []DiscoveredTool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.servers[serverID]
	if state == nil {
		return
	}
	state.healthy = true
	state.lastError = ""
	state.lastRefresh = time.Now().UTC()
	state.tools = tools
	m.discovered = true
	m.rebuildToolIndexLocked()
}

// rebuildToolIndexLocked keys tools by name; the lowest server id wins a
// name clash.
func (m *Manager) rebuildToolIndexLocked() {
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	next := map[string]DiscoveredTool{}
	for _, id := range ids {
		for _, tool := range m.servers[id].tools {
			if _, taken := next[tool.Name]; !taken {
				next[tool.Name] = tool
			}
		}
	}
	m.toolIndex = next
}

func discoverTools(ctx context.Context, cfg ServerConfig, session *sdkmcp.ClientSession) ([]DiscoveredTool, error) {
	tools := []DiscoveredTool{}
	for item, iterErr := range session.Tools(ctx, nil) {
		if iterErr != nil {
			return nil, iterErr
		}
		if item == nil || strings.TrimSpace(item.Name) == "" {
			continue
		}
		tools = append(tools, DiscoveredTool{
			ServerID:    cfg.ID,
			Name:        item.Name,
			Description: strings.TrimSpace(item.Description),
		})
	}
	return tools, nil
}
