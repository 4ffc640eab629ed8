package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dwizi/lurker/internal/audit"
	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/connectors"
	"github.com/dwizi/lurker/internal/dispatch"
	"github.com/dwizi/lurker/internal/grouplist"
	"github.com/dwizi/lurker/internal/heartbeat"
	"github.com/dwizi/lurker/internal/impression"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/mcp"
	"github.com/dwizi/lurker/internal/metrics"
	"github.com/dwizi/lurker/internal/scheduler"
	"github.com/dwizi/lurker/internal/store"
	"github.com/dwizi/lurker/internal/watcher"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	interaction      *interaction.Manager
	dispatcher       *dispatch.Dispatcher
	journal          *audit.Journal
	metrics          *metrics.Metrics
	groups           *grouplist.List
	toolServers      *mcp.Manager
	httpServer       *http.Server
	watcher          *watcher.Service
	scheduler        *scheduler.Service
	connectors       []connectors.Connector
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
	closers          []io.Closer
	impressions      impression.Client
}
