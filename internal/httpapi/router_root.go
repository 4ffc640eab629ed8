package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/heartbeat"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/mcp"
	"github.com/dwizi/lurker/internal/store"
)

// Engine is the decision surface the API exposes. Reset is the only state
// mutation available to operators.
type Engine interface {
	OnMessage(ctx context.Context, msg chat.Message) chat.Decision
	Status() interaction.Status
	GroupStatus(groupID string) (interaction.GroupStatus, bool)
	Reset()
}

type Journal interface {
	ListDecisions(ctx context.Context, input store.ListDecisionsInput) ([]store.DecisionRecord, error)
	ListModeTransitions(ctx context.Context, groupID string, limit int) ([]store.ModeTransitionRecord, error)
	Ping(ctx context.Context) error
}

type MCPStatusProvider interface {
	Summary() mcp.Summary
}

type Dependencies struct {
	Config              config.Config
	Version             string
	Engine              Engine
	Journal             Journal
	Bridge              http.Handler
	Metrics             http.Handler
	MCPStatusProvider   MCPStatusProvider
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	// ReadyComponents must all be healthy for /readyz to pass.
	ReadyComponents []string
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/messages", rt.handleMessages)
	mux.HandleFunc("/api/v1/status", rt.handleStatus)
	mux.HandleFunc("/api/v1/groups/", rt.handleGroup)
	mux.HandleFunc("/api/v1/decisions", rt.handleDecisions)
	mux.HandleFunc("/api/v1/transitions", rt.handleTransitions)
	mux.HandleFunc("/api/v1/reset", rt.handleReset)
	if deps.Bridge != nil {
		mux.Handle("/api/v1/bridge", deps.Bridge)
	}
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requireMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method == method {
		return true
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
