package httpapi

import (
	"net/http"
	"strings"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Journal != nil {
		if err := r.deps.Journal.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
			return
		}
	}
	if r.deps.Heartbeat != nil && len(r.deps.ReadyComponents) > 0 {
		if ready, missing := r.deps.Heartbeat.Ready(r.deps.HeartbeatStaleAfter, r.deps.ReadyComponents...); !ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not-ready",
				"error":  "components not healthy: " + strings.Join(missing, ","),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter))
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config
	payload := map[string]any{
		"name":              "lurker",
		"version":           r.deps.Version,
		"environment":       cfg.Environment,
		"bot_id":            cfg.BotID,
		"impression":        cfg.ImpressionBackend,
		"group_list_mode":   cfg.GroupListMode,
		"fatigue_scope":     cfg.FatigueScope,
		"simulate_typing":   cfg.SimulateTyping,
		"reply_webhook":     strings.TrimSpace(cfg.ReplyWebhookURL) != "",
		"focused_threshold": cfg.FocusedChatThreshold,
	}
	if r.deps.MCPStatusProvider != nil {
		payload["mcp"] = r.deps.MCPStatusProvider.Summary()
	}
	writeJSON(w, http.StatusOK, payload)
}
