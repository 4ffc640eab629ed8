package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/store"
)

const defaultListLimit = 50

func (r *router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if r.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "decision engine is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Engine.Status())
}

func (r *router) handleGroup(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	groupID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/v1/groups/"), "/")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group id is required")
		return
	}
	if r.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "decision engine is unavailable")
		return
	}
	status, ok := r.deps.Engine.GroupStatus(groupID)
	if !ok {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *router) handleDecisions(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if r.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "decision journal is unavailable")
		return
	}
	query := req.URL.Query()
	limit, ok := parseLimit(w, query.Get("limit"))
	if !ok {
		return
	}
	mode := chat.Mode(strings.ToLower(strings.TrimSpace(query.Get("mode"))))
	if mode != "" && !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be observation, classic or focused")
		return
	}
	records, err := r.deps.Journal.ListDecisions(req.Context(), store.ListDecisionsInput{
		GroupID: query.Get("group_id"),
		Kind:    query.Get("kind"),
		Mode:    string(mode),
		Limit:   limit,
	})
	if err != nil {
		r.deps.Logger.Error("list decisions failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(records),
		"decisions": records,
	})
}

func (r *router) handleTransitions(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if r.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "decision journal is unavailable")
		return
	}
	limit, ok := parseLimit(w, req.URL.Query().Get("limit"))
	if !ok {
		return
	}
	records, err := r.deps.Journal.ListModeTransitions(req.Context(), req.URL.Query().Get("group_id"), limit)
	if err != nil {
		r.deps.Logger.Error("list mode transitions failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(records),
		"transitions": records,
	})
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return parsed, true
}

func (r *router) handleReset(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}
	if r.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "decision engine is unavailable")
		return
	}
	r.deps.Engine.Reset()
	r.deps.Logger.Info("state reset requested", "remote_addr", req.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
