package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dwizi/lurker/internal/chat"
)

func (r *router) handleMessages(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}
	if r.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "decision engine is unavailable")
		return
	}
	var msg chat.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(msg.GroupID) == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Engine.OnMessage(req.Context(), msg))
}
