package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/heartbeat"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/mcp"
	"github.com/dwizi/lurker/internal/store"
)

type fakeEngine struct {
	messages []chat.Message
	resets   int
	groups   map[string]interaction.GroupStatus
}

func (f *fakeEngine) OnMessage(_ context.Context, msg chat.Message) chat.Decision {
	f.messages = append(f.messages, msg)
	return chat.Decision{
		ID:        "d1",
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		Kind:      chat.DecisionSkip,
		Mode:      chat.ModeClassic,
		Reason:    "below_interest_threshold",
	}
}

func (f *fakeEngine) Status() interaction.Status {
	items := make([]interaction.GroupStatus, 0, len(f.groups))
	for _, group := range f.groups {
		items = append(items, group)
	}
	return interaction.Status{Groups: items}
}

func (f *fakeEngine) GroupStatus(groupID string) (interaction.GroupStatus, bool) {
	status, ok := f.groups[groupID]
	return status, ok
}

func (f *fakeEngine) Reset() {
	f.resets++
}

type fakeJournal struct {
	pingErr error
	input   store.ListDecisionsInput
	records []store.DecisionRecord
}

func (f *fakeJournal) ListDecisions(_ context.Context, input store.ListDecisionsInput) ([]store.DecisionRecord, error) {
	f.input = input
	return f.records, nil
}

func (f *fakeJournal) ListModeTransitions(_ context.Context, groupID string, limit int) ([]store.ModeTransitionRecord, error) {
	f.input = store.ListDecisionsInput{GroupID: groupID, Limit: limit}
	return []store.ModeTransitionRecord{{ID: "mt_1", GroupID: groupID, From: "classic", To: "focused"}}, nil
}

func (f *fakeJournal) Ping(context.Context) error {
	return f.pingErr
}

func newTestRouter(engine *fakeEngine, journal *fakeJournal, registry *heartbeat.Registry) http.Handler {
	deps := Dependencies{
		Version:             "test",
		Engine:              engine,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		Heartbeat:           registry,
		HeartbeatStaleAfter: time.Minute,
		ReadyComponents:     []string{"dispatch"},
	}
	if journal != nil {
		deps.Journal = journal
	}
	return NewRouter(deps)
}

func TestMessagesReturnsDecision(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestRouter(engine, nil, nil)

	body := `{"id":"m1","group_id":"g1","sender_id":"u1","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.Code, res.Body.String())
	}
	var decision chat.Decision
	if err := json.Unmarshal(res.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.MessageID != "m1" || decision.Kind != chat.DecisionSkip {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if len(engine.messages) != 1 || engine.messages[0].Text != "hello" {
		t.Fatalf("expected message forwarded, got %+v", engine.messages)
	}
}

func TestMessagesRejectsBadRequests(t *testing.T) {
	handler := newTestRouter(&fakeEngine{}, nil, nil)

	cases := []struct {
		method string
		body   string
		status int
	}{
		{method: http.MethodGet, body: "", status: http.StatusMethodNotAllowed},
		{method: http.MethodPost, body: "{", status: http.StatusBadRequest},
		{method: http.MethodPost, body: `{"id":"m1","text":"no group"}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/messages", strings.NewReader(tc.body))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != tc.status {
			t.Fatalf("%s %q: expected %d, got %d", tc.method, tc.body, tc.status, res.Code)
		}
		if !strings.Contains(res.Body.String(), `"error"`) {
			t.Fatalf("expected error payload, got %s", res.Body.String())
		}
	}
}

func TestGroupStatusLookup(t *testing.T) {
	engine := &fakeEngine{groups: map[string]interaction.GroupStatus{
		"g1": {GroupID: "g1", Mode: chat.ModeFocused},
	}}
	handler := newTestRouter(engine, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"focused"`) {
		t.Fatalf("unexpected group response %d %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/groups/missing", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"g1"`) {
		t.Fatalf("unexpected status response %d %s", res.Code, res.Body.String())
	}
}

func TestResetRequiresPost(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestRouter(engine, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/reset", nil))
	if res.Code != http.StatusMethodNotAllowed || engine.resets != 0 {
		t.Fatalf("expected GET reset to be rejected, got %d with %d resets", res.Code, engine.resets)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil))
	if res.Code != http.StatusOK || engine.resets != 1 {
		t.Fatalf("expected reset, got %d with %d resets", res.Code, engine.resets)
	}
}

func TestDecisionsPassesFilters(t *testing.T) {
	journal := &fakeJournal{records: []store.DecisionRecord{{ID: "d1", GroupID: "g1", Kind: "respond"}}}
	handler := newTestRouter(&fakeEngine{}, journal, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/decisions?group_id=g1&kind=respond&mode=Focused&limit=5", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.Code, res.Body.String())
	}
	if journal.input.GroupID != "g1" || journal.input.Kind != "respond" || journal.input.Mode != "focused" || journal.input.Limit != 5 {
		t.Fatalf("unexpected list input %+v", journal.input)
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil || payload.Count != 1 {
		t.Fatalf("unexpected payload %s (%v)", res.Body.String(), err)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/decisions?limit=zero", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/decisions?mode=sleepy", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", res.Code)
	}
}

func TestTransitionsListsJournal(t *testing.T) {
	journal := &fakeJournal{}
	handler := newTestRouter(&fakeEngine{}, journal, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/transitions?group_id=g1", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"mt_1"`) {
		t.Fatalf("unexpected transitions response %d %s", res.Code, res.Body.String())
	}
	if journal.input.GroupID != "g1" || journal.input.Limit != defaultListLimit {
		t.Fatalf("unexpected list input %+v", journal.input)
	}
}

func TestReadyChecksJournalAndHeartbeat(t *testing.T) {
	registry := heartbeat.NewRegistry()
	journal := &fakeJournal{pingErr: errors.New("disk gone")}
	handler := newTestRouter(&fakeEngine{}, journal, registry)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable || !strings.Contains(res.Body.String(), "disk gone") {
		t.Fatalf("expected journal failure, got %d %s", res.Code, res.Body.String())
	}

	journal.pingErr = nil
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable || !strings.Contains(res.Body.String(), "dispatch") {
		t.Fatalf("expected missing dispatch heartbeat, got %d %s", res.Code, res.Body.String())
	}

	registry.Beat("dispatch", "ok")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d %s", res.Code, res.Body.String())
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	handler := newTestRouter(&fakeEngine{}, nil, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without heartbeat registry, got %d", res.Code)
	}
}

type fakeMCPStatus struct{}

func (fakeMCPStatus) Summary() mcp.Summary {
	return mcp.Summary{EnabledServers: 2, HealthyServers: 1, DegradedServers: 1, Tools: 4}
}

func TestInfoIncludesToolServerSummary(t *testing.T) {
	handler := NewRouter(Dependencies{
		Version:           "test",
		Engine:            &fakeEngine{},
		MCPStatusProvider: fakeMCPStatus{},
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload struct {
		Version string      `json:"version"`
		MCP     mcp.Summary `json:"mcp"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if payload.Version != "test" || payload.MCP.Tools != 4 || payload.MCP.DegradedServers != 1 {
		t.Fatalf("unexpected info payload %+v", payload)
	}
}
