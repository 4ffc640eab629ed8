package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/config"
)

func TestClientSend(t *testing.T) {
	t.Parallel()

	var got chat.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"d1","message_id":"m1","group_id":"g1","kind":"respond","mode":"classic","reason":"mentioned","fatigue_allowed":true}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	decision, err := client.Send(context.Background(), chat.Message{ID: "m1", GroupID: "g1", SenderID: "u1", Text: "hey bot"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.GroupID != "g1" || got.Text != "hey bot" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if decision.Kind != chat.DecisionRespond || decision.Reason != "mentioned" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestClientDecisionsQuery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("group_id") != "g1" || query.Get("kind") != "skip" || query.Get("limit") != "20" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"count":1,"decisions":[{"id":"d1","group_id":"g1","kind":"skip"}]}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	records, err := client.Decisions(context.Background(), " g1 ", "skip", 20)
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(records) != 1 || records[0].ID != "d1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestClientTransitionsQuery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transitions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("group_id") != "g1" || query.Get("limit") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"count":1,"transitions":[{"id":"mt_1","group_id":"g1","from":"classic","to":"focused","reason":"interest_spike"}]}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	transitions, err := client.Transitions(context.Background(), " g1 ", 5)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(transitions) != 1 || transitions[0].To != "focused" {
		t.Fatalf("unexpected transitions: %+v", transitions)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"group not found"}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	_, err := client.Group(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "group not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientWithTimeoutClonesClient(t *testing.T) {
	t.Parallel()

	base := &Client{
		baseURL: "https://example.com",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	updated := base.WithTimeout(3 * time.Second)
	if updated == base || updated.http == base.http {
		t.Fatal("expected timeout update to clone client")
	}
	if updated.http.Timeout != 3*time.Second {
		t.Fatalf("expected timeout 3s, got %s", updated.http.Timeout)
	}
	if base.http.Timeout != 15*time.Second {
		t.Fatalf("expected original timeout unchanged, got %s", base.http.Timeout)
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := New(config.Config{AdminAPIURL: "ftp://example.com"}); err == nil {
		t.Fatal("expected invalid scheme to be rejected")
	}
	client, err := New(config.Config{AdminAPIURL: "http://127.0.0.1:8080/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != "http://127.0.0.1:8080" {
		t.Fatalf("expected trimmed base url, got %s", client.baseURL)
	}
}
