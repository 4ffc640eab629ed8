package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/heartbeat"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/store"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type DecisionsResponse struct {
	Count     int                    `json:"count"`
	Decisions []store.DecisionRecord `json:"decisions"`
}

type TransitionsResponse struct {
	Count       int                          `json:"count"`
	Transitions []store.ModeTransitionRecord `json:"transitions"`
}

func New(cfg config.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.AdminAPIURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid admin api url %q", cfg.AdminAPIURL)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	if timeout < time.Second {
		return c
	}
	clone := *c
	if c.http == nil {
		clone.http = &http.Client{Timeout: timeout}
		return &clone
	}
	httpClone := *c.http
	httpClone.Timeout = timeout
	clone.http = &httpClone
	return &clone
}

func (c *Client) Status(ctx context.Context) (interaction.Status, error) {
	var status interaction.Status
	if err := c.get(ctx, "/api/v1/status", &status); err != nil {
		return interaction.Status{}, err
	}
	return status, nil
}

func (c *Client) Group(ctx context.Context, groupID string) (interaction.GroupStatus, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return interaction.GroupStatus{}, fmt.Errorf("group id is required")
	}
	var status interaction.GroupStatus
	if err := c.get(ctx, "/api/v1/groups/"+url.PathEscape(groupID), &status); err != nil {
		return interaction.GroupStatus{}, err
	}
	return status, nil
}

func (c *Client) Decisions(ctx context.Context, groupID, kind string, limit int) ([]store.DecisionRecord, error) {
	query := url.Values{}
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		query.Set("group_id", groupID)
	}
	if kind = strings.TrimSpace(kind); kind != "" {
		query.Set("kind", kind)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/decisions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var response DecisionsResponse
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Decisions, nil
}

func (c *Client) Transitions(ctx context.Context, groupID string, limit int) ([]store.ModeTransitionRecord, error) {
	query := url.Values{}
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		query.Set("group_id", groupID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/transitions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var response TransitionsResponse
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Transitions, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	var snapshot heartbeat.Snapshot
	if err := c.get(ctx, "/api/v1/heartbeat", &snapshot); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/reset", nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// Send submits msg for a decision as if an adapter had delivered it.
func (c *Client) Send(ctx context.Context, msg chat.Message) (chat.Decision, error) {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return chat.Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return chat.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var decision chat.Decision
	if err := c.doJSON(req, &decision); err != nil {
		return chat.Decision{}, err
	}
	return decision, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Error) == "" {
			apiError.Error = res.Status
		}
		return &APIError{StatusCode: res.StatusCode, Message: apiError.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
