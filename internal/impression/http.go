package impression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// BreakerDelay is how long the circuit stays open before probing again.
	BreakerDelay time.Duration
	HTTPClient   *http.Client
}

// HTTPClient queries the memory service impressions endpoint behind a
// circuit breaker so a failing service is skipped without waiting on it.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
}

type impressionResponse struct {
	Score *float64 `json:"score"`
}

func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "impression-http")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("impression circuit breaker state change",
				"from_state", stateName(event.OldState),
				"to_state", stateName(event.NewState),
			)
		}).
		Build()
	return &HTTPClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:     httpClient,
		executor: failsafe.With[*http.Response](breaker),
		breaker:  breaker,
	}
}

func (c *HTTPClient) Impression(ctx context.Context, userID, groupID string) (Score, error) {
	if c.baseURL == "" {
		return Score{}, ErrUnavailable
	}
	query := url.Values{}
	query.Set("group_id", groupID)
	query.Set("user_id", userID)
	endpoint := c.baseURL + "/v1/impressions?" + query.Encode()

	res, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return Score{}, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return Score{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return Score{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload impressionResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Score{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if payload.Score == nil {
		return Score{}, fmt.Errorf("%w: response has no score", ErrUnavailable)
	}
	return Score{Value: clamp(*payload.Score), Available: true}, nil
}

// BreakerOpen reports whether lookups are currently short-circuited.
func (c *HTTPClient) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
