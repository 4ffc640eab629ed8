package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/dwizi/lurker/internal/chat"
)

var ErrRejected = errors.New("reply webhook rejected request")

type Config struct {
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	BreakerDelay time.Duration
	HTTPClient   *http.Client
}

// Sender posts reply intents to an outbound webhook. Transient failures are
// retried with backoff; a failing endpoint trips the circuit breaker.
type Sender struct {
	url      string
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Sender, error) {
	target := strings.TrimSpace(cfg.URL)
	lower := strings.ToLower(target)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil, fmt.Errorf("unsupported webhook url %q", target)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webhook")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(shouldRetry).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("webhook circuit breaker state change",
				"from_state", fmt.Sprint(event.OldState),
				"to_state", fmt.Sprint(event.NewState),
			)
		}).
		Build()

	return &Sender{
		url:      target,
		http:     httpClient,
		executor: failsafe.With[*http.Response](retry, breaker),
		logger:   logger,
	}, nil
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
}

func (s *Sender) Name() string {
	return "webhook"
}

func (s *Sender) Send(ctx context.Context, reply chat.Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	//nolint:bodyclose // each attempt drains and closes its own body
	resp, err := s.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		res, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		res.Body.Close()
		return res, nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return fmt.Errorf("reply webhook unavailable: %w", err)
		}
		return fmt.Errorf("post reply webhook: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
