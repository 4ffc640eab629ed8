package impression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrUnavailable = errors.New("impression unavailable")
	ErrCircuitOpen = errors.New("impression circuit open")
)

// Score is a relationship impression in [-1,1]. Available is false whenever
// the lookup failed, timed out or no backend is configured.
type Score struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

type Client interface {
	Impression(ctx context.Context, userID, groupID string) (Score, error)
}

// Noop is the permanent Unavailable client used when memory integration is
// disabled.
type Noop struct{}

func (Noop) Impression(context.Context, string, string) (Score, error) {
	return Score{}, ErrUnavailable
}

type Config struct {
	Enabled       bool
	Backend       string
	URL           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Timeout       time.Duration
}

// New builds the configured backend. A disabled integration always yields
// Noop regardless of the backend setting.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return Noop{}, nil
	case "http":
		return NewHTTP(HTTPConfig{BaseURL: cfg.URL, Timeout: cfg.Timeout}, logger), nil
	case "redis":
		return NewRedisFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	default:
		return nil, fmt.Errorf("unknown impression backend %q", cfg.Backend)
	}
}

// Lookup asks client for an impression under timeout. Every failure, including
// a client that ignores its context, collapses into an unavailable score.
func Lookup(ctx context.Context, client Client, timeout time.Duration, userID, groupID string) Score {
	if client == nil {
		return Score{}
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		score Score
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", ErrUnavailable, recovered)}
			}
		}()
		score, err := client.Impression(lookupCtx, userID, groupID)
		done <- result{score: score, err: err}
	}()

	select {
	case <-lookupCtx.Done():
		return Score{}
	case res := <-done:
		if res.err != nil || !res.score.Available {
			return Score{}
		}
		return Score{Value: clamp(res.score.Value), Available: true}
	}
}

// Health reports whether client can currently serve lookups. Backends without
// a reachability signal are always healthy.
func Health(ctx context.Context, client Client) error {
	switch typed := client.(type) {
	case *HTTPClient:
		if typed.BreakerOpen() {
			return ErrCircuitOpen
		}
	case *RedisClient:
		if err := typed.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}

func clamp(value float64) float64 {
	if value < -1 {
		return -1
	}
	if value > 1 {
		return 1
	}
	return value
}
