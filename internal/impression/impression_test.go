package impression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubClient struct {
	score Score
	err   error
	delay time.Duration
}

func (s stubClient) Impression(context.Context, string, string) (Score, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.score, s.err
}

type panicClient struct{}

func (panicClient) Impression(context.Context, string, string) (Score, error) {
	panic("boom")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoopIsUnavailable(t *testing.T) {
	score, err := Noop{}.Impression(context.Background(), "u1", "g1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if score.Available {
		t.Fatal("expected unavailable score")
	}
}

func TestLookupTimesOutWithoutWaitingOnClient(t *testing.T) {
	client := stubClient{score: Score{Value: 0.9, Available: true}, delay: 500 * time.Millisecond}
	started := time.Now()
	score := Lookup(context.Background(), client, 20*time.Millisecond, "u1", "g1")
	if score.Available {
		t.Fatal("expected timed out lookup to be unavailable")
	}
	if elapsed := time.Since(started); elapsed > 250*time.Millisecond {
		t.Fatalf("expected lookup bounded by its timeout, took %s", elapsed)
	}
}

func TestLookupMapsErrorsAndPanicsToUnavailable(t *testing.T) {
	if score := Lookup(context.Background(), stubClient{err: errors.New("down")}, time.Second, "u1", "g1"); score.Available {
		t.Fatal("expected error to map to unavailable")
	}
	if score := Lookup(context.Background(), panicClient{}, time.Second, "u1", "g1"); score.Available {
		t.Fatal("expected panic to map to unavailable")
	}
	if score := Lookup(context.Background(), nil, time.Second, "u1", "g1"); score.Available {
		t.Fatal("expected nil client to be unavailable")
	}
}

func TestLookupClampsValue(t *testing.T) {
	score := Lookup(context.Background(), stubClient{score: Score{Value: 3, Available: true}}, time.Second, "u1", "g1")
	if !score.Available || score.Value != 1 {
		t.Fatalf("expected clamped available score, got %+v", score)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	client, err := New(Config{Enabled: false, Backend: "http", URL: "http://x"}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := client.(Noop); !ok {
		t.Fatalf("expected disabled integration to use Noop, got %T", client)
	}
	client, err = New(Config{Enabled: true, Backend: "http", URL: "http://x"}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := client.(*HTTPClient); !ok {
		t.Fatalf("expected http client, got %T", client)
	}
	if _, err := New(Config{Enabled: true, Backend: "carrier-pigeon"}, testLogger()); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestHTTPClientReadsScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/impressions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("group_id") != "g1" || r.URL.Query().Get("user_id") != "u1" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":0.4}`))
	}))
	defer server.Close()

	client := NewHTTP(HTTPConfig{BaseURL: server.URL + "/", Timeout: time.Second}, testLogger())
	score, err := client.Impression(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("impression: %v", err)
	}
	if !score.Available || score.Value != 0.4 {
		t.Fatalf("unexpected score %+v", score)
	}
}

func TestHTTPClientServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTP(HTTPConfig{BaseURL: server.URL, Timeout: time.Second}, testLogger())
	_, err := client.Impression(context.Background(), "u1", "g1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPClientMissingScoreIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTP(HTTPConfig{BaseURL: server.URL, Timeout: time.Second}, testLogger())
	if _, err := client.Impression(context.Background(), "u1", "g1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisClientReadsHash(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := NewRedis(rdb)
	t.Cleanup(func() { _ = client.Close() })

	mr.HSet(RedisKey("g1"), "u1", "-0.25")
	score, err := client.Impression(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("impression: %v", err)
	}
	if !score.Available || score.Value != -0.25 {
		t.Fatalf("unexpected score %+v", score)
	}

	if _, err := client.Impression(context.Background(), "u2", "g1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing user, got %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestHealthReportsBackendReachability(t *testing.T) {
	if err := Health(context.Background(), Noop{}); err != nil {
		t.Fatalf("noop should be healthy, got %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := NewRedisFromAddr(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisClient.Close() })
	if err := Health(context.Background(), redisClient); err != nil {
		t.Fatalf("redis health: %v", err)
	}
	mr.Close()
	if err := Health(context.Background(), redisClient); err == nil {
		t.Fatal("expected redis health to fail once the server is gone")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()
	httpClient := NewHTTP(HTTPConfig{BaseURL: server.URL, Timeout: time.Second, BreakerDelay: time.Minute}, testLogger())
	if err := Health(context.Background(), httpClient); err != nil {
		t.Fatalf("fresh http client should be healthy, got %v", err)
	}
	for i := 0; i < 10; i++ {
		_, _ = httpClient.Impression(context.Background(), "u1", "g1")
	}
	if err := Health(context.Background(), httpClient); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", err)
	}
}
