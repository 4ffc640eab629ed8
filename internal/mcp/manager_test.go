package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestManagerDiscoversToolsFromStreamableServer(t *testing.T) {
	server := newStreamableTestServer(t, "weather", "deploy_script")
	t.Cleanup(server.Close)

	path := writeCatalog(t, `servers:
  - id: Ops
    transport:
      endpoint: "`+server.URL+`"
`)
	manager, err := NewManager(ManagerConfig{CatalogPath: path}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if !manager.Configured() {
		t.Fatal("expected manager to report configured servers")
	}
	if _, err := manager.ToolNames(context.Background()); !errors.Is(err, ErrToolsUnavailable) {
		t.Fatalf("expected ErrToolsUnavailable before discovery, got %v", err)
	}

	manager.Refresh(context.Background())

	names, err := manager.ToolNames(context.Background())
	if err != nil {
		t.Fatalf("tool names: %v", err)
	}
	if len(names) != 2 || names[0] != "deploy_script" || names[1] != "weather" {
		t.Fatalf("unexpected tool names: %v", names)
	}
	tools := manager.DiscoveredTools()
	if len(tools) != 2 || tools[0].ServerID != "ops" {
		t.Fatalf("unexpected discovered tools: %#v", tools)
	}
	summary := manager.Summary()
	if summary.EnabledServers != 1 || summary.HealthyServers != 1 || summary.Tools != 2 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestManagerMarksUnreachableServerDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	path := writeCatalog(t, `servers:
  - id: broken
    transport:
      type: streamable_http
      endpoint: "`+server.URL+`"
    http:
      timeout: 2s
`)
	manager, err := NewManager(ManagerConfig{CatalogPath: path}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	manager.Refresh(context.Background())

	statuses := manager.ListServerStatus()
	if len(statuses) != 1 || statuses[0].Healthy || statuses[0].LastError == "" {
		t.Fatalf("expected degraded server status, got %#v", statuses)
	}
	if summary := manager.Summary(); summary.DegradedServers != 1 {
		t.Fatalf("expected one degraded server, got %#v", summary)
	}
	if _, err := manager.ToolNames(context.Background()); !errors.Is(err, ErrToolsUnavailable) {
		t.Fatalf("expected ErrToolsUnavailable, got %v", err)
	}
}

func TestManagerWithoutCatalogIsNotConfigured(t *testing.T) {
	manager, err := NewManager(ManagerConfig{CatalogPath: filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.Configured() {
		t.Fatal("expected no configured servers")
	}
	if len(manager.ListServerStatus()) != 0 {
		t.Fatal("expected no server status")
	}
}

func TestManagerStartStopsOnCancel(t *testing.T) {
	manager, err := NewManager(ManagerConfig{}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func newStreamableTestServer(t *testing.T, tools ...string) *httptest.Server {
	t.Helper()
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	for _, name := range tools {
		server.AddTool(&sdkmcp.Tool{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: map[string]any{"type": "object"},
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "ok"}}}, nil
		})
	}
	handler := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return server }, nil)
	return httptest.NewServer(handler)
}
