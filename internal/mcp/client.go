package mcp

import (
	"context"
	"fmt"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const clientName = "lurker"

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header = req.Header.Clone()
	for key, value := range h.headers {
		clone.Header.Set(key, value)
	}
	return base.RoundTrip(clone)
}

func connectSession(ctx context.Context, cfg ServerConfig, version string) (*sdkmcp.ClientSession, error) {
	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: clientName, Version: version}, nil)
	return client.Connect(ctx, transport, nil)
}

func buildTransport(cfg ServerConfig) (sdkmcp.Transport, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &headerRoundTripper{headers: cfg.Headers},
	}
	switch cfg.Transport {
	case TransportStreamableHTTP:
		return &sdkmcp.StreamableClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}, nil
	case TransportSSE:
		return &sdkmcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported mcp transport %q", cfg.Transport)
	}
}
