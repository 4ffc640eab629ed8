package mcp

import "time"

const (
	DefaultHTTPTimeout = 30 * time.Second
	// TransportStreamableHTTP is the default when a server omits transport.type.
	TransportStreamableHTTP = "streamable_http"
	TransportSSE            = "sse"
)

// Catalog lists the tool servers the focused pipeline may rely on.
type Catalog struct {
	Servers []ServerConfig
}

type ServerConfig struct {
	ID          string
	Enabled     bool
	Transport   string
	Endpoint    string
	Headers     map[string]string
	HTTPTimeout time.Duration
}

// DiscoveredTool is one tool advertised by a healthy server during its last
// refresh.
type DiscoveredTool struct {
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ServerStatus struct {
	ID              string `json:"id"`
	Enabled         bool   `json:"enabled"`
	Healthy         bool   `json:"healthy"`
	LastError       string `json:"last_error,omitempty"`
	ToolCount       int    `json:"tool_count"`
	LastRefreshUnix int64  `json:"last_refresh_unix,omitempty"`
}

type Summary struct {
	EnabledServers  int `json:"enabled_servers"`
	HealthyServers  int `json:"healthy_servers"`
	DegradedServers int `json:"degraded_servers"`
	Tools           int `json:"tools"`
}
