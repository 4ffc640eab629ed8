package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envTokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type rawCatalog struct {
	Servers []rawServer `yaml:"servers"`
}

type rawServer struct {
	ID        string `yaml:"id"`
	Enabled   *bool  `yaml:"enabled"`
	Transport struct {
		Type     string `yaml:"type"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"transport"`
	HTTP struct {
		Headers map[string]string `yaml:"headers"`
		Timeout string            `yaml:"timeout"`
	} `yaml:"http"`
}

// LoadCatalog reads the tool server catalog at path. The file is YAML (JSON
// is accepted as a subset). An empty path or a missing file yields an empty
// catalog. ${NAME} tokens in endpoints and headers expand from the
// environment and must be set.
func LoadCatalog(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Catalog{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("read tool server catalog %s: %w", path, err)
	}
	raw := rawCatalog{}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode tool server catalog %s: %w", path, err)
	}

	servers := make([]ServerConfig, 0, len(raw.Servers))
	seen := map[string]struct{}{}
	for i, item := range raw.Servers {
		server, err := normalizeServer(item)
		if err != nil {
			return Catalog{}, fmt.Errorf("servers[%d]: %w", i, err)
		}
		if _, exists := seen[server.ID]; exists {
			return Catalog{}, fmt.Errorf("duplicate server id %q", server.ID)
		}
		seen[server.ID] = struct{}{}
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return Catalog{Servers: servers}, nil
}

func normalizeServer(raw rawServer) (ServerConfig, error) {
	id := sanitizeServerID(raw.ID)
	if id == "" {
		return ServerConfig{}, fmt.Errorf("id is required")
	}
	transport := strings.ToLower(strings.TrimSpace(raw.Transport.Type))
	if transport == "" {
		transport = TransportStreamableHTTP
	}
	if transport != TransportStreamableHTTP && transport != TransportSSE {
		return ServerConfig{}, fmt.Errorf("unsupported transport.type %q", raw.Transport.Type)
	}
	endpoint := strings.TrimSpace(raw.Transport.Endpoint)
	if endpoint == "" {
		return ServerConfig{}, fmt.Errorf("transport.endpoint is required")
	}
	endpoint, err := expandEnvStrict(endpoint)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("transport.endpoint: %w", err)
	}

	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}
	timeout := DefaultHTTPTimeout
	if value := strings.TrimSpace(raw.HTTP.Timeout); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return ServerConfig{}, fmt.Errorf("http.timeout must be a positive duration, got %q", value)
		}
		timeout = parsed
	}
	headers := map[string]string{}
	for key, value := range raw.HTTP.Headers {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		expanded, err := expandEnvStrict(strings.TrimSpace(value))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("http.headers[%q]: %w", key, err)
		}
		headers[name] = expanded
	}
	return ServerConfig{
		ID:          id,
		Enabled:     enabled,
		Transport:   transport,
		Endpoint:    endpoint,
		Headers:     headers,
		HTTPTimeout: timeout,
	}, nil
}

func sanitizeServerID(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	builder := strings.Builder{}
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return strings.Trim(builder.String(), "_")
}

func expandEnvStrict(value string) (string, error) {
	missing := []string{}
	for _, match := range envTokenPattern.FindAllStringSubmatch(value, -1) {
		if _, ok := os.LookupEnv(match[1]); !ok {
			missing = append(missing, match[1])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return os.ExpandEnv(value), nil
}
