package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultConnectTimeout = 5 * time.Second

// Client manages the process's MCP server connections through the
// official Go SDK. Each configured server gets one session; its tools
// are advertised under a server-prefixed name so two servers can both
// export "search" without colliding.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
}

// mcpServer is one configured server: its config, live SDK session (if
// connected), and the catalog fetched at connect time.
type mcpServer struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []Tool
	resources  []Resource
	prompts    []Prompt
	status     Status
	error      string
	serverInfo *ServerInfo
}

// NewClient creates a client with no servers attached.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "opencode",
			Version: "1.0.0",
		}, nil),
	}
}

// AddServer registers a server and, unless disabled, connects to it. A
// failed connection is recorded (status/error) AND returned, so callers
// can choose between failing fast and carrying on degraded.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.servers[name]; exists {
		return fmt.Errorf("server already exists: %s", name)
	}
	if !config.Enabled {
		c.servers[name] = &mcpServer{name: name, config: config, status: StatusDisabled}
		return nil
	}

	server, err := c.connectServer(ctx, name, config)
	if err != nil {
		c.servers[name] = &mcpServer{name: name, config: config, status: StatusFailed, error: err.Error()}
		return err
	}
	c.servers[name] = server
	return nil
}

// connectServer dials one server, handshakes, and fetches its tool
// catalog.
func (c *Client) connectServer(ctx context.Context, name string, config *Config) (*mcpServer, error) {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := sdkTransportFor(config, timeout)
	if err != nil {
		return nil, err
	}

	server := &mcpServer{name: name, config: config, status: StatusConnecting}

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	server.session = session

	if init := session.InitializeResult(); init != nil {
		server.serverInfo = &ServerInfo{
			Name:    init.ServerInfo.Name,
			Version: init.ServerInfo.Version,
		}
	}

	// a server without tools is still useful for resources/prompts
	if err := server.listTools(ctx); err != nil {
		server.tools = []Tool{}
	}

	server.status = StatusConnected
	return server, nil
}

// sdkTransportFor maps a Config onto the SDK transport that reaches it.
func sdkTransportFor(config *Config, timeout time.Duration) (sdkmcp.Transport, error) {
	switch config.Type {
	case TransportTypeRemote:
		return &sdkmcp.SSEClientTransport{
			Endpoint:   config.URL,
			HTTPClient: &http.Client{Timeout: timeout},
		}, nil

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &sdkmcp.CommandTransport{Command: cmd}, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

// listTools refreshes the server's flattened tool catalog.
func (s *mcpServer) listTools(ctx context.Context) error {
	if s.session == nil {
		return fmt.Errorf("not connected")
	}
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	s.tools = make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		s.tools[i] = FromSDKTool(t)
	}
	return nil
}

// Tools returns every connected server's tools under their prefixed
// names ("<server>_<tool>").
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, t := range server.tools {
			all = append(all, Tool{
				Name:        sanitizeToolName(name) + "_" + sanitizeToolName(t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return all
}

// resolveTool maps a prefixed tool name back to its server and the
// server's original (unsanitized) tool name.
func (c *Client) resolveTool(prefixed string) (*mcpServer, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		prefix := sanitizeToolName(name) + "_"
		if !strings.HasPrefix(prefixed, prefix) {
			continue
		}
		bare := strings.TrimPrefix(prefixed, prefix)
		for _, t := range server.tools {
			if sanitizeToolName(t.Name) == bare {
				return server, t.Name
			}
		}
		return server, bare
	}
	return nil, ""
}

// ExecuteTool routes a prefixed tool call to its server and returns the
// concatenated text content of the result.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) (string, error) {
	server, bareName := c.resolveTool(toolName)
	if server == nil {
		return "", fmt.Errorf("no server found for tool: %s", toolName)
	}
	if server.session == nil {
		return "", fmt.Errorf("server not connected: %s", server.name)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}

	result, err := server.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      bareName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", err
	}

	text := collectText(result.Content)
	if result.IsError {
		if text != "" {
			return "", fmt.Errorf("tool error: %s", text)
		}
		return "", fmt.Errorf("tool execution failed")
	}
	return text, nil
}

// collectText concatenates the text parts of a content payload.
func collectText(contents []sdkmcp.Content) string {
	var b strings.Builder
	for _, content := range contents {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// ListResources aggregates every connected server's resources, each URI
// rewritten to the routable mcp://<server>/<uri> form.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Resource
	for name, server := range c.servers {
		if server.status != StatusConnected || server.session == nil {
			continue
		}
		resources, err := server.listResources(ctx)
		if err != nil {
			continue // a flaky server shouldn't hide the others
		}
		for _, r := range resources {
			r.URI = fmt.Sprintf("mcp://%s/%s", name, r.URI)
			all = append(all, r)
		}
	}
	return all, nil
}

func (s *mcpServer) listResources(ctx context.Context) ([]Resource, error) {
	if s.session == nil {
		return nil, fmt.Errorf("not connected")
	}
	result, err := s.session.ListResources(ctx, nil)
	if err != nil {
		return nil, err
	}
	resources := make([]Resource, len(result.Resources))
	for i, r := range result.Resources {
		resources[i] = FromSDKResource(r)
	}
	return resources, nil
}

// ReadResource fetches one resource through its mcp://<server>/<uri>
// address.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResponse, error) {
	rest, ok := strings.CutPrefix(uri, "mcp://")
	if !ok {
		return nil, fmt.Errorf("invalid MCP URI: %s", uri)
	}
	serverName, resourceURI, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("invalid MCP URI format: %s", uri)
	}

	c.mu.RLock()
	server, exists := c.servers[serverName]
	c.mu.RUnlock()
	if !exists || server.status != StatusConnected {
		return nil, fmt.Errorf("server not connected: %s", serverName)
	}
	return server.readResource(ctx, resourceURI)
}

func (s *mcpServer) readResource(ctx context.Context, uri string) (*ReadResourceResponse, error) {
	if s.session == nil {
		return nil, fmt.Errorf("not connected")
	}
	result, err := s.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}

	resp := &ReadResourceResponse{Contents: make([]ResourceContent, len(result.Contents))}
	for i, content := range result.Contents {
		rc := ResourceContent{URI: content.URI, MimeType: content.MIMEType, Text: content.Text}
		if len(content.Blob) > 0 {
			rc.Blob = string(content.Blob)
		}
		resp.Contents[i] = rc
	}
	return resp, nil
}

// statusOf projects one server's externally visible state.
func statusOf(name string, server *mcpServer) ServerStatus {
	s := ServerStatus{Name: name, Status: server.status, ToolCount: len(server.tools)}
	if server.error != "" {
		s.Error = &server.error
	}
	return s
}

// Status reports every configured server's state.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ServerStatus
	for name, server := range c.servers {
		out = append(out, statusOf(name, server))
	}
	return out
}

// GetServer reports one server's state.
func (c *Client) GetServer(name string) (*ServerStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	server, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}
	s := statusOf(name, server)
	return &s, nil
}

// RemoveServer disconnects and forgets one server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	if server.session != nil {
		server.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects everything.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.servers {
		if server.session != nil {
			server.session.Close()
		}
	}
	c.servers = make(map[string]*mcpServer)
	return nil
}

// ServerCount reports how many servers are configured.
func (c *Client) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

// ConnectedCount reports how many servers are currently connected.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, server := range c.servers {
		if server.status == StatusConnected {
			n++
		}
	}
	return n
}

// sanitizeToolName maps a name onto the [A-Za-z0-9_] alphabet tool ids
// allow, one underscore per rejected rune.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
