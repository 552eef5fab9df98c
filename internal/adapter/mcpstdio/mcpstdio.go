// Package mcpstdio implements the protocol adapter for downstream
// Model-Context-Protocol servers launched as a local subprocess speaking
// MCP over stdio — the same transport sark itself is fronting, so a
// server-of-servers composition is possible. mark3labs/mcp-go provides
// the MCP client implementation.
package mcpstdio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apathy-ca/sark/internal/adapter"
	"github.com/apathy-ca/sark/internal/classifier"
)

// Adapter discovers and invokes tools on MCP servers launched as child
// processes, one *client.Client per configured command.
type Adapter struct {
	mu      sync.RWMutex
	clients map[string]*client.Client // command key -> initialized client
	tools   map[string]toolRef        // capability name -> owning client key + tool name
}

type toolRef struct {
	clientKey string
	toolName  string
}

// New constructs an empty Adapter.
func New() *Adapter {
	return &Adapter{
		clients: make(map[string]*client.Client),
		tools:   make(map[string]toolRef),
	}
}

func (a *Adapter) ProtocolName() string    { return "mcp-stdio" }
func (a *Adapter) ProtocolVersion() string { return "2024-11-05" }

// DiscoverResources expects config to carry "command" (string) and
// optionally "args" ([]string) and "env" ([]string). It launches the
// subprocess, performs the MCP initialize handshake, lists tools, and
// returns one ResourceSchema per tool.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]any) ([]adapter.ResourceSchema, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("adapter/mcpstdio: config missing \"command\"")
	}
	args := toStringSlice(config["args"])
	env := toStringSlice(config["env"])
	key := clientKey(command, args)

	c, err := a.clientFor(ctx, key, command, args, env)
	if err != nil {
		return nil, err
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("adapter/mcpstdio: list tools: %w", err)
	}

	resources := make([]adapter.ResourceSchema, 0, len(listResp.Tools))
	for _, tool := range listResp.Tools {
		inputSchema := schemaToMap(tool.InputSchema)
		sensitivity := detectSensitivity(tool.Name, tool.Description, inputSchema)

		a.mu.Lock()
		a.tools[tool.Name] = toolRef{clientKey: key, toolName: tool.Name}
		a.mu.Unlock()

		resources = append(resources, adapter.ResourceSchema{
			Name:            tool.Name,
			Description:     tool.Description,
			SensitivityHint: sensitivity,
			InputSchema:     inputSchema,
			Metadata:        map[string]any{"command": command},
		})
	}
	return resources, nil
}

func detectSensitivity(name, description string, inputSchema map[string]any) adapter.Sensitivity {
	params, _ := inputSchema["properties"].(map[string]any)
	switch classifier.Detect(name, description, params) {
	case classifier.SensitivityCritical:
		return adapter.SensitivityCritical
	case classifier.SensitivityHigh:
		return adapter.SensitivityHigh
	case classifier.SensitivityLow:
		return adapter.SensitivityLow
	default:
		return adapter.SensitivityMedium
	}
}

func (a *Adapter) clientFor(ctx context.Context, key, command string, args, env []string) (*client.Client, error) {
	a.mu.RLock()
	c, ok := a.clients[key]
	a.mu.RUnlock()
	if ok {
		return c, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[key]; ok {
		return c, nil
	}

	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("adapter/mcpstdio: launch %s: %w", command, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "sark", Version: "1"}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("adapter/mcpstdio: initialize %s: %w", command, err)
	}

	a.clients[key] = c
	return c, nil
}

func clientKey(command string, args []string) string {
	key := command
	for _, a := range args {
		key += " " + a
	}
	return key
}

func toStringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	anySlice, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anySlice))
	for _, item := range anySlice {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	properties := map[string]any{}
	for name, prop := range schema.Properties {
		properties[name] = prop
	}
	out := map[string]any{"type": schema.Type, "properties": properties}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// GetCapabilities maps 1:1 from a discovered ResourceSchema — one MCP
// tool, one capability.
func (a *Adapter) GetCapabilities(ctx context.Context, resource adapter.ResourceSchema) ([]adapter.CapabilitySchema, error) {
	return []adapter.CapabilitySchema{{
		Name:        resource.Name,
		Description: resource.Description,
		InputSchema: resource.InputSchema,
		Sensitivity: resource.SensitivityHint,
	}}, nil
}

// ValidateRequest refuses invocations against tools that were never
// discovered and payloads past the shared size cap.
func (a *Adapter) ValidateRequest(ctx context.Context, inv adapter.Invocation) (bool, string) {
	a.mu.RLock()
	_, ok := a.tools[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return false, "unknown capability"
	}
	body, err := json.Marshal(inv.Parameters)
	if err != nil {
		return false, "parameters not JSON-serializable"
	}
	if len(body) > adapter.MaxPayloadBytes {
		return false, "payload exceeds maximum size"
	}
	return true, ""
}

// Invoke calls the named tool through its owning client.
func (a *Adapter) Invoke(ctx context.Context, inv adapter.Invocation) (adapter.InvocationResult, error) {
	start := time.Now()
	a.mu.RLock()
	ref, ok := a.tools[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/mcpstdio: unknown capability %q (discover first)", inv.Capability)
	}

	a.mu.RLock()
	c, ok := a.clients[ref.clientKey]
	a.mu.RUnlock()
	if !ok {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/mcpstdio: client %q no longer available", ref.clientKey)
	}

	deadline := adapter.EffectiveDeadline(inv)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = ref.toolName
	req.Params.Arguments = inv.Parameters

	result, err := c.CallTool(callCtx, req)
	if err != nil {
		return adapter.InvocationResult{Success: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}, nil
	}

	return adapter.InvocationResult{
		Success:    !result.IsError,
		Result:     contentToAny(result.Content),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func contentToAny(content []mcp.Content) any {
	out := make([]any, len(content))
	for i, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			out[i] = tc.Text
			continue
		}
		out[i] = c
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// HealthCheck issues a lightweight ListTools call; a clean response
// means the subprocess and its MCP session are both alive.
func (a *Adapter) HealthCheck(ctx context.Context, resource adapter.ResourceSchema) bool {
	command, _ := resource.Metadata["command"].(string)
	a.mu.RLock()
	var c *client.Client
	for key, client := range a.clients {
		if key == command || hasPrefix(key, command) {
			c = client
			break
		}
	}
	a.mu.RUnlock()
	if c == nil {
		return false
	}
	_, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	return err == nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Close terminates every launched subprocess.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for key, c := range a.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("adapter/mcpstdio: close %s: %w", key, err)
		}
	}
	a.clients = make(map[string]*client.Client)
	return firstErr
}
