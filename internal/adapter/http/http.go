// Package http implements the protocol adapter for HTTP/OpenAPI
// downstream servers: discovery walks an OpenAPI 3.x or Swagger 2.0
// document via getkin/kin-openapi, invocation issues the resolved
// request over net/http. itchyny/gojq pulls fields out of discovered
// response examples when no explicit sensitivity hint is present.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/itchyny/gojq"

	"github.com/apathy-ca/sark/internal/adapter"
)

// Adapter discovers and invokes capabilities on HTTP servers described by
// an OpenAPI document. One Adapter value is reused across every
// registered HTTP server; per-server state is passed in via
// DiscoverResources' config argument and ResourceSchema.Metadata.
type Adapter struct {
	client *http.Client

	mu    sync.RWMutex
	specs map[string]*openapi3.T // resource name -> parsed document, for Invoke
}

// New constructs an HTTP Adapter with the default call deadline baked
// into its client's transport; per-call deadlines still come from
// ctx/Invocation.Deadline.
func New() *Adapter {
	return &Adapter{
		client: &http.Client{Timeout: adapter.DefaultCallDeadline},
		specs:  make(map[string]*openapi3.T),
	}
}

func (a *Adapter) ProtocolName() string    { return "http" }
func (a *Adapter) ProtocolVersion() string { return "openapi-3.x/swagger-2.0" }

// DiscoverResources expects config to carry "base_url" (string) and
// either "document" ([]byte, a raw OpenAPI document) or "document_url"
// (string, fetched via the adapter's client).
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]any) ([]adapter.ResourceSchema, error) {
	baseURL, _ := config["base_url"].(string)

	doc, err := a.loadDocument(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("adapter/http: load document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("adapter/http: invalid OpenAPI document: %w", err)
	}

	var resources []adapter.ResourceSchema
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			name := operationName(method, path, op)
			schema := adapter.ResourceSchema{
				Name:            name,
				Description:     op.Summary,
				SensitivityHint: sensitivityHint(op, method, path),
				InputSchema:     buildInputSchema(item, op),
				Metadata: map[string]any{
					"base_url": baseURL,
					"path":     path,
					"method":   method,
				},
			}
			resources = append(resources, schema)
			a.mu.Lock()
			a.specs[name] = doc
			a.mu.Unlock()
		}
	}
	return resources, nil
}

func (a *Adapter) loadDocument(ctx context.Context, config map[string]any) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false // resolve local $refs only

	if raw, ok := config["document"].([]byte); ok {
		return loader.LoadFromData(raw)
	}
	if docURL, ok := config["document_url"].(string); ok && docURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(io.LimitReader(resp.Body, adapter.MaxPayloadBytes))
		if err != nil {
			return nil, err
		}
		return loader.LoadFromData(body)
	}
	return nil, fmt.Errorf("adapter/http: config must carry \"document\" or \"document_url\"")
}

func operationName(method, path string, op *openapi3.Operation) string {
	if op.OperationID != "" {
		return op.OperationID
	}
	return strings.ToLower(method) + " " + path
}

// sensitivityHint prefers an explicit x-sensitivity marker embedded in
// the operation's response examples; without one it falls back to the
// method/path heuristic. The sensitivity classifier still makes the
// authoritative call once the tool is registered.
func sensitivityHint(op *openapi3.Operation, method, path string) adapter.Sensitivity {
	if example := firstResponseExample(op); example != nil {
		marker, err := ExtractSensitivityHint(example, exampleSensitivityFilter)
		if err == nil {
			if level, ok := sensitivityByMarker[strings.ToLower(marker)]; ok {
				return level
			}
		}
	}
	return sensitivityHintForMethod(method, path)
}

var sensitivityByMarker = map[string]adapter.Sensitivity{
	"critical": adapter.SensitivityCritical,
	"high":     adapter.SensitivityHigh,
	"medium":   adapter.SensitivityMedium,
	"low":      adapter.SensitivityLow,
}

// exampleSensitivityFilter finds an x-sensitivity marker anywhere in an
// example payload, however deeply the API author nested it.
const exampleSensitivityFilter = `first(.. | ."x-sensitivity"? | strings)`

// firstResponseExample returns the first example payload declared on any
// of the operation's responses, or nil.
func firstResponseExample(op *openapi3.Operation) any {
	if op.Responses == nil {
		return nil
	}
	for _, respRef := range op.Responses.Map() {
		if respRef == nil || respRef.Value == nil {
			continue
		}
		for _, content := range respRef.Value.Content {
			if content.Example != nil {
				return content.Example
			}
			for _, exRef := range content.Examples {
				if exRef != nil && exRef.Value != nil && exRef.Value.Value != nil {
					return exRef.Value.Value
				}
			}
		}
	}
	return nil
}

// sensitivityHintForMethod derives a coarse hint from HTTP method and
// path keywords.
func sensitivityHintForMethod(method, path string) adapter.Sensitivity {
	lowerPath := strings.ToLower(path)
	switch strings.ToUpper(method) {
	case http.MethodDelete:
		return adapter.SensitivityHigh
	case http.MethodPut, http.MethodPost, http.MethodPatch:
		if strings.Contains(lowerPath, "admin") || strings.Contains(lowerPath, "payment") {
			return adapter.SensitivityCritical
		}
		return adapter.SensitivityMedium
	default:
		return adapter.SensitivityLow
	}
}

// buildInputSchema combines path, query, header, and body parameters
// into a single JSON-schema-shaped map.
func buildInputSchema(item *openapi3.PathItem, op *openapi3.Operation) map[string]any {
	properties := map[string]any{}
	var required []string

	params := append(append([]*openapi3.ParameterRef{}, item.Parameters...), op.Parameters...)
	for _, pRef := range params {
		p := pRef.Value
		if p == nil {
			continue
		}
		prop := map[string]any{"in": p.In}
		if p.Schema != nil && p.Schema.Value != nil {
			prop["type"] = p.Schema.Value.Type
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		for mediaType, content := range op.RequestBody.Value.Content {
			if content.Schema == nil || content.Schema.Value == nil {
				continue
			}
			properties["__body"] = map[string]any{
				"media_type": mediaType,
				"schema":     content.Schema.Value,
			}
			if op.RequestBody.Value.Required {
				required = append(required, "__body")
			}
			break
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// GetCapabilities maps 1:1 from a discovered ResourceSchema for the HTTP
// adapter — one operation, one capability.
func (a *Adapter) GetCapabilities(ctx context.Context, resource adapter.ResourceSchema) ([]adapter.CapabilitySchema, error) {
	return []adapter.CapabilitySchema{{
		Name:        resource.Name,
		Description: resource.Description,
		InputSchema: resource.InputSchema,
		Sensitivity: resource.SensitivityHint,
	}}, nil
}

// ValidateRequest rejects invocations whose serialized parameters exceed
// the shared payload cap; HTTP has no dangerous-statement concept the
// way the database adapter does.
func (a *Adapter) ValidateRequest(ctx context.Context, inv adapter.Invocation) (bool, string) {
	body, err := json.Marshal(inv.Parameters)
	if err != nil {
		return false, "parameters not JSON-serializable"
	}
	if len(body) > adapter.MaxPayloadBytes {
		return false, "payload exceeds maximum size"
	}
	return true, ""
}

// Invoke resolves the path/method/params recorded at discovery time and
// issues the HTTP request.
func (a *Adapter) Invoke(ctx context.Context, inv adapter.Invocation) (adapter.InvocationResult, error) {
	start := time.Now()
	deadline := adapter.EffectiveDeadline(inv)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	a.mu.RLock()
	doc := a.specs[inv.Capability]
	a.mu.RUnlock()
	if doc == nil {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/http: unknown capability %q (discover first)", inv.Capability)
	}

	baseURL, _ := inv.Parameters["__base_url"].(string)
	path, _ := inv.Parameters["__path"].(string)
	method, _ := inv.Parameters["__method"].(string)
	if baseURL == "" || path == "" || method == "" {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/http: invocation parameters missing __base_url/__path/__method")
	}

	body, err := json.Marshal(stripMeta(inv.Parameters))
	if err != nil {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/http: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(method), baseURL+path, bytes.NewReader(body))
	if err != nil {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/http: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if inv.RequestID != "" {
		req.Header.Set("X-SARK-Request-ID", inv.RequestID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return adapter.InvocationResult{Success: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, adapter.MaxPayloadBytes))
	if err != nil {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/http: read response: %w", err)
	}

	var parsed any
	if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil {
		parsed = string(respBody)
	}

	return adapter.InvocationResult{
		Success:    resp.StatusCode < 400,
		Result:     parsed,
		Metadata:   map[string]any{"status_code": resp.StatusCode},
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func stripMeta(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if strings.HasPrefix(k, "__") {
			continue
		}
		out[k] = v
	}
	return out
}

// HealthCheck issues a GET against the resource's base URL root.
func (a *Adapter) HealthCheck(ctx context.Context, resource adapter.ResourceSchema) bool {
	baseURL, _ := resource.Metadata["base_url"].(string)
	if baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}

// ExtractSensitivityHint runs a gojq filter over a discovered response
// example to pull a field that hints at sensitivity; discovery calls it
// with exampleSensitivityFilter to honor x-sensitivity markers embedded
// in example payloads. Returns "" when the filter finds nothing.
func ExtractSensitivityHint(example any, filter string) (string, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return "", fmt.Errorf("adapter/http: parse jq filter: %w", err)
	}
	iter := query.Run(example)
	v, ok := iter.Next()
	if !ok {
		return "", nil
	}
	if err, ok := v.(error); ok {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		b, _ := json.Marshal(val)
		return string(b), nil
	}
}
