package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apathy-ca/sark/internal/adapter"
)

const testSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "t", "version": "1"},
  "paths": {
    "/widgets": {
      "get": {"operationId": "listWidgets", "summary": "list widgets", "responses": {"200": {"description": "ok"}}},
      "post": {"operationId": "createWidget", "summary": "create a widget", "requestBody": {"required": true, "content": {"application/json": {"schema": {"type": "object"}}}}, "responses": {"200": {"description": "ok"}}}
    },
    "/widgets/{id}": {
      "delete": {"operationId": "deleteWidget", "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}], "responses": {"204": {"description": "ok"}}}
    }
  }
}`

func TestDiscoverResources_EnumeratesPathsAndMethods(t *testing.T) {
	a := New()
	resources, err := a.DiscoverResources(context.Background(), map[string]any{
		"base_url": "http://example.test",
		"document": []byte(testSpec),
	})
	require.NoError(t, err)
	require.Len(t, resources, 3)

	names := map[string]adapter.Sensitivity{}
	for _, r := range resources {
		names[r.Name] = r.SensitivityHint
	}
	assert.Equal(t, adapter.SensitivityLow, names["listWidgets"])
	assert.Equal(t, adapter.SensitivityMedium, names["createWidget"])
	assert.Equal(t, adapter.SensitivityHigh, names["deleteWidget"])
}

func TestGetCapabilities_OneToOne(t *testing.T) {
	a := New()
	resources, err := a.DiscoverResources(context.Background(), map[string]any{
		"base_url": "http://example.test",
		"document": []byte(testSpec),
	})
	require.NoError(t, err)

	caps, err := a.GetCapabilities(context.Background(), resources[0])
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, resources[0].Name, caps[0].Name)
}

func TestValidateRequest_RejectsOversizedPayload(t *testing.T) {
	a := New()
	big := make(map[string]any, 1)
	big["blob"] = string(make([]byte, adapter.MaxPayloadBytes+1))
	ok, reason := a.ValidateRequest(context.Background(), adapter.Invocation{Parameters: big})
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestInvoke_UnknownCapabilityErrors(t *testing.T) {
	a := New()
	_, err := a.Invoke(context.Background(), adapter.Invocation{Capability: "nope"})
	assert.Error(t, err)
}

func TestInvoke_IssuesRequestAndParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/widgets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"w1"}`))
	}))
	defer srv.Close()

	a := New()
	_, err := a.DiscoverResources(context.Background(), map[string]any{
		"base_url": srv.URL,
		"document": []byte(testSpec),
	})
	require.NoError(t, err)

	result, err := a.Invoke(context.Background(), adapter.Invocation{
		Capability: "createWidget",
		Parameters: map[string]any{"__base_url": srv.URL, "__path": "/widgets", "__method": "POST", "name": "w1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New()
	ok := a.HealthCheck(context.Background(), adapter.ResourceSchema{Metadata: map[string]any{"base_url": srv.URL}})
	assert.True(t, ok)
}

func TestExtractSensitivityHint(t *testing.T) {
	v, err := ExtractSensitivityHint(map[string]any{"x-sensitive": "critical"}, ".\"x-sensitive\"")
	require.NoError(t, err)
	assert.Equal(t, "critical", v)
}

const markedSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "t", "version": "1"},
  "paths": {
    "/secrets": {
      "get": {
        "operationId": "listSecrets",
        "responses": {
          "200": {
            "description": "ok",
            "content": {
              "application/json": {
                "example": {"items": [], "meta": {"x-sensitivity": "critical"}}
              }
            }
          }
        }
      }
    }
  }
}`

func TestDiscoverResources_ExampleMarkerOverridesMethodHint(t *testing.T) {
	a := New()
	resources, err := a.DiscoverResources(context.Background(), map[string]any{
		"base_url": "http://example.test",
		"document": []byte(markedSpec),
	})
	require.NoError(t, err)
	require.Len(t, resources, 1)

	// GET would default to low; the embedded marker wins.
	assert.Equal(t, adapter.SensitivityCritical, resources[0].SensitivityHint)
}
