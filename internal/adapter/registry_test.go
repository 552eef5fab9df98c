package adapter

import (
	"context"
	"testing"
)

type stubAdapter struct{ name string }

func (s stubAdapter) ProtocolName() string    { return s.name }
func (s stubAdapter) ProtocolVersion() string { return "1" }
func (s stubAdapter) DiscoverResources(context.Context, map[string]any) ([]ResourceSchema, error) {
	return nil, nil
}
func (s stubAdapter) GetCapabilities(context.Context, ResourceSchema) ([]CapabilitySchema, error) {
	return nil, nil
}
func (s stubAdapter) ValidateRequest(context.Context, Invocation) (bool, string) { return true, "" }
func (s stubAdapter) Invoke(context.Context, Invocation) (InvocationResult, error) {
	return InvocationResult{Success: true}, nil
}
func (s stubAdapter) HealthCheck(context.Context, ResourceSchema) bool { return true }

func TestRegistry_ForKnownAndUnknown(t *testing.T) {
	r := NewRegistry(map[string]Adapter{"http": stubAdapter{name: "http"}})

	got, err := r.For("http")
	if err != nil || got.ProtocolName() != "http" {
		t.Fatalf("expected the http adapter, got %v err=%v", got, err)
	}

	if _, err := r.For("grpc"); err == nil {
		t.Fatal("expected an error for an unregistered transport")
	}

	r.Register("grpc", stubAdapter{name: "grpc"})
	if _, err := r.For("grpc"); err != nil {
		t.Fatalf("expected grpc to be registered now: %v", err)
	}
}
