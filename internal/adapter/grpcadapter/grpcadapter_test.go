package grpcadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apathy-ca/sark/internal/adapter"
)

func TestSensitivityHintForMethodName(t *testing.T) {
	assert.Equal(t, adapter.SensitivityHigh, sensitivityHintForMethodName("DeleteWidget"))
	assert.Equal(t, adapter.SensitivityMedium, sensitivityHintForMethodName("CreateWidget"))
	assert.Equal(t, adapter.SensitivityLow, sensitivityHintForMethodName("GetWidget"))
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "WidgetService", lastSegment("acme.widgets.v1.WidgetService"))
	assert.Equal(t, "WidgetService", lastSegment("WidgetService"))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("deletewidget", "delete", "remove"))
	assert.False(t, containsAny("getwidget", "delete", "remove"))
}

func TestValidateRequest_UnknownCapabilityRejected(t *testing.T) {
	a := New()
	ok, reason := a.ValidateRequest(context.Background(), adapter.Invocation{Capability: "missing"})
	assert.False(t, ok)
	assert.Equal(t, "unknown capability", reason)
}

func TestHealthCheck_UnknownTargetIsUnhealthy(t *testing.T) {
	a := New()
	ok := a.HealthCheck(context.Background(), adapter.ResourceSchema{})
	assert.False(t, ok)
}
