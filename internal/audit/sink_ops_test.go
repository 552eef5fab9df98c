package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackSink_Send(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, "#audit")
	err := sink.Send(context.Background(), []Event{NewEvent(Event{EventType: EventAuthorizationDenied, Severity: SeverityHigh})})
	require.NoError(t, err)
	assert.Equal(t, "/", gotPath)
}

func TestSlackSink_Send_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, "")
	err := sink.Send(context.Background(), []Event{NewEvent(Event{})})
	assert.Error(t, err)
}

func TestWebhookSink_SignsPayloadWhenSecretSet(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Sark-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink("ops", srv.URL, "s3cr3t")
	err := sink.Send(context.Background(), []Event{NewEvent(Event{EventType: EventToolInvoked})})
	require.NoError(t, err)
	assert.NotEmpty(t, gotSig)
}

func TestWebhookSink_NoSignatureWithoutSecret(t *testing.T) {
	var gotSig string
	var sawSigHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Sark-Signature")
		sawSigHeader = r.Header.Get("X-Sark-Signature") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink("", srv.URL, "")
	require.Equal(t, "webhook", sink.Name())
	err := sink.Send(context.Background(), []Event{NewEvent(Event{})})
	require.NoError(t, err)
	assert.False(t, sawSigHeader)
	assert.Empty(t, gotSig)
}

func TestWebhookSink_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink("ops", srv.URL, "")
	assert.True(t, sink.HealthCheck(context.Background()))
}
