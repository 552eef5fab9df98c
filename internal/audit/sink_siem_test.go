package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplunkHECSink_SendsAuthHeaderAndStreamingJSON(t *testing.T) {
	var gotAuth string
	var lines int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var env splunkEnvelope
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
			lines++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSplunkHECSink(SplunkHECConfig{Endpoint: srv.URL, Token: "hec-token", Index: "sark_audit"})
	err := sink.Send(context.Background(), []Event{
		NewEvent(Event{EventType: EventToolInvoked}),
		NewEvent(Event{EventType: EventApprovalDenied}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Splunk hec-token", gotAuth)
	assert.Equal(t, 2, lines)
}

func TestSplunkHECSink_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sink := NewSplunkHECSink(SplunkHECConfig{Endpoint: srv.URL, Token: "t"})
	err := sink.Send(context.Background(), []Event{NewEvent(Event{})})
	assert.Error(t, err)
}

func TestDatadogSink_SendsAPIKeyAndArrayPayload(t *testing.T) {
	var gotKey string
	var logs []datadogLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("DD-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&logs))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewDatadogSink(DatadogConfig{Endpoint: srv.URL, APIKey: "dd-key", Service: "sark"})
	err := sink.Send(context.Background(), []Event{
		NewEvent(Event{EventType: EventServerRegistered}),
		NewEvent(Event{EventType: EventToolInvoked}),
	})
	require.NoError(t, err)
	assert.Equal(t, "dd-key", gotKey)
	assert.Len(t, logs, 2)
	assert.Equal(t, "sark", logs[0].DDSource)
}

func TestDatadogSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink := NewDatadogSink(DatadogConfig{Endpoint: srv.URL, APIKey: "k"})
	err := sink.Send(context.Background(), []Event{NewEvent(Event{})})
	assert.Error(t, err)
}
