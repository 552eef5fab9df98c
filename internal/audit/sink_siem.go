package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SplunkHECSink delivers batches to a Splunk HTTP Event Collector, one HEC
// envelope per event concatenated as Splunk's streaming-JSON wire format
// (objects back-to-back, not a JSON array), per
// original_source/src/sark/services/audit/siem/splunk.py.
type SplunkHECSink struct {
	name       string
	endpoint   string // e.g. https://splunk.example.com:8088/services/collector/event
	token      string
	source     string
	sourcetype string
	index      string
	host       string
	client     *http.Client
}

// SplunkHECConfig configures a SplunkHECSink.
type SplunkHECConfig struct {
	Endpoint   string
	Token      string
	Source     string
	Sourcetype string
	Index      string
	Host       string
}

// NewSplunkHECSink constructs a SplunkHECSink from cfg.
func NewSplunkHECSink(cfg SplunkHECConfig) *SplunkHECSink {
	sourcetype := cfg.Sourcetype
	if sourcetype == "" {
		sourcetype = "_json"
	}
	return &SplunkHECSink{
		name:       "splunk",
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		source:     cfg.Source,
		sourcetype: sourcetype,
		index:      cfg.Index,
		host:       cfg.Host,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SplunkHECSink) Name() string { return s.name }

type splunkEnvelope struct {
	Time       float64 `json:"time"`
	Source     string  `json:"source,omitempty"`
	Sourcetype string  `json:"sourcetype,omitempty"`
	Index      string  `json:"index,omitempty"`
	Host       string  `json:"host,omitempty"`
	Event      Event   `json:"event"`
}

func (s *SplunkHECSink) Send(ctx context.Context, events []Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		env := splunkEnvelope{
			Time:       float64(ev.Timestamp.UnixNano()) / 1e9,
			Source:     s.source,
			Sourcetype: s.sourcetype,
			Index:      s.index,
			Host:       s.host,
			Event:      ev,
		}
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("audit: encode splunk envelope: %w", err)
		}
	}

	payload, gzipped, err := Compress(buf.Bytes(), 0)
	if err != nil {
		return fmt.Errorf("audit: compress splunk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("audit: build splunk request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: splunk post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		cat, sev, strat := ClassifyHTTPStatus(resp.StatusCode)
		return fmt.Errorf("audit: splunk HEC returned %d (category=%s severity=%s strategy=%s)", resp.StatusCode, cat, sev, strat)
	}
	return nil
}

func (s *SplunkHECSink) HealthCheck(ctx context.Context) bool {
	healthURL := strings.TrimSuffix(s.endpoint, "/services/collector/event") + "/services/collector/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// DatadogSink delivers batches to Datadog's logs intake API, one JSON
// array per request (Datadog accepts a JSON array of log objects per
// call), per original_source/src/sark/services/audit/siem/datadog.py.
type DatadogSink struct {
	endpoint string // e.g. https://http-intake.logs.datadoghq.com/api/v2/logs
	apiKey   string
	service  string
	ddsource string
	tags     string
	client   *http.Client
}

// DatadogConfig configures a DatadogSink.
type DatadogConfig struct {
	Endpoint string
	APIKey   string
	Service  string
	Source   string
	Tags     string
}

// NewDatadogSink constructs a DatadogSink from cfg.
func NewDatadogSink(cfg DatadogConfig) *DatadogSink {
	source := cfg.Source
	if source == "" {
		source = "sark"
	}
	return &DatadogSink{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		service:  cfg.Service,
		ddsource: source,
		tags:     cfg.Tags,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *DatadogSink) Name() string { return "datadog" }

type datadogLog struct {
	DDSource string `json:"ddsource"`
	DDTags   string `json:"ddtags,omitempty"`
	Service  string `json:"service,omitempty"`
	Message  Event  `json:"message"`
}

func (d *DatadogSink) Send(ctx context.Context, events []Event) error {
	logs := make([]datadogLog, len(events))
	for i, ev := range events {
		logs[i] = datadogLog{DDSource: d.ddsource, DDTags: d.tags, Service: d.service, Message: ev}
	}

	body, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("audit: marshal datadog batch: %w", err)
	}
	payload, gzipped, err := Compress(body, 0)
	if err != nil {
		return fmt.Errorf("audit: compress datadog payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("audit: build datadog request: %w", err)
	}
	req.Header.Set("DD-API-KEY", d.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: datadog post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		cat, sev, strat := ClassifyHTTPStatus(resp.StatusCode)
		return fmt.Errorf("audit: datadog intake returned %d (category=%s severity=%s strategy=%s)", resp.StatusCode, cat, sev, strat)
	}
	return nil
}

func (d *DatadogSink) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}
