// Package audit implements the audit pipeline: structured event emission
// fanned out to zero or more sinks, each independently batched,
// compressed, circuit-broken, health-monitored, and backed by a
// fallback-to-disk logger. Emit never blocks the caller — the event is
// handed to a bounded per-sink queue and a background consumer does the
// rest, keeping enqueue latency independent of sink delivery latency.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// emitLatency tracks Pipeline.Emit's enqueue-only latency, which must stay
// well under a millisecond regardless of how slow any sink is.
var emitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "sark_audit_emit_seconds",
	Help:    "Pipeline.Emit enqueue latency (never includes sink delivery).",
	Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
})

func init() {
	prometheus.MustRegister(emitLatency)
}

// Severity is an Event's importance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventKind enumerates the kinds of interesting occurrence the pipeline
// records.
type EventKind string

const (
	EventServerRegistered     EventKind = "server-registered"
	EventToolInvoked          EventKind = "tool-invoked"
	EventAuthorizationAllowed EventKind = "authorization-allowed"
	EventAuthorizationDenied  EventKind = "authorization-denied"
	EventApprovalGranted      EventKind = "approval-granted"
	EventApprovalDenied       EventKind = "approval-denied"
	EventApprovalExpired      EventKind = "approval-expired"
)

// Event is an immutable, structured audit record. It is created at each
// interesting point, enqueued, and never modified once emitted.
type Event struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	EventType      EventKind      `json:"event_type"`
	Severity       Severity       `json:"severity"`
	PrincipalEmail string         `json:"user_email,omitempty"`
	ResourceID     string         `json:"server_id,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	Decision       string         `json:"decision,omitempty"`
	PolicyID       string         `json:"policy_id,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	RequestID      string         `json:"request_id"`
	Details        map[string]any `json:"details,omitempty"`
}

// NewEvent stamps an ID and timestamp on a caller-built Event.
func NewEvent(e Event) Event {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}

// Sink is one audit destination (a SIEM, a log service, a file). Send may
// be handed a batch of 1..N events; sinks that only accept one event at a
// time should loop internally.
type Sink interface {
	Name() string
	Send(ctx context.Context, events []Event) error
	HealthCheck(ctx context.Context) bool
}

// SinkConfig configures one sink's batching, compression, breaker, and
// health-monitor behavior.
type SinkConfig struct {
	BatchSize          int
	BatchTimeout       time.Duration
	MinCompressBytes   int
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	HealthCheckInterval time.Duration
	QueueDepth         int
	FallbackDir        string
	FallbackMaxBytes   int64
}

// DefaultSinkConfig returns the documented defaults for sink behavior.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		BatchSize:           50,
		BatchTimeout:        2 * time.Second,
		MinCompressBytes:    1024,
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		QueueDepth:          2000,
		FallbackMaxBytes:    100 << 20,
	}
}

// Pipeline fans an Event out to every registered sink's queue without
// blocking the caller.
type Pipeline struct {
	mu      sync.RWMutex
	runners map[string]*sinkRunner
	logger  *slog.Logger
	alerts  *AlertRegistry
}

// New constructs an empty Pipeline. Sinks are attached with AddSink.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		runners: make(map[string]*sinkRunner),
		logger:  logger.With("component", "audit.Pipeline"),
		alerts:  NewAlertRegistry(),
	}
}

// Alerts exposes the pipeline's alert registry so callers can register
// predicates over the recent-errors window.
func (p *Pipeline) Alerts() *AlertRegistry { return p.alerts }

// AddSink attaches a sink with its own batch/compress/breaker/health/
// fallback runner and starts its background consumer.
func (p *Pipeline) AddSink(sink Sink, cfg SinkConfig) {
	r := newSinkRunner(sink, cfg, p.logger, p.alerts)
	p.mu.Lock()
	p.runners[sink.Name()] = r
	p.mu.Unlock()
	r.start()
}

// Emit hands ev to every sink's queue. It never blocks: a full queue drops
// the oldest entry and increments that sink's dropped-events counter,
// never the producer.
func (p *Pipeline) Emit(ev Event) {
	start := time.Now()
	defer func() { emitLatency.Observe(time.Since(start).Seconds()) }()
	ev = NewEvent(ev)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.runners {
		r.enqueue(ev)
	}
}

// Stop drains and stops every sink's consumer, flushing any partial batch.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.runners {
		r.stop()
	}
}

// Stats reports per-sink operational counters for observability endpoints.
func (p *Pipeline) Stats() map[string]SinkStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]SinkStats, len(p.runners))
	for name, r := range p.runners {
		out[name] = r.stats()
	}
	return out
}

// SinkStats is a snapshot of one sink's health and delivery counters.
type SinkStats struct {
	Sent           int64
	Failed         int64
	Dropped        int64
	FallbackWrites int64
	Healthy        bool
	BreakerOpen    bool
}

// sinkRunner owns one sink's queue, batcher, breaker, health monitor, and
// fallback logger.
type sinkRunner struct {
	sink     Sink
	cfg      SinkConfig
	logger   *slog.Logger
	alerts   *AlertRegistry
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	breaker  *Breaker
	health   *HealthMonitor
	fallback *FallbackLogger

	sent, failed, dropped, fbWrites atomic.Int64
}

func newSinkRunner(sink Sink, cfg SinkConfig, logger *slog.Logger, alerts *AlertRegistry) *sinkRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSinkConfig().BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultSinkConfig().BatchTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultSinkConfig().QueueDepth
	}
	r := &sinkRunner{
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("sink", sink.Name()),
		alerts: alerts,
		queue:  make(chan Event, cfg.QueueDepth),
		done:   make(chan struct{}),
		breaker: NewBreaker(sink.Name(), cfg.FailureThreshold, cfg.RecoveryTimeout),
	}
	if cfg.FallbackDir != "" {
		r.fallback = NewFallbackLogger(cfg.FallbackDir, sink.Name(), cfg.FallbackMaxBytes)
	}
	r.health = NewHealthMonitor(sink, cfg.HealthCheckInterval, cfg.FailureThreshold)
	return r
}

func (r *sinkRunner) enqueue(ev Event) {
	select {
	case r.queue <- ev:
	default:
		// Queue full: drop the oldest entry to make room, never block the
		// producer.
		select {
		case <-r.queue:
			r.dropped.Add(1)
		default:
		}
		select {
		case r.queue <- ev:
		default:
			r.dropped.Add(1)
		}
	}
}

func (r *sinkRunner) start() {
	r.wg.Add(1)
	go r.loop()
	r.health.Start()
}

func (r *sinkRunner) stop() {
	close(r.done)
	r.wg.Wait()
	r.health.Stop()
}

func (r *sinkRunner) loop() {
	defer r.wg.Done()
	batch := make([]Event, 0, r.cfg.BatchSize)
	timer := time.NewTimer(r.cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.send(batch)
		batch = make([]Event, 0, r.cfg.BatchSize)
	}

	for {
		select {
		case ev := <-r.queue:
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(r.cfg.BatchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(r.cfg.BatchTimeout)
		case <-r.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case ev := <-r.queue:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *sinkRunner) send(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.breaker.Call(func() error {
		return r.sink.Send(ctx, batch)
	})
	if err == nil {
		r.sent.Add(int64(len(batch)))
		return
	}

	r.failed.Add(int64(len(batch)))
	category, severity, strategy := Classify(err)
	r.logger.Warn("sink send failed", "error", err, "category", category, "severity", severity, "strategy", strategy, "batch_size", len(batch))
	r.alerts.Record(r.sink.Name(), err, severity)

	if r.fallback != nil {
		if ferr := r.fallback.Write(batch); ferr != nil {
			r.logger.Error("fallback write failed", "error", ferr)
		} else {
			r.fbWrites.Add(1)
		}
	}
}

func (r *sinkRunner) stats() SinkStats {
	return SinkStats{
		Sent:           r.sent.Load(),
		Failed:         r.failed.Load(),
		Dropped:        r.dropped.Load(),
		FallbackWrites: r.fbWrites.Load(),
		Healthy:        r.health.Healthy(),
		BreakerOpen:    r.breaker.IsOpen(),
	}
}

// MarshalBatch serializes a batch as a JSON array, the default wire shape
// for sinks that don't require newline-delimited framing.
func MarshalBatch(events []Event) ([]byte, error) {
	return json.Marshal(events)
}
