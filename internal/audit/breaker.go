package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is the distinguished error Breaker.Call returns while the
// breaker is open, instead of calling the sink at all.
var ErrBreakerOpen = errors.New("audit: circuit breaker open")

// Breaker wraps sony/gobreaker.CircuitBreaker with standard three-state
// semantics: closed -> open after failureThreshold consecutive failures,
// half-open after recoveryTimeout admits a single probe, success closes,
// failure reopens.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker constructs a Breaker for one sink.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "audit-sink-" + name,
		MaxRequests: 1, // half-open admits a single probe
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call runs fn through the breaker. When the breaker is open it returns
// ErrBreakerOpen without invoking fn at all.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

// IsOpen reports whether the breaker is currently refusing calls.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// HealthMonitor periodically invokes a sink's HealthCheck and tracks
// consecutive-failure-based health: threshold consecutive failures mark
// the sink unhealthy.
type HealthMonitor struct {
	sink      Sink
	interval  time.Duration
	threshold int

	mu          sync.Mutex
	consecutive int
	healthy     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor constructs a HealthMonitor; Start must be called to
// begin polling.
func NewHealthMonitor(sink Sink, interval time.Duration, threshold int) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &HealthMonitor{sink: sink, interval: interval, threshold: threshold, healthy: true}
}

// Start begins the background polling loop.
func (h *HealthMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx)
}

// Stop cancels the polling loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
}

func (h *HealthMonitor) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HealthMonitor) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok := h.sink.HealthCheck(checkCtx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if ok {
		h.consecutive = 0
		h.healthy = true
		return
	}
	h.consecutive++
	if h.consecutive >= h.threshold {
		h.healthy = false
	}
}

// Healthy reports the monitor's current health verdict: false once a run
// of consecutive failures reaches the threshold, true again after the next
// successful check. It does not report whether polling is running.
func (h *HealthMonitor) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}
