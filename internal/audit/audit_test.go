package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	got    []Event
	failN  int
	sendCt int
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(ctx context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendCt++
	if r.sendCt <= r.failN {
		return errors.New("simulated send failure")
	}
	r.got = append(r.got, events...)
	return nil
}

func (r *recordingSink) HealthCheck(ctx context.Context) bool { return true }

func (r *recordingSink) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.got...)
}

func TestPipeline_EmitDeliversBatchOnTimeout(t *testing.T) {
	p := New(slog.Default())
	sink := &recordingSink{name: "rec"}
	p.AddSink(sink, SinkConfig{BatchSize: 50, BatchTimeout: 20 * time.Millisecond, QueueDepth: 100})
	defer p.Stop()

	p.Emit(Event{EventType: EventToolInvoked})
	p.Emit(Event{EventType: EventApprovalGranted})

	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_EmitFlushesOnBatchSize(t *testing.T) {
	p := New(slog.Default())
	sink := &recordingSink{name: "rec"}
	p.AddSink(sink, SinkConfig{BatchSize: 3, BatchTimeout: time.Minute, QueueDepth: 100})
	defer p.Stop()

	for i := 0; i < 3; i++ {
		p.Emit(Event{EventType: EventToolInvoked})
	}

	require.Eventually(t, func() bool { return len(sink.events()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_FallbackWritesOnSendFailure(t *testing.T) {
	dir := t.TempDir()
	p := New(slog.Default())
	sink := &recordingSink{name: "rec", failN: 10}
	p.AddSink(sink, SinkConfig{BatchSize: 1, BatchTimeout: 10 * time.Millisecond, QueueDepth: 100, FallbackDir: dir})
	defer p.Stop()

	p.Emit(Event{EventType: EventToolInvoked})

	require.Eventually(t, func() bool {
		return p.Stats()["rec"].FallbackWrites > 0
	}, time.Second, 5*time.Millisecond)
}

func TestPipeline_EmitNeverBlocksOnFullQueue(t *testing.T) {
	p := New(slog.Default())
	sink := &recordingSink{name: "rec", failN: 1000}
	p.AddSink(sink, SinkConfig{BatchSize: 1000, BatchTimeout: time.Hour, QueueDepth: 2})
	defer p.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			p.Emit(Event{EventType: EventToolInvoked})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	require.Eventually(t, func() bool { return p.Stats()["rec"].Dropped > 0 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_StatsReportsBreakerState(t *testing.T) {
	p := New(slog.Default())
	sink := &recordingSink{name: "rec", failN: 1000}
	p.AddSink(sink, SinkConfig{BatchSize: 1, BatchTimeout: 5 * time.Millisecond, QueueDepth: 100, FailureThreshold: 2})
	defer p.Stop()

	for i := 0; i < 5; i++ {
		p.Emit(Event{EventType: EventToolInvoked})
		time.Sleep(10 * time.Millisecond)
	}

	assert.True(t, p.Stats()["rec"].BreakerOpen)
}

func TestNewEvent_StampsIDAndTimestamp(t *testing.T) {
	ev := NewEvent(Event{EventType: EventToolInvoked})
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestMarshalBatch_ProducesJSONArray(t *testing.T) {
	b, err := MarshalBatch([]Event{NewEvent(Event{}), NewEvent(Event{})})
	require.NoError(t, err)
	assert.Equal(t, byte('['), b[0])
}
