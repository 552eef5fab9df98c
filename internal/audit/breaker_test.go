package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", 3, 50*time.Millisecond)
	failing := errors.New("send failed")

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return failing })
		assert.ErrorIs(t, err, failing)
	}

	require.True(t, b.IsOpen())
	err := b.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreaker_HalfOpenAdmitsProbeAfterTimeout(t *testing.T) {
	b := NewBreaker("test2", 1, 20*time.Millisecond)

	err := b.Call(func() error { return errors.New("fail") })
	require.Error(t, err)
	require.True(t, b.IsOpen())

	time.Sleep(30 * time.Millisecond)
	err = b.Call(func() error { return nil })
	assert.NoError(t, err)
	assert.False(t, b.IsOpen())
}

func TestHealthMonitor_TracksConsecutiveFailures(t *testing.T) {
	sink := &fakeHealthSink{healthy: false}
	hm := NewHealthMonitor(sink, 5*time.Millisecond, 2)
	hm.Start()
	defer hm.Stop()

	deadline := time.After(200 * time.Millisecond)
	for hm.Healthy() {
		select {
		case <-deadline:
			t.Fatal("expected monitor to become unhealthy")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.False(t, hm.Healthy())
}

type fakeHealthSink struct {
	healthy bool
}

func (f *fakeHealthSink) Name() string { return "fake" }
func (f *fakeHealthSink) Send(ctx context.Context, events []Event) error { return nil }
func (f *fakeHealthSink) HealthCheck(ctx context.Context) bool           { return f.healthy }
