package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRegistry_FiresOnPredicateMatch(t *testing.T) {
	reg := NewAlertRegistry()
	fired := make(chan []alertRecord, 1)
	reg.Register("critical-burst", CountSeverityAtLeast(2, SeverityCritical), time.Hour, func(name string, window []alertRecord) {
		fired <- window
	})

	reg.Record("splunk", errors.New("boom"), SeverityCritical)
	select {
	case <-fired:
		t.Fatal("should not fire on first critical error")
	default:
	}

	reg.Record("splunk", errors.New("boom again"), SeverityCritical)
	select {
	case window := <-fired:
		assert.Len(t, window, 2)
	default:
		t.Fatal("expected predicate to fire on second critical error")
	}
}

func TestAlertRegistry_RespectsCooldown(t *testing.T) {
	reg := NewAlertRegistry()
	var fireCount int
	reg.Register("any-error", func([]alertRecord) bool { return true }, time.Hour, func(string, []alertRecord) {
		fireCount++
	})

	reg.Record("webhook", errors.New("one"), SeverityLow)
	reg.Record("webhook", errors.New("two"), SeverityLow)
	reg.Record("webhook", errors.New("three"), SeverityLow)

	assert.Equal(t, 1, fireCount, "cooldown should suppress repeated firing")
}

func TestAlertRegistry_WindowPrunesOldEntries(t *testing.T) {
	reg := NewAlertRegistry()
	reg.windowSpan = time.Millisecond
	reg.Record("splunk", errors.New("old"), SeverityLow)
	time.Sleep(5 * time.Millisecond)
	reg.Record("splunk", errors.New("new"), SeverityLow)

	window := reg.Window()
	require.Len(t, window, 1)
	assert.Equal(t, "new", window[0].err.Error())
}
