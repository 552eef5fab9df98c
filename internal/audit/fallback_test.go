package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallbackLogger_WritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	fl := NewFallbackLogger(dir, "splunk", 1<<20)
	defer fl.Close()

	events := []Event{
		NewEvent(Event{EventType: EventToolInvoked, Severity: SeverityLow}),
		NewEvent(Event{EventType: EventApprovalGranted, Severity: SeverityMedium}),
	}
	require.NoError(t, fl.Write(events))
	require.NoError(t, fl.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestFallbackLogger_RotatesOnMaxBytes(t *testing.T) {
	dir := t.TempDir()
	fl := NewFallbackLogger(dir, "datadog", 80)
	defer fl.Close()

	for i := 0; i < 10; i++ {
		ev := NewEvent(Event{EventType: EventToolInvoked, Severity: SeverityLow, Details: map[string]any{"i": i}})
		require.NoError(t, fl.Write([]Event{ev}))
	}
	require.NoError(t, fl.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Greater(t, len(entries), 1, "expected rotation to produce multiple files")
}

func TestFallbackLogger_DefaultsMaxBytesWhenUnset(t *testing.T) {
	fl := NewFallbackLogger(t.TempDir(), "sink", 0)
	require.Equal(t, DefaultSinkConfig().FallbackMaxBytes, fl.maxBytes)
}
