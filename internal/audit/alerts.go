package audit

import (
	"sync"
	"time"
)

// alertRecord is one observed sink-send failure, kept for the recent-errors
// window predicates evaluate over.
type alertRecord struct {
	sinkName  string
	err       error
	severity  Severity
	observedAt time.Time
}

// AlertPredicate inspects the recent-errors window and reports whether its
// condition currently holds (e.g. "3+ critical errors from any sink in the
// last 5 minutes").
type AlertPredicate func(window []alertRecord) bool

// AlertCallback fires when a registered predicate matches.
type AlertCallback func(name string, window []alertRecord)

type registeredAlert struct {
	name      string
	predicate AlertPredicate
	callback  AlertCallback
	cooldown  time.Duration
	lastFired time.Time
}

// AlertRegistry tracks a rolling window of sink-send failures and evaluates
// user-registered predicates over it, firing callbacks no more often than
// each predicate's cooldown allows. Grounded on internal/alert/manager.go's
// dedup-by-key/TTL pattern, generalized from a single dedup key per alert
// type into arbitrary caller-supplied predicates over a time window.
type AlertRegistry struct {
	mu         sync.Mutex
	window     []alertRecord
	windowSpan time.Duration
	alerts     []*registeredAlert
}

// NewAlertRegistry constructs a registry with the default 15-minute
// recent-errors window.
func NewAlertRegistry() *AlertRegistry {
	return &AlertRegistry{windowSpan: 15 * time.Minute}
}

// Record appends a sink-send failure to the window and evaluates every
// registered predicate against it, firing callbacks whose cooldown has
// elapsed.
func (a *AlertRegistry) Record(sinkName string, err error, severity Severity) {
	a.mu.Lock()
	now := time.Now()
	a.window = append(a.window, alertRecord{sinkName: sinkName, err: err, severity: severity, observedAt: now})
	a.window = pruneWindow(a.window, now, a.windowSpan)
	snapshot := append([]alertRecord(nil), a.window...)

	var toFire []*registeredAlert
	for _, reg := range a.alerts {
		if now.Sub(reg.lastFired) < reg.cooldown {
			continue
		}
		if reg.predicate(snapshot) {
			reg.lastFired = now
			toFire = append(toFire, reg)
		}
	}
	a.mu.Unlock()

	for _, reg := range toFire {
		reg.callback(reg.name, snapshot)
	}
}

// Register adds a named predicate/callback pair. cooldown bounds how often
// callback may fire for this predicate, avoiding alert storms.
func (a *AlertRegistry) Register(name string, predicate AlertPredicate, cooldown time.Duration, callback AlertCallback) {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, &registeredAlert{name: name, predicate: predicate, callback: callback, cooldown: cooldown})
}

// Window returns a snapshot of the current recent-errors window, for
// diagnostics endpoints.
func (a *AlertRegistry) Window() []alertRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alertRecord(nil), a.window...)
}

func pruneWindow(records []alertRecord, now time.Time, span time.Duration) []alertRecord {
	cutoff := now.Add(-span)
	kept := records[:0]
	for _, r := range records {
		if r.observedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

// CountSeverityAtLeast is a predicate builder: true once the window holds
// at least n records whose severity is severity or higher.
func CountSeverityAtLeast(n int, severity Severity) AlertPredicate {
	rank := severityRank(severity)
	return func(window []alertRecord) bool {
		count := 0
		for _, r := range window {
			if severityRank(r.severity) >= rank {
				count++
			}
		}
		return count >= n
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
