// Package governance implements the enforcement pipeline's short-circuit
// predicates: the emergency switch, the allowlist, break-glass overrides,
// and time-of-day rules. Every predicate here is consulted before (or
// instead of) the policy engine and budget/rate checks.
package governance

import (
	"log/slog"
	"sync/atomic"
)

// EmergencySwitch is a single admin-settable flag. While active, every
// request is allowed and tagged source=emergency; decisions continue to
// be audited as normal. It is re-evaluated on every request and is never
// served from the decision cache.
type EmergencySwitch struct {
	active atomic.Bool
	logger *slog.Logger
}

func NewEmergencySwitch(logger *slog.Logger) *EmergencySwitch {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmergencySwitch{logger: logger.With("component", "governance.EmergencySwitch")}
}

// Active reports whether the emergency switch is currently on.
func (e *EmergencySwitch) Active() bool { return e.active.Load() }

// Activate turns the switch on. actor identifies the admin principal for
// the audit trail.
func (e *EmergencySwitch) Activate(actor, reason string) {
	e.active.Store(true)
	e.logger.Error("emergency switch activated", "actor", actor, "reason", reason)
}

// Deactivate turns the switch off.
func (e *EmergencySwitch) Deactivate(actor string) {
	e.active.Store(false)
	e.logger.Warn("emergency switch deactivated", "actor", actor)
}
