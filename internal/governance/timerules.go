package governance

import (
	"fmt"
	"strings"
	"time"
)

// TimeRuleAction is the verdict a matching time rule produces.
type TimeRuleAction string

const (
	TimeRuleAllow TimeRuleAction = "allow"
	TimeRuleBlock TimeRuleAction = "block"
	TimeRuleAlert TimeRuleAction = "alert"
)

// TimeRule is (start_time, end_time, days_of_week, applies_to_tags, action),
// evaluated against the current wall clock in a configured timezone.
type TimeRule struct {
	Name       string
	StartTime  string // "HH:MM"
	EndTime    string // "HH:MM"
	DaysOfWeek []time.Weekday
	AppliesTo  []string // tags; empty means "applies to everything"
	Action     TimeRuleAction
}

// TimeRuleSet evaluates an ordered list of TimeRules against a location.
type TimeRuleSet struct {
	rules    []TimeRule
	location *time.Location
}

// NewTimeRuleSet builds a rule set evaluated in the given IANA timezone
// name (e.g. "UTC", "America/New_York"). An unrecognized timezone falls
// back to UTC.
func NewTimeRuleSet(rules []TimeRule, timezone string) *TimeRuleSet {
	loc, err := time.LoadLocation(timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &TimeRuleSet{rules: rules, location: loc}
}

// Evaluate returns the first matching rule's action and name, or
// ("", "") if no rule matches the resource's tags at the current time.
func (s *TimeRuleSet) Evaluate(resourceTags []string) (action TimeRuleAction, ruleName string) {
	return s.EvaluateAt(time.Now(), resourceTags)
}

// EvaluateAt is Evaluate with an explicit clock, for deterministic tests.
func (s *TimeRuleSet) EvaluateAt(now time.Time, resourceTags []string) (TimeRuleAction, string) {
	localNow := now.In(s.location)

	for _, rule := range s.rules {
		if !rule.appliesToAny(resourceTags) {
			continue
		}
		if !rule.dayMatches(localNow.Weekday()) {
			continue
		}
		if rule.windowMatches(localNow) {
			return rule.Action, rule.Name
		}
	}
	return "", ""
}

func (r *TimeRule) appliesToAny(tags []string) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, want := range r.AppliesTo {
		for _, have := range tags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func (r *TimeRule) dayMatches(day time.Weekday) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range r.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

func (r *TimeRule) windowMatches(now time.Time) bool {
	start, err1 := parseClock(r.StartTime)
	end, err2 := parseClock(r.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}

	cur := now.Hour()*60 + now.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	// Window wraps past midnight, e.g. 22:00-06:00.
	return cur >= start || cur < end
}

func parseClock(s string) (minutes int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("governance: invalid clock time %q", s)
	}
	return h*60 + m, nil
}
