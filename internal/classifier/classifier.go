// Package classifier implements the tool sensitivity classifier: a
// deterministic, idempotent heuristic mapping a tool's name/description/
// parameters to one of four sensitivity levels, plus a manual override
// table preserving the audit trail of any human correction.
//
// The heuristic is a first-match-wins ordered list of keyword tiers,
// evaluated from most to least sensitive.
package classifier

import (
	"strings"
	"sync"
	"time"
)

// Sensitivity mirrors cache.Sensitivity; kept as its own type so this
// package has no dependency on the decision cache.
type Sensitivity string

const (
	SensitivityCritical Sensitivity = "critical"
	SensitivityHigh     Sensitivity = "high"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityLow      Sensitivity = "low"
)

// keywordTier is one tier of the ordered heuristic.
type keywordTier struct {
	level    Sensitivity
	keywords []string
}

// tiers are evaluated in order; the first tier with a matching keyword
// wins.
var tiers = []keywordTier{
	{
		level: SensitivityCritical,
		keywords: []string{
			"payment", "transaction", "credit_card", "password", "secret",
			"key", "token", "credential", "auth", "permission",
			"access_control", "encrypt", "decrypt",
		},
	},
	{
		level: SensitivityHigh,
		keywords: []string{
			"delete", "drop", "exec", "admin", "root", "sudo", "kill",
			"destroy", "remove", "purge", "truncate",
		},
	},
	{
		level: SensitivityMedium,
		keywords: []string{
			"write", "update", "modify", "create", "insert", "save",
			"upload", "put", "post", "patch",
		},
	},
	{
		level: SensitivityLow,
		keywords: []string{
			"read", "get", "list", "fetch", "view", "show", "query",
			"search", "find",
		},
	},
}

// Detect runs the keyword heuristic against a tool's combined name,
// description, and parameter names. It is pure and deterministic: the
// same input always yields the same level.
func Detect(name, description string, parameters map[string]any) Sensitivity {
	text := normalize(name + " " + description + " " + paramNames(parameters))

	for _, tier := range tiers {
		for _, kw := range tier.keywords {
			if hasWord(text, kw) {
				return tier.level
			}
		}
	}
	return SensitivityMedium // default when no tier's keywords match
}

// normalize lower-cases and treats underscores/spaces as equivalent word
// separators so "credit_card" matches "credit card" and vice versa.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	return s
}

func paramNames(parameters map[string]any) string {
	if len(parameters) == 0 {
		return ""
	}
	names := make([]string, 0, len(parameters))
	for k := range parameters {
		names = append(names, k)
	}
	return strings.Join(names, " ")
}

// hasWord reports whether kw appears in text on a word boundary. Both text
// and kw are expected to already be normalize()'d (spaces instead of
// underscores); this checks each whitespace-delimited token sequence of kw
// appears contiguously in text as whole words.
func hasWord(text, kw string) bool {
	kw = normalize(kw)
	kwWords := strings.Fields(kw)
	textWords := strings.Fields(text)
	if len(kwWords) == 0 || len(textWords) < len(kwWords) {
		return false
	}
	for i := 0; i+len(kwWords) <= len(textWords); i++ {
		match := true
		for j, w := range kwWords {
			if textWords[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Override records a human correction to the classifier's automatic
// output. The record is retained for audit whenever a human changes a
// tool's sensitivity.
type Override struct {
	ToolID        string
	PreviousLevel Sensitivity
	NewLevel      Sensitivity
	Reviewer      string
	Reason        string
	SetAt         time.Time
}

// OverrideStore holds the current sensitivity and override history for
// every tool a human has manually reclassified. Tools never touched by
// SetSensitivity are not present here; callers fall back to Detect for
// those.
type OverrideStore struct {
	mu        sync.RWMutex
	current   map[string]Sensitivity
	histories map[string][]Override
}

// NewOverrideStore constructs an empty override table.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{
		current:   make(map[string]Sensitivity),
		histories: make(map[string][]Override),
	}
}

// SetSensitivity records a manual override, appending to the tool's
// history rather than replacing it.
func (s *OverrideStore) SetSensitivity(toolID string, newLevel Sensitivity, reviewer, reason string, detected Sensitivity) Override {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.current[toolID]
	if !ok {
		previous = detected
	}

	o := Override{
		ToolID:        toolID,
		PreviousLevel: previous,
		NewLevel:      newLevel,
		Reviewer:      reviewer,
		Reason:        reason,
		SetAt:         time.Now(),
	}
	s.current[toolID] = newLevel
	s.histories[toolID] = append(s.histories[toolID], o)
	return o
}

// Effective returns the override's sensitivity if one has been set,
// otherwise the heuristic's detection for name/description/parameters.
func (s *OverrideStore) Effective(toolID, name, description string, parameters map[string]any) Sensitivity {
	s.mu.RLock()
	level, ok := s.current[toolID]
	s.mu.RUnlock()
	if ok {
		return level
	}
	return Detect(name, description, parameters)
}

// History returns the full override history for a tool, oldest first.
func (s *OverrideStore) History(toolID string) []Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.histories[toolID]
	out := make([]Override, len(hist))
	copy(out, hist)
	return out
}
