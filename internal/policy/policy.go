// Package policy holds the content and rate rules applied before a run is
// allowed to dispatch publishing actions.
package policy

import (
	"regexp"
	"strings"

	"github.com/rendis/socialflow/pkg/schema"
)

// Lint thresholds.
const (
	MaxTextLength = 1000
	MaxLinks      = 3
)

// Lint reasons.
const (
	ReasonTooLong      = "too_long"
	ReasonTooManyLinks = "too_many_links"
)

// QuotaRule limits how often one action may be performed per day.
type QuotaRule struct {
	Action      schema.ActionType `json:"action"`
	LimitPerDay int               `json:"limitPerDay"`
	CooldownSec int               `json:"cooldownSec,omitempty"`
}

// Policy is the rule set attached to a policy_gate node.
type Policy struct {
	RequiresApproval bool        `json:"requiresApproval"`
	Quotas           []QuotaRule `json:"quotas,omitempty"`
	BlockedWords     []string    `json:"blockedWords,omitempty"`
}

// Decision is the outcome of checking content against a Policy.
type Decision struct {
	Allowed          bool     `json:"allowed"`
	Reason           string   `json:"reason,omitempty"`
	RequiresApproval bool     `json:"requiresApproval"`
	LintReasons      []string `json:"lintReasons,omitempty"`
}

var linkPattern = regexp.MustCompile(`https?://`)

// LintResult reports spam heuristics on a piece of text.
type LintResult struct {
	Flagged bool     `json:"flagged"`
	Reasons []string `json:"reasons,omitempty"`
}

// Lint flags text that is too long or carries too many links.
func Lint(text string) LintResult {
	var reasons []string
	if text == "" {
		return LintResult{}
	}
	if len([]rune(text)) > MaxTextLength {
		reasons = append(reasons, ReasonTooLong)
	}
	if len(linkPattern.FindAllStringIndex(text, -1)) > MaxLinks {
		reasons = append(reasons, ReasonTooManyLinks)
	}
	return LintResult{Flagged: len(reasons) > 0, Reasons: reasons}
}

// Check evaluates text against p. Blocked words deny outright; lint flags
// escalate to human approval.
func Check(p Policy, text string) Decision {
	lower := strings.ToLower(text)
	for _, w := range p.BlockedWords {
		w = strings.TrimSpace(w)
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return Decision{Allowed: false, Reason: "blocked word: " + w}
		}
	}
	lint := Lint(text)
	return Decision{
		Allowed:          true,
		RequiresApproval: p.RequiresApproval || lint.Flagged,
		LintReasons:      lint.Reasons,
	}
}
