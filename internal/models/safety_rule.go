package models

import "time"

// RuleAction is the verdict a safety rule produces.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionFlag  RuleAction = "flag"
	ActionBlock RuleAction = "block"
)

// Severity orders safety outcomes from benign to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of a severity; unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ContentSafetyRule is a screening policy authored by trust & safety staff.
// Rules are never deleted, only deactivated.
type ContentSafetyRule struct {
	ID                  string
	RuleType            string
	Pattern             string
	Action              RuleAction
	Severity            Severity
	MinAge              int
	MaxAge              int
	ApplicableContexts  []string
	ConfidenceThreshold float64
	RequiresHumanReview bool
	Priority            int
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AppliesTo reports whether the rule covers the given age and context tag.
func (r *ContentSafetyRule) AppliesTo(age int, context string) bool {
	if !r.Active {
		return false
	}
	if age < r.MinAge || age > r.MaxAge {
		return false
	}
	for _, c := range r.ApplicableContexts {
		if c == context {
			return true
		}
	}
	return false
}
