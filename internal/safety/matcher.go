package safety

import (
	"strings"

	"fledge/internal/models"
)

// Sample is a content/context event to screen.
type Sample struct {
	Content    string
	Context    string
	Age        int
	Confidence *float64
	Categories []string
}

// Verdict is the outcome of matching a sample against the rule set.
type Verdict struct {
	Action              models.RuleAction
	Severity            models.Severity
	RequiresHumanReview bool
	RuleID              string
	Matched             bool
}

// Match screens a sample against the active rule set and returns the best
// matching rule's verdict. It is a pure function: identical inputs always
// yield the identical verdict.
//
// Rules are filtered by age range and context, then the highest-priority
// match wins, with ties broken by higher severity. When no rule matches,
// the verdict fails closed: Flag with mandatory human review, never a
// silent Allow.
func Match(sample Sample, rules []models.ContentSafetyRule) Verdict {
	var best *models.ContentSafetyRule
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(sample.Age, sample.Context) {
			continue
		}
		if !patternMatches(rule, sample) {
			continue
		}
		if best == nil || betterMatch(rule, best) {
			best = rule
		}
	}

	if best == nil {
		return Verdict{
			Action:              models.ActionFlag,
			Severity:            models.SeverityMedium,
			RequiresHumanReview: true,
		}
	}

	verdict := Verdict{
		Action:              best.Action,
		Severity:            best.Severity,
		RequiresHumanReview: best.RequiresHumanReview,
		RuleID:              best.ID,
		Matched:             true,
	}

	// A classifier below the rule's confidence bar always escalates to a
	// human, regardless of the rule's own flag.
	if sample.Confidence != nil && *sample.Confidence < best.ConfidenceThreshold {
		verdict.RequiresHumanReview = true
	}

	return verdict
}

// betterMatch reports whether candidate outranks current: higher priority
// wins, ties broken by higher severity.
func betterMatch(candidate, current *models.ContentSafetyRule) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.Severity.Rank() > current.Severity.Rank()
}

// patternMatches reports whether the rule's pattern applies to the sample.
// An empty pattern matches any content; otherwise the pattern must appear
// in the content or among the classifier categories.
func patternMatches(rule *models.ContentSafetyRule, sample Sample) bool {
	if rule.Pattern == "" {
		return true
	}
	pattern := strings.ToLower(rule.Pattern)
	if sample.Content != "" && strings.Contains(strings.ToLower(sample.Content), pattern) {
		return true
	}
	for _, c := range sample.Categories {
		if strings.EqualFold(c, rule.Pattern) {
			return true
		}
	}
	return false
}
