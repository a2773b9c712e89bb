package safety

import (
	"testing"

	"fledge/internal/models"
)

func rule(id string, action models.RuleAction, severity models.Severity, priority int) models.ContentSafetyRule {
	return models.ContentSafetyRule{
		ID:                 id,
		RuleType:           "keyword",
		Pattern:            "",
		Action:             action,
		Severity:           severity,
		MinAge:             0,
		MaxAge:             17,
		ApplicableContexts: []string{"chat"},
		Priority:           priority,
		Active:             true,
	}
}

func TestMatchFailsClosedWithNoRules(t *testing.T) {
	verdict := Match(Sample{Content: "hello", Context: "chat", Age: 12}, nil)

	if verdict.Matched {
		t.Error("Matched = true, want false")
	}
	if verdict.Action != models.ActionFlag {
		t.Errorf("Action = %s, want flag", verdict.Action)
	}
	if verdict.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want medium", verdict.Severity)
	}
	if !verdict.RequiresHumanReview {
		t.Error("RequiresHumanReview = false, want true (fail closed)")
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	rules := []models.ContentSafetyRule{
		rule("r1", models.ActionFlag, models.SeverityMedium, 10),
		rule("r2", models.ActionBlock, models.SeverityHigh, 20),
		rule("r3", models.ActionAllow, models.SeverityLow, 5),
	}
	sample := Sample{Content: "some message", Context: "chat", Age: 12}

	first := Match(sample, rules)
	for i := 0; i < 20; i++ {
		if got := Match(sample, rules); got != first {
			t.Fatalf("Match not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestMatchHighestPriorityWins(t *testing.T) {
	rules := []models.ContentSafetyRule{
		rule("low-pri", models.ActionAllow, models.SeverityLow, 1),
		rule("high-pri", models.ActionBlock, models.SeverityHigh, 50),
		rule("mid-pri", models.ActionFlag, models.SeverityMedium, 10),
	}
	verdict := Match(Sample{Content: "anything", Context: "chat", Age: 12}, rules)

	if verdict.RuleID != "high-pri" {
		t.Errorf("RuleID = %s, want high-pri", verdict.RuleID)
	}
	if verdict.Action != models.ActionBlock {
		t.Errorf("Action = %s, want block", verdict.Action)
	}
}

func TestMatchPriorityTieBrokenBySeverity(t *testing.T) {
	rules := []models.ContentSafetyRule{
		rule("tie-medium", models.ActionFlag, models.SeverityMedium, 10),
		rule("tie-critical", models.ActionBlock, models.SeverityCritical, 10),
		rule("tie-low", models.ActionAllow, models.SeverityLow, 10),
	}
	verdict := Match(Sample{Content: "anything", Context: "chat", Age: 12}, rules)

	if verdict.RuleID != "tie-critical" {
		t.Errorf("RuleID = %s, want tie-critical (severity breaks the tie)", verdict.RuleID)
	}
}

func TestMatchFiltersByAge(t *testing.T) {
	teenOnly := rule("teen", models.ActionAllow, models.SeverityLow, 10)
	teenOnly.MinAge = 13
	teenOnly.MaxAge = 17

	verdict := Match(Sample{Content: "anything", Context: "chat", Age: 9}, []models.ContentSafetyRule{teenOnly})
	if verdict.Matched {
		t.Error("rule for 13-17 matched a 9-year-old")
	}

	verdict = Match(Sample{Content: "anything", Context: "chat", Age: 14}, []models.ContentSafetyRule{teenOnly})
	if !verdict.Matched {
		t.Error("rule for 13-17 did not match a 14-year-old")
	}
}

func TestMatchFiltersByContext(t *testing.T) {
	chatOnly := rule("chat-only", models.ActionFlag, models.SeverityMedium, 10)

	verdict := Match(Sample{Content: "anything", Context: "profile", Age: 12}, []models.ContentSafetyRule{chatOnly})
	if verdict.Matched {
		t.Error("chat rule matched a profile sample")
	}
}

func TestMatchIgnoresInactiveRules(t *testing.T) {
	retired := rule("retired", models.ActionBlock, models.SeverityCritical, 100)
	retired.Active = false

	verdict := Match(Sample{Content: "anything", Context: "chat", Age: 12}, []models.ContentSafetyRule{retired})
	if verdict.Matched {
		t.Error("inactive rule matched")
	}
}

func TestMatchPatternAgainstContent(t *testing.T) {
	keyword := rule("keyword", models.ActionBlock, models.SeverityHigh, 10)
	keyword.Pattern = "gambling"

	verdict := Match(Sample{Content: "check out this Gambling site", Context: "chat", Age: 12}, []models.ContentSafetyRule{keyword})
	if !verdict.Matched {
		t.Error("case-insensitive substring pattern did not match")
	}

	verdict = Match(Sample{Content: "homework help", Context: "chat", Age: 12}, []models.ContentSafetyRule{keyword})
	if verdict.Matched {
		t.Error("pattern matched unrelated content")
	}
}

func TestMatchPatternAgainstCategories(t *testing.T) {
	category := rule("category", models.ActionBlock, models.SeverityHigh, 10)
	category.Pattern = "violence"

	verdict := Match(Sample{
		Content:    "unrelated text",
		Context:    "chat",
		Age:        12,
		Categories: []string{"Violence"},
	}, []models.ContentSafetyRule{category})
	if !verdict.Matched {
		t.Error("classifier category did not satisfy the pattern")
	}
}

func TestMatchLowConfidenceForcesReview(t *testing.T) {
	r := rule("confident", models.ActionAllow, models.SeverityLow, 10)
	r.ConfidenceThreshold = 0.8
	r.RequiresHumanReview = false

	low := 0.5
	verdict := Match(Sample{Content: "anything", Context: "chat", Age: 12, Confidence: &low}, []models.ContentSafetyRule{r})
	if !verdict.RequiresHumanReview {
		t.Error("confidence below threshold did not force human review")
	}

	high := 0.9
	verdict = Match(Sample{Content: "anything", Context: "chat", Age: 12, Confidence: &high}, []models.ContentSafetyRule{r})
	if verdict.RequiresHumanReview {
		t.Error("confidence above threshold forced review anyway")
	}
}
