package models

import "time"

// EventType categorizes a safety-relevant occurrence.
type EventType string

const (
	EventContentViolation EventType = "content_violation"
	EventReportedIncident EventType = "reported_incident"
	EventRateLimitBreach  EventType = "rate_limit_breach"
	EventLevelChanged     EventType = "level_changed"
	EventPanicButton      EventType = "panic_button"
)

// SafetyEvent is a detected safety-relevant occurrence for a kid account.
// Events carry a natural key (Source, ExternalID) so retried upstream
// deliveries do not create duplicates.
type SafetyEvent struct {
	ID                  string
	KidAccountID        string
	EventType           EventType
	Severity            Severity
	RiskScore           float64
	Source              string
	ExternalID          string
	AIFlags             []string
	RequiresHumanReview bool
	Resolved            bool
	ResolutionNotes     string
	ResolvedAt          *time.Time
	ParentNotified      bool
	CreatedAt           time.Time
}
