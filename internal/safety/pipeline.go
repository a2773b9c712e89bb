package safety

import (
	"context"
	"log"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/ids"
	"fledge/internal/models"
	"fledge/internal/obs"
)

// Signal is a raw safety input: classifier output, reported incident, or a
// rate-limit breach. Source and ExternalID form the idempotency key for
// retried upstream deliveries.
type Signal struct {
	EventType  models.EventType
	Severity   models.Severity
	Content    string
	Context    string
	Confidence *float64
	Categories []string
	Source     string
	ExternalID string
}

// RuleStore provides the active rule set for matching.
type RuleStore interface {
	ListActive() ([]models.ContentSafetyRule, error)
}

// EventStore persists safety events.
type EventStore interface {
	Create(e *models.SafetyEvent) error
	GetByID(id string) (*models.SafetyEvent, error)
	GetByNaturalKey(source, externalID string) (*models.SafetyEvent, error)
	CountRecent(kidAccountID string, since time.Time) (int, error)
	MarkParentNotified(id string) error
	Resolve(id, notes string, now time.Time) error
}

// AccountStore resolves the kid account a signal concerns.
type AccountStore interface {
	GetByID(id string) (*models.KidAccount, error)
}

// Classifier scores content when the upstream signal carries none.
type Classifier interface {
	Classify(ctx context.Context, content string) (confidence float64, categories []string, err error)
}

// Notifier alerts the supervising parent through the external event bus.
type Notifier interface {
	ParentAlert(ctx context.Context, kid *models.KidAccount, event *models.SafetyEvent) error
}

// Recomputer triggers a maturity-score recomputation after ingestion.
type Recomputer interface {
	Recompute(kidAccountID string) (*models.MaturityScore, error)
}

// Pipeline ingests raw safety signals: match, score risk, persist, notify,
// and feed the result back into the score engine.
type Pipeline struct {
	rules      RuleStore
	events     EventStore
	accounts   AccountStore
	classifier Classifier
	notifier   Notifier
	scorer     Recomputer
	clock      clock.Clock
	debug      bool

	// retry knobs for transient store failures
	maxAttempts int
	retryDelay  time.Duration
}

// NewPipeline creates a safety event pipeline. classifier and notifier may
// be nil when those collaborators are not deployed.
func NewPipeline(rules RuleStore, events EventStore, accounts AccountStore, classifier Classifier, notifier Notifier, scorer Recomputer, clk clock.Clock) *Pipeline {
	return &Pipeline{
		rules:       rules,
		events:      events,
		accounts:    accounts,
		classifier:  classifier,
		notifier:    notifier,
		scorer:      scorer,
		clock:       clk,
		maxAttempts: 3,
		retryDelay:  200 * time.Millisecond,
	}
}

// SetDebug enables verbose logging
func (p *Pipeline) SetDebug(debug bool) {
	p.debug = debug
}

// Record ingests a signal for a kid account and returns the persisted
// event. Replaying a signal with the same (source, external id) returns
// the original event without creating a duplicate.
func (p *Pipeline) Record(ctx context.Context, kidAccountID string, signal Signal) (*models.SafetyEvent, error) {
	if signal.Source == "" || signal.ExternalID == "" {
		return nil, faults.New(faults.KindValidation, "signal requires source and external id")
	}

	acct, err := p.accounts.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}

	existing, err := p.events.GetByNaturalKey(signal.Source, signal.ExternalID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "checking event natural key")
	}
	if existing != nil {
		if p.debug {
			log.Printf("[DEBUG] duplicate signal ignored: source=%s external_id=%s", signal.Source, signal.ExternalID)
		}
		obs.SafetyEventsDeduped.Inc()
		return existing, nil
	}

	// Classify content when the upstream signal carries no confidence. A
	// classifier outage fails closed: the event goes to human review no
	// matter what the rules decide.
	classifierDown := false
	if signal.Content != "" && signal.Confidence == nil && p.classifier != nil {
		confidence, categories, err := p.classifier.Classify(ctx, signal.Content)
		if err != nil {
			log.Printf("Classifier unavailable, forcing human review: %v", err)
			classifierDown = true
		} else {
			signal.Confidence = &confidence
			signal.Categories = categories
		}
	}

	severity := signal.Severity
	requiresReview := classifierDown
	aiFlags := signal.Categories

	if signal.Content != "" {
		rules, err := p.rules.ListActive()
		if err != nil {
			return nil, faults.Wrap(faults.KindDependency, err, "loading active rules")
		}
		verdict := Match(Sample{
			Content:    signal.Content,
			Context:    signal.Context,
			Age:        acct.Age,
			Confidence: signal.Confidence,
			Categories: signal.Categories,
		}, rules)
		requiresReview = requiresReview || verdict.RequiresHumanReview
		if verdict.Severity.Rank() > severity.Rank() {
			severity = verdict.Severity
		}
		if verdict.Action == models.ActionBlock {
			aiFlags = append(aiFlags, "blocked")
		}
	}

	now := p.clock.Now()
	recent, err := p.events.CountRecent(kidAccountID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "counting recent events")
	}

	unresolved := severity.AtLeast(models.SeverityHigh) || requiresReview

	event := &models.SafetyEvent{
		ID:                  ids.New(),
		KidAccountID:        kidAccountID,
		EventType:           signal.EventType,
		Severity:            severity,
		RiskScore:           riskScore(severity, signal.Confidence, recent),
		Source:              signal.Source,
		ExternalID:          signal.ExternalID,
		AIFlags:             aiFlags,
		RequiresHumanReview: requiresReview,
		Resolved:            !unresolved,
		CreatedAt:           now,
	}

	stored, err := p.persist(event)
	if err != nil {
		return nil, err
	}
	if stored.ID != event.ID {
		// A concurrent replay won the insert race; adopt its event and skip
		// the recompute, as the winner already triggered one.
		obs.SafetyEventsDeduped.Inc()
		return stored, nil
	}
	obs.SafetyEventsIngested.WithLabelValues(string(severity)).Inc()

	if unresolved && p.notifier != nil {
		if err := p.notifier.ParentAlert(ctx, acct, event); err != nil {
			// Notification failure must not lose the event; the alert is
			// retried by the bus, so log and move on.
			log.Printf("Parent alert failed: kid=%s event=%s: %v", kidAccountID, event.ID, err)
		} else {
			event.ParentNotified = true
			if err := p.events.MarkParentNotified(event.ID); err != nil {
				log.Printf("Failed to mark parent notified: event=%s: %v", event.ID, err)
			}
		}
	}

	if _, err := p.scorer.Recompute(kidAccountID); err != nil {
		return nil, err
	}

	return event, nil
}

// Resolve closes an event after human review and recomputes the score,
// since unresolved risk no longer applies. Resolving an already-resolved
// event is a no-op.
func (p *Pipeline) Resolve(eventID, notes string) error {
	event, err := p.events.GetByID(eventID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading event %s", eventID)
	}
	if event == nil {
		return faults.New(faults.KindNotFound, "safety event %s", eventID)
	}
	if event.Resolved {
		return nil
	}

	if err := p.events.Resolve(eventID, notes, p.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "resolving event %s", eventID)
	}
	log.Printf("Safety event resolved: event=%s kid=%s", eventID, event.KidAccountID)

	if _, err := p.scorer.Recompute(event.KidAccountID); err != nil {
		return err
	}
	return nil
}

// persist writes the event, retrying transient store failures with
// backoff. A create failure may be the natural-key unique index rejecting a
// replay that raced past the earlier dedup check, so the key is re-checked
// before each retry and the winning row returned instead of an error.
func (p *Pipeline) persist(event *models.SafetyEvent) (*models.SafetyEvent, error) {
	var lastErr error
	delay := p.retryDelay
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.events.Create(event)
		if lastErr == nil {
			return event, nil
		}
		existing, err := p.events.GetByNaturalKey(event.Source, event.ExternalID)
		if err == nil && existing != nil {
			return existing, nil
		}
		if attempt < p.maxAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, faults.Wrap(faults.KindDependency, lastErr, "persisting safety event after %d attempts", p.maxAttempts)
}

// riskScore combines severity, classifier confidence, and recent-event
// frequency into a 0-100 risk value.
func riskScore(severity models.Severity, confidence *float64, recentCount int) float64 {
	risk := float64(severity.Rank()) * 20

	// Confident classifications of bad content push risk up; low confidence
	// contributes less but never reduces the severity floor.
	if confidence != nil {
		risk += *confidence * 10
	}

	frequency := float64(recentCount) * 2
	if frequency > 20 {
		frequency = 20
	}
	risk += frequency

	if risk > 100 {
		risk = 100
	}
	return risk
}
