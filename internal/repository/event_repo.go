package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// EventRepository handles database operations for safety events
type EventRepository struct {
	db database.DBTX
}

// NewEventRepository creates a new event repository
func NewEventRepository(db database.DBTX) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, kid_account_id, event_type, severity, risk_score, source,
	external_id, ai_flags, requires_human_review, resolved, resolution_notes,
	resolved_at, parent_notified, created_at`

// Create persists a new safety event
func (r *EventRepository) Create(e *models.SafetyEvent) error {
	flags, err := json.Marshal(e.AIFlags)
	if err != nil {
		return fmt.Errorf("failed to encode ai flags: %w", err)
	}

	query := `INSERT INTO safety_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		e.ID, e.KidAccountID, string(e.EventType), string(e.Severity), e.RiskScore,
		e.Source, e.ExternalID, string(flags), e.RequiresHumanReview, e.Resolved,
		e.ResolutionNotes, e.ResolvedAt, e.ParentNotified, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create safety event: %w", err)
	}
	return nil
}

// GetByNaturalKey retrieves an event by its ingestion natural key.
// Returns nil if no event with that key exists.
func (r *EventRepository) GetByNaturalKey(source, externalID string) (*models.SafetyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM safety_events
		WHERE source = ? AND external_id = ? LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, source, externalID))
}

// GetByID retrieves an event by id. Returns nil if not found.
func (r *EventRepository) GetByID(id string) (*models.SafetyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM safety_events WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// ListUnresolvedByKid retrieves unresolved events for a kid account at or
// above a minimum severity
func (r *EventRepository) ListUnresolvedByKid(kidAccountID string, minSeverity models.Severity) ([]models.SafetyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM safety_events
		WHERE kid_account_id = ? AND resolved = ? ORDER BY created_at DESC`
	rows, err := r.db.Query(query, kidAccountID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety events: %w", err)
	}
	defer rows.Close()

	var out []models.SafetyEvent
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		if e.Severity.AtLeast(minSeverity) {
			out = append(out, *e)
		}
	}
	return out, rows.Err()
}

// HasUnresolvedAtLeast reports whether any unresolved event at or above the
// given severity exists for the kid account, optionally since a cutoff
func (r *EventRepository) HasUnresolvedAtLeast(kidAccountID string, minSeverity models.Severity, since *time.Time) (bool, error) {
	events, err := r.ListUnresolvedByKid(kidAccountID, minSeverity)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if since == nil || e.CreatedAt.After(*since) {
			return true, nil
		}
	}
	return false, nil
}

// CountRecent counts events for a kid account created after the cutoff
func (r *EventRepository) CountRecent(kidAccountID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM safety_events WHERE kid_account_id = ? AND created_at > ?`
	if err := r.db.QueryRow(query, kidAccountID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent events: %w", err)
	}
	return count, nil
}

// Resolve closes an event with reviewer notes
func (r *EventRepository) Resolve(id, notes string, now time.Time) error {
	query := `UPDATE safety_events SET resolved = ?, resolution_notes = ?, resolved_at = ?
		WHERE id = ?`
	_, err := r.db.Exec(query, true, notes, now, id)
	if err != nil {
		return fmt.Errorf("failed to resolve safety event: %w", err)
	}
	return nil
}

// MarkParentNotified records that the parent alert was dispatched
func (r *EventRepository) MarkParentNotified(id string) error {
	query := `UPDATE safety_events SET parent_notified = ? WHERE id = ?`
	_, err := r.db.Exec(query, true, id)
	if err != nil {
		return fmt.Errorf("failed to mark parent notified: %w", err)
	}
	return nil
}

func (r *EventRepository) scanOne(row *sql.Row) (*models.SafetyEvent, error) {
	e, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *EventRepository) scanRow(row rowScanner) (*models.SafetyEvent, error) {
	var e models.SafetyEvent
	var eventType, severity, flags string
	err := row.Scan(
		&e.ID, &e.KidAccountID, &eventType, &severity, &e.RiskScore, &e.Source,
		&e.ExternalID, &flags, &e.RequiresHumanReview, &e.Resolved,
		&e.ResolutionNotes, &e.ResolvedAt, &e.ParentNotified, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan safety event: %w", err)
	}
	e.EventType = models.EventType(eventType)
	e.Severity = models.Severity(severity)
	if flags != "" {
		if err := json.Unmarshal([]byte(flags), &e.AIFlags); err != nil {
			return nil, fmt.Errorf("failed to decode ai flags: %w", err)
		}
	}
	return &e, nil
}
