package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// RuleRepository handles database operations for content safety rules
type RuleRepository struct {
	db database.DBTX
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db database.DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, rule_type, pattern, action, severity, min_age, max_age,
	applicable_contexts, confidence_threshold, requires_human_review, priority,
	active, created_at, updated_at`

// Create persists a new safety rule
func (r *RuleRepository) Create(rule *models.ContentSafetyRule) error {
	contexts, err := json.Marshal(rule.ApplicableContexts)
	if err != nil {
		return fmt.Errorf("failed to encode applicable contexts: %w", err)
	}

	query := `INSERT INTO content_safety_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		rule.ID, rule.RuleType, rule.Pattern, string(rule.Action), string(rule.Severity),
		rule.MinAge, rule.MaxAge, string(contexts), rule.ConfidenceThreshold,
		rule.RequiresHumanReview, rule.Priority, rule.Active,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create safety rule: %w", err)
	}
	return nil
}

// ListActive retrieves all active rules ordered by priority descending
func (r *RuleRepository) ListActive() ([]models.ContentSafetyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM content_safety_rules
		WHERE active = ? ORDER BY priority DESC`
	rows, err := r.db.Query(query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ContentSafetyRule
	for rows.Next() {
		var rule models.ContentSafetyRule
		var action, severity, contexts string
		if err := rows.Scan(
			&rule.ID, &rule.RuleType, &rule.Pattern, &action, &severity,
			&rule.MinAge, &rule.MaxAge, &contexts, &rule.ConfidenceThreshold,
			&rule.RequiresHumanReview, &rule.Priority, &rule.Active,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan safety rule: %w", err)
		}
		rule.Action = models.RuleAction(action)
		rule.Severity = models.Severity(severity)
		if contexts != "" {
			if err := json.Unmarshal([]byte(contexts), &rule.ApplicableContexts); err != nil {
				return nil, fmt.Errorf("failed to decode applicable contexts: %w", err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Deactivate retires a rule. Rules are never deleted.
func (r *RuleRepository) Deactivate(id string, now time.Time) error {
	query := `UPDATE content_safety_rules SET active = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, false, now, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate safety rule: %w", err)
	}
	return nil
}
