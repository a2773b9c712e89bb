package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// TransitionRepository handles database operations for independence transitions
type TransitionRepository struct {
	db database.DBTX
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db database.DBTX) *TransitionRepository {
	return &TransitionRepository{db: db}
}

const transitionColumns = `id, kid_account_id, phase, required_maturity_score,
	current_maturity_score, educational_goals_met, safety_test_passed,
	parent_final_approval, warning_period_days, preparation_period_days,
	monitoring_period_days, can_revert, phase_entered_at, phase_history,
	completed_at, reverted_at, revert_reason, was_reverted, certificate,
	created_at, updated_at`

// Create persists a new independence transition attempt
func (r *TransitionRepository) Create(t *models.IndependenceTransition) error {
	history, err := json.Marshal(t.PhaseHistory)
	if err != nil {
		return fmt.Errorf("failed to encode phase history: %w", err)
	}

	query := `INSERT INTO independence_transitions (` + transitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		t.ID, t.KidAccountID, string(t.Phase), t.RequiredMaturityScore,
		t.CurrentMaturityScore, t.EducationalGoalsMet, t.SafetyTestPassed,
		t.ParentFinalApproval, t.WarningPeriodDays, t.PreparationPeriodDays,
		t.MonitoringPeriodDays, t.CanRevert, t.PhaseEnteredAt, string(history),
		t.CompletedAt, t.RevertedAt, t.RevertReason, t.WasReverted, nil,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transition: %w", err)
	}
	return nil
}

// GetOpenByKid retrieves the single open transition for a kid account, if any
func (r *TransitionRepository) GetOpenByKid(kidAccountID string) (*models.IndependenceTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM independence_transitions
		WHERE kid_account_id = ? AND phase NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, kidAccountID,
		string(models.PhaseIndependent), string(models.PhaseReverted)))
}

// GetByID retrieves a transition by id. Returns nil if not found.
func (r *TransitionRepository) GetByID(id string) (*models.IndependenceTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM independence_transitions WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// ListOpen retrieves all open transitions, for the phase-clock sweep
func (r *TransitionRepository) ListOpen() ([]models.IndependenceTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM independence_transitions
		WHERE phase NOT IN (?, ?) ORDER BY created_at ASC`
	rows, err := r.db.Query(query,
		string(models.PhaseIndependent), string(models.PhaseReverted))
	if err != nil {
		return nil, fmt.Errorf("failed to query open transitions: %w", err)
	}
	defer rows.Close()

	var out []models.IndependenceTransition
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// AdvancePhase moves a transition from one phase to the next with
// compare-and-set semantics: the update applies only if the row is still
// in the expected phase, so concurrent sweepers are idempotent.
func (r *TransitionRepository) AdvancePhase(id string, from, to models.Phase, history []models.Phase, score int, now time.Time) (bool, error) {
	encoded, err := json.Marshal(history)
	if err != nil {
		return false, fmt.Errorf("failed to encode phase history: %w", err)
	}

	query := `UPDATE independence_transitions
		SET phase = ?, phase_entered_at = ?, phase_history = ?,
			current_maturity_score = ?, updated_at = ?
		WHERE id = ? AND phase = ?`
	result, err := r.db.Exec(query, string(to), now, string(encoded), score, now, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to advance transition phase: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete marks a transition Independent and records the celebration payload
func (r *TransitionRepository) Complete(id string, from models.Phase, history []models.Phase, cert *models.CelebrationPayload, now time.Time) (bool, error) {
	encodedHistory, err := json.Marshal(history)
	if err != nil {
		return false, fmt.Errorf("failed to encode phase history: %w", err)
	}
	encodedCert, err := json.Marshal(cert)
	if err != nil {
		return false, fmt.Errorf("failed to encode certificate: %w", err)
	}

	query := `UPDATE independence_transitions
		SET phase = ?, phase_entered_at = ?, phase_history = ?, completed_at = ?,
			certificate = ?, updated_at = ?
		WHERE id = ? AND phase = ?`
	result, err := r.db.Exec(query, string(models.PhaseIndependent), now,
		string(encodedHistory), now, string(encodedCert), now, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to complete transition: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Revert marks a transition Reverted with a reason. Applies only while the
// transition is still open.
func (r *TransitionRepository) Revert(id, reason string, now time.Time) (bool, error) {
	query := `UPDATE independence_transitions
		SET phase = ?, phase_entered_at = ?, reverted_at = ?, revert_reason = ?,
			was_reverted = ?, updated_at = ?
		WHERE id = ? AND phase NOT IN (?, ?)`
	result, err := r.db.Exec(query, string(models.PhaseReverted), now, now, reason,
		true, now, id, string(models.PhaseIndependent), string(models.PhaseReverted))
	if err != nil {
		return false, fmt.Errorf("failed to revert transition: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetMilestones updates the preparation-phase checkboxes
func (r *TransitionRepository) SetMilestones(id string, educationalGoalsMet, safetyTestPassed bool, now time.Time) error {
	query := `UPDATE independence_transitions
		SET educational_goals_met = ?, safety_test_passed = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.Exec(query, educationalGoalsMet, safetyTestPassed, now, id)
	if err != nil {
		return fmt.Errorf("failed to set transition milestones: %w", err)
	}
	return nil
}

// SetParentFinalApproval records the parent's sign-off for finalization
func (r *TransitionRepository) SetParentFinalApproval(id string, approved bool, now time.Time) error {
	query := `UPDATE independence_transitions
		SET parent_final_approval = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, approved, now, id)
	if err != nil {
		return fmt.Errorf("failed to set parent final approval: %w", err)
	}
	return nil
}

func (r *TransitionRepository) scanOne(row *sql.Row) (*models.IndependenceTransition, error) {
	t, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *TransitionRepository) scanRow(row rowScanner) (*models.IndependenceTransition, error) {
	var t models.IndependenceTransition
	var phase, history string
	var cert sql.NullString
	err := row.Scan(
		&t.ID, &t.KidAccountID, &phase, &t.RequiredMaturityScore,
		&t.CurrentMaturityScore, &t.EducationalGoalsMet, &t.SafetyTestPassed,
		&t.ParentFinalApproval, &t.WarningPeriodDays, &t.PreparationPeriodDays,
		&t.MonitoringPeriodDays, &t.CanRevert, &t.PhaseEnteredAt, &history,
		&t.CompletedAt, &t.RevertedAt, &t.RevertReason, &t.WasReverted, &cert,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transition: %w", err)
	}
	t.Phase = models.Phase(phase)
	if history != "" {
		if err := json.Unmarshal([]byte(history), &t.PhaseHistory); err != nil {
			return nil, fmt.Errorf("failed to decode phase history: %w", err)
		}
	}
	if cert.Valid && cert.String != "" {
		var payload models.CelebrationPayload
		if err := json.Unmarshal([]byte(cert.String), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode certificate: %w", err)
		}
		t.Certificate = &payload
	}
	return &t, nil
}
