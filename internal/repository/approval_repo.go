package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// ApprovalRepository handles database operations for parent approvals
type ApprovalRepository struct {
	db database.DBTX
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db database.DBTX) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, kid_account_id, parent_id, request_type, target_user_id,
	status, safety_score, safety_flags, auto_approved, decided_by, decision_note,
	decided_at, expires_at, created_at, updated_at`

// Create persists a new approval request
func (r *ApprovalRepository) Create(a *models.ParentApproval) error {
	flags, err := json.Marshal(a.SafetyFlags)
	if err != nil {
		return fmt.Errorf("failed to encode safety flags: %w", err)
	}

	query := `INSERT INTO parent_approvals (` + approvalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		a.ID, a.KidAccountID, a.ParentID, string(a.RequestType), a.TargetUserID,
		string(a.Status), a.SafetyScore, string(flags), a.AutoApproved, a.DecidedBy,
		a.DecisionNote, a.DecidedAt, a.ExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetByID retrieves an approval by id. Returns nil if not found.
func (r *ApprovalRepository) GetByID(id string) (*models.ParentApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM parent_approvals WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// ListByKidAndStatus retrieves approvals for a kid account in a given status
func (r *ApprovalRepository) ListByKidAndStatus(kidAccountID string, status models.ApprovalStatus) ([]models.ParentApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM parent_approvals
		WHERE kid_account_id = ? AND status = ? ORDER BY created_at DESC`
	return r.list(query, kidAccountID, string(status))
}

// ListByParentAndStatus retrieves approvals awaiting a given parent
func (r *ApprovalRepository) ListByParentAndStatus(parentID string, status models.ApprovalStatus) ([]models.ParentApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM parent_approvals
		WHERE parent_id = ? AND status = ? ORDER BY created_at DESC`
	return r.list(query, parentID, string(status))
}

// Decide records a decision with compare-and-set semantics: the update
// applies only while the approval is still pending.
func (r *ApprovalRepository) Decide(id string, status models.ApprovalStatus, decidedBy, note string, now time.Time) (bool, error) {
	query := `UPDATE parent_approvals
		SET status = ?, decided_by = ?, decision_note = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	result, err := r.db.Exec(query, string(status), decidedBy, note, now, now,
		id, string(models.ApprovalPending))
	if err != nil {
		return false, fmt.Errorf("failed to decide approval: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SupersedePending marks all pending requests of the same type for a kid
// account as superseded, returning how many were closed
func (r *ApprovalRepository) SupersedePending(kidAccountID string, requestType models.RequestType, now time.Time) (int64, error) {
	query := `UPDATE parent_approvals SET status = ?, updated_at = ?
		WHERE kid_account_id = ? AND request_type = ? AND status = ?`
	result, err := r.db.Exec(query, string(models.ApprovalSuperseded), now,
		kidAccountID, string(requestType), string(models.ApprovalPending))
	if err != nil {
		return 0, fmt.Errorf("failed to supersede approvals: %w", err)
	}
	return result.RowsAffected()
}

// ExpireStale transitions pending approvals past their expiry to Expired,
// returning how many rows were swept
func (r *ApprovalRepository) ExpireStale(now time.Time) (int64, error) {
	query := `UPDATE parent_approvals SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at <= ?`
	result, err := r.db.Exec(query, string(models.ApprovalExpired), now,
		string(models.ApprovalPending), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	return result.RowsAffected()
}

func (r *ApprovalRepository) list(query string, args ...interface{}) ([]models.ParentApproval, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []models.ParentApproval
	for rows.Next() {
		a, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *ApprovalRepository) scanOne(row *sql.Row) (*models.ParentApproval, error) {
	a, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *ApprovalRepository) scanRow(row rowScanner) (*models.ParentApproval, error) {
	var a models.ParentApproval
	var requestType, status, flags string
	err := row.Scan(
		&a.ID, &a.KidAccountID, &a.ParentID, &requestType, &a.TargetUserID,
		&status, &a.SafetyScore, &flags, &a.AutoApproved, &a.DecidedBy,
		&a.DecisionNote, &a.DecidedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}
	a.RequestType = models.RequestType(requestType)
	a.Status = models.ApprovalStatus(status)
	if flags != "" {
		if err := json.Unmarshal([]byte(flags), &a.SafetyFlags); err != nil {
			return nil, fmt.Errorf("failed to decode safety flags: %w", err)
		}
	}
	return &a, nil
}
