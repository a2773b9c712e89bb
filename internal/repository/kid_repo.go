package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// KidAccountRepository handles database operations for kid accounts
type KidAccountRepository struct {
	db database.DBTX
}

// NewKidAccountRepository creates a new kid account repository
func NewKidAccountRepository(db database.DBTX) *KidAccountRepository {
	return &KidAccountRepository{db: db}
}

const kidAccountColumns = `id, supervision_mode, parent_id, linked_id, display_name, age,
	safety_level, allowed_start_hour, allowed_end_hour, max_connections, age_gap_limit,
	independence_date, required_maturity_score, emergency_contacts, panic_button_enabled,
	active, independent, deactivated_reason, created_at, updated_at`

// Create persists a new kid account
func (r *KidAccountRepository) Create(acct *models.KidAccount) error {
	contacts, err := json.Marshal(acct.EmergencyContacts)
	if err != nil {
		return fmt.Errorf("failed to encode emergency contacts: %w", err)
	}

	query := `INSERT INTO kid_accounts (` + kidAccountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		acct.ID, acct.Supervision.ModeName(), supervisionParentID(acct.Supervision),
		supervisionLinkedID(acct.Supervision), acct.DisplayName, acct.Age,
		acct.SafetyLevel, acct.AllowedHours.StartHour, acct.AllowedHours.EndHour,
		acct.MaxConnections, acct.AgeGapLimit, acct.IndependenceDate,
		acct.RequiredMaturityScore, string(contacts), acct.PanicButtonEnabled,
		acct.Active, acct.Independent, acct.DeactivatedReason,
		acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create kid account: %w", err)
	}
	return nil
}

// GetByID retrieves a kid account by ID. Returns nil if not found.
func (r *KidAccountRepository) GetByID(id string) (*models.KidAccount, error) {
	query := `SELECT ` + kidAccountColumns + ` FROM kid_accounts WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByParent retrieves all kid accounts supervised by a parent
func (r *KidAccountRepository) GetByParent(parentID string) ([]models.KidAccount, error) {
	query := `SELECT ` + kidAccountColumns + ` FROM kid_accounts
		WHERE parent_id = ? ORDER BY created_at ASC`
	rows, err := r.db.Query(query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query kid accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.KidAccount
	for rows.Next() {
		acct, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// SetIndependenceDate records the parent-chosen independence date and the
// score required to reach it
func (r *KidAccountRepository) SetIndependenceDate(id string, date time.Time, requiredScore int, now time.Time) error {
	query := `UPDATE kid_accounts SET independence_date = ?, required_maturity_score = ?,
		updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, date, requiredScore, now, id)
	if err != nil {
		return fmt.Errorf("failed to set independence date: %w", err)
	}
	return nil
}

// MarkIndependent flips the account to unsupervised and clears the parent link
func (r *KidAccountRepository) MarkIndependent(id string, now time.Time) error {
	query := `UPDATE kid_accounts SET supervision_mode = ?, parent_id = NULL,
		independent = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, models.Unsupervised{}.ModeName(), true, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark account independent: %w", err)
	}
	return nil
}

// Deactivate soft-deactivates an account. Accounts are never hard-deleted.
func (r *KidAccountRepository) Deactivate(id, reason string, now time.Time) error {
	query := `UPDATE kid_accounts SET active = ?, deactivated_reason = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.Exec(query, false, reason, now, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate kid account: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *KidAccountRepository) scanOne(row *sql.Row) (*models.KidAccount, error) {
	acct, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acct, err
}

func (r *KidAccountRepository) scanRow(row rowScanner) (*models.KidAccount, error) {
	var acct models.KidAccount
	var mode string
	var parentID, linkedID sql.NullString
	var contacts string
	err := row.Scan(
		&acct.ID, &mode, &parentID, &linkedID, &acct.DisplayName, &acct.Age,
		&acct.SafetyLevel, &acct.AllowedHours.StartHour, &acct.AllowedHours.EndHour,
		&acct.MaxConnections, &acct.AgeGapLimit, &acct.IndependenceDate,
		&acct.RequiredMaturityScore, &contacts, &acct.PanicButtonEnabled,
		&acct.Active, &acct.Independent, &acct.DeactivatedReason,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan kid account: %w", err)
	}

	acct.Supervision = supervisionFromColumns(mode, parentID.String, linkedID.String)
	if contacts != "" {
		if err := json.Unmarshal([]byte(contacts), &acct.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("failed to decode emergency contacts: %w", err)
		}
	}
	return &acct, nil
}

func supervisionParentID(m models.SupervisionMode) interface{} {
	if s, ok := m.(models.KidSupervised); ok {
		return s.ParentID
	}
	return nil
}

func supervisionLinkedID(m models.SupervisionMode) interface{} {
	if s, ok := m.(models.JointLinked); ok {
		return s.LinkedID
	}
	return nil
}

func supervisionFromColumns(mode, parentID, linkedID string) models.SupervisionMode {
	switch mode {
	case models.KidSupervised{}.ModeName():
		return models.KidSupervised{ParentID: parentID}
	case models.JointLinked{}.ModeName():
		return models.JointLinked{LinkedID: linkedID}
	default:
		return models.Unsupervised{}
	}
}
