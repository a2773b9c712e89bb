package repository

import (
	"database/sql"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// PasswordRepository handles database operations for kid password settings
type PasswordRepository struct {
	db database.DBTX
}

// NewPasswordRepository creates a new password repository
func NewPasswordRepository(db database.DBTX) *PasswordRepository {
	return &PasswordRepository{db: db}
}

const passwordColumns = `kid_account_id, has_password, password_hash, set_by_parent,
	independence_day_reached, can_change_password, revoked, revoked_reason,
	change_count, updated_at`

// Create persists password settings for a new kid account
func (r *PasswordRepository) Create(p *models.KidPasswordSettings) error {
	query := `INSERT INTO kid_password_settings (` + passwordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		p.KidAccountID, p.HasPassword, p.PasswordHash, p.SetByParent,
		p.IndependenceDayReached, p.CanChangePassword, p.Revoked, p.RevokedReason,
		p.ChangeCount, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create password settings: %w", err)
	}
	return nil
}

// Get retrieves password settings for a kid account. Returns nil if not found.
func (r *PasswordRepository) Get(kidAccountID string) (*models.KidPasswordSettings, error) {
	query := `SELECT ` + passwordColumns + ` FROM kid_password_settings
		WHERE kid_account_id = ?`
	var p models.KidPasswordSettings
	err := r.db.QueryRow(query, kidAccountID).Scan(
		&p.KidAccountID, &p.HasPassword, &p.PasswordHash, &p.SetByParent,
		&p.IndependenceDayReached, &p.CanChangePassword, &p.Revoked, &p.RevokedReason,
		&p.ChangeCount, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password settings: %w", err)
	}
	return &p, nil
}

// Update overwrites the password settings row
func (r *PasswordRepository) Update(p *models.KidPasswordSettings) error {
	query := `UPDATE kid_password_settings SET has_password = ?, password_hash = ?,
		set_by_parent = ?, independence_day_reached = ?, can_change_password = ?,
		revoked = ?, revoked_reason = ?, change_count = ?, updated_at = ?
		WHERE kid_account_id = ?`
	_, err := r.db.Exec(query,
		p.HasPassword, p.PasswordHash, p.SetByParent, p.IndependenceDayReached,
		p.CanChangePassword, p.Revoked, p.RevokedReason, p.ChangeCount, p.UpdatedAt,
		p.KidAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update password settings: %w", err)
	}
	return nil
}

// UnlockSelfManaged flips the settings to self-managed at independence
func (r *PasswordRepository) UnlockSelfManaged(kidAccountID string, now time.Time) error {
	query := `UPDATE kid_password_settings
		SET independence_day_reached = ?, can_change_password = ?, set_by_parent = ?,
			updated_at = ?
		WHERE kid_account_id = ?`
	_, err := r.db.Exec(query, true, true, false, now, kidAccountID)
	if err != nil {
		return fmt.Errorf("failed to unlock password settings: %w", err)
	}
	return nil
}
