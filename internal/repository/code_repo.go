package repository

import (
	"database/sql"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// CodeRepository handles database operations for kid login codes
type CodeRepository struct {
	db database.DBTX
}

// NewCodeRepository creates a new code repository
func NewCodeRepository(db database.DBTX) *CodeRepository {
	return &CodeRepository{db: db}
}

const codeColumns = `id, kid_account_id, code, qr_token, expires_at, is_used, used_at,
	revoked, revoked_at, device_info, failed_attempts, created_at`

// Create persists a new login code
func (r *CodeRepository) Create(c *models.KidLoginCode) error {
	query := `INSERT INTO kid_login_codes (` + codeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		c.ID, c.KidAccountID, c.Code, c.QRToken, c.ExpiresAt, c.IsUsed, c.UsedAt,
		c.Revoked, c.RevokedAt, c.DeviceInfo, c.FailedAttempts, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create login code: %w", err)
	}
	return nil
}

// GetByID retrieves a code by id. Returns nil if not found.
func (r *CodeRepository) GetByID(id string) (*models.KidLoginCode, error) {
	query := `SELECT ` + codeColumns + ` FROM kid_login_codes WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByValue retrieves a code by its unique code value. Returns nil if not found.
func (r *CodeRepository) GetByValue(code string) (*models.KidLoginCode, error) {
	query := `SELECT ` + codeColumns + ` FROM kid_login_codes WHERE code = ?`
	return r.scanOne(r.db.QueryRow(query, code))
}

// Redeem atomically marks a code used. The conditional update is the
// check-not-used-then-mark-used step: only one of two racing redemptions
// can see rows-affected == 1.
func (r *CodeRepository) Redeem(kidAccountID, code string, now time.Time) (bool, error) {
	query := `UPDATE kid_login_codes
		SET is_used = ?, used_at = ?
		WHERE kid_account_id = ? AND code = ? AND is_used = ? AND revoked = ?
			AND expires_at > ?`
	result, err := r.db.Exec(query, true, now, kidAccountID, code, false, false, now)
	if err != nil {
		return false, fmt.Errorf("failed to redeem login code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Revoke invalidates a code permanently
func (r *CodeRepository) Revoke(id string, now time.Time) error {
	query := `UPDATE kid_login_codes SET revoked = ?, revoked_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, true, now, id)
	if err != nil {
		return fmt.Errorf("failed to revoke login code: %w", err)
	}
	return nil
}

// IncrementFailedAttempts bumps the mismatch counter for all live codes of
// an account and returns the highest counter value
func (r *CodeRepository) IncrementFailedAttempts(kidAccountID string) (int, error) {
	query := `UPDATE kid_login_codes SET failed_attempts = failed_attempts + 1
		WHERE kid_account_id = ? AND is_used = ? AND revoked = ?`
	if _, err := r.db.Exec(query, kidAccountID, false, false); err != nil {
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}

	var max sql.NullInt64
	countQuery := `SELECT MAX(failed_attempts) FROM kid_login_codes WHERE kid_account_id = ?`
	if err := r.db.QueryRow(countQuery, kidAccountID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read failed attempts: %w", err)
	}
	return int(max.Int64), nil
}

func (r *CodeRepository) scanOne(row *sql.Row) (*models.KidLoginCode, error) {
	var c models.KidLoginCode
	err := row.Scan(
		&c.ID, &c.KidAccountID, &c.Code, &c.QRToken, &c.ExpiresAt, &c.IsUsed, &c.UsedAt,
		&c.Revoked, &c.RevokedAt, &c.DeviceInfo, &c.FailedAttempts, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan login code: %w", err)
	}
	return &c, nil
}
