package credentials

import (
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/models"
	"fledge/internal/security"
)

// Config holds pairing and password-lifecycle settings.
type Config struct {
	CodeTTL           time.Duration
	SigningSecret     []byte
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultConfig returns standard pairing settings. The signing secret must
// still be provided by the deployment.
func DefaultConfig() Config {
	return Config{
		CodeTTL:           15 * time.Minute,
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
	}
}

// CodeStore persists login codes.
type CodeStore interface {
	Create(c *models.KidLoginCode) error
	GetByID(id string) (*models.KidLoginCode, error)
	Redeem(kidAccountID, code string, now time.Time) (bool, error)
	Revoke(id string, now time.Time) error
	IncrementFailedAttempts(kidAccountID string) (int, error)
}

// PasswordStore persists kid password settings.
type PasswordStore interface {
	Create(p *models.KidPasswordSettings) error
	Get(kidAccountID string) (*models.KidPasswordSettings, error)
	Update(p *models.KidPasswordSettings) error
	UnlockSelfManaged(kidAccountID string, now time.Time) error
}

// AccountStore resolves kid accounts.
type AccountStore interface {
	GetByID(id string) (*models.KidAccount, error)
}

// qrClaims is the signed payload embedded in the QR token.
type qrClaims struct {
	KidAccountID string `json:"kid_account_id"`
	CodeID       string `json:"code_id"`
	jwt.RegisteredClaims
}

// Manager issues and validates pairing credentials and manages the kid's
// own-password lifecycle.
type Manager struct {
	cfg       Config
	codes     CodeStore
	passwords PasswordStore
	accounts  AccountStore
	limiter   *security.AttemptLimiter
	clock     clock.Clock
}

// NewManager creates a credential manager
func NewManager(cfg Config, codes CodeStore, passwords PasswordStore, accounts AccountStore, clk clock.Clock) *Manager {
	return &Manager{
		cfg:       cfg,
		codes:     codes,
		passwords: passwords,
		accounts:  accounts,
		limiter:   security.NewAttemptLimiter(cfg.MaxFailedAttempts, cfg.LockoutDuration),
		clock:     clk,
	}
}

// IssuePairingCode creates a single-use pairing code and QR token for a
// kid account.
func (m *Manager) IssuePairingCode(kidAccountID, deviceInfo string) (*models.KidLoginCode, error) {
	acct, err := m.accounts.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}
	if !acct.Active {
		return nil, faults.New(faults.KindConflict, "account %s is deactivated", kidAccountID)
	}

	code, err := GeneratePairingCode()
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "generating pairing code")
	}

	now := m.clock.Now()
	c := &models.KidLoginCode{
		ID:           uuid.New().String(),
		KidAccountID: kidAccountID,
		Code:         code,
		ExpiresAt:    now.Add(m.cfg.CodeTTL),
		DeviceInfo:   deviceInfo,
		CreatedAt:    now,
	}

	qr, err := m.signQRToken(c)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "signing qr token")
	}
	c.QRToken = qr

	if err := m.codes.Create(c); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "storing pairing code")
	}
	return c, nil
}

// ValidatePairing redeems a pairing code. Validation and use are one atomic
// step: two devices racing on the same code cannot both succeed. Expired or
// revoked codes fail even when the code string matches, and repeated
// mismatches temporarily lock the account.
//
// qrToken is empty when the kid types the code by hand instead of scanning
// the QR image; that path relies on the code itself plus the attempt
// lockout. A supplied token must verify against the account and code.
func (m *Manager) ValidatePairing(kidAccountID, code, qrToken string) (bool, error) {
	now := m.clock.Now()

	if m.limiter.Locked(kidAccountID, now) {
		return false, faults.New(faults.KindAuthorization, "account %s is temporarily locked after repeated failures", kidAccountID)
	}

	if qrToken != "" {
		if !m.verifyQRToken(kidAccountID, code, qrToken) {
			return m.recordFailure(kidAccountID, now)
		}
	}

	redeemed, err := m.codes.Redeem(kidAccountID, code, now)
	if err != nil {
		return false, faults.Wrap(faults.KindDependency, err, "redeeming pairing code")
	}
	if !redeemed {
		return m.recordFailure(kidAccountID, now)
	}

	m.limiter.Reset(kidAccountID)
	return true, nil
}

// RevokeCode invalidates a code permanently. Revoked codes are never
// reusable.
func (m *Manager) RevokeCode(codeID string) error {
	c, err := m.codes.GetByID(codeID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading code %s", codeID)
	}
	if c == nil {
		return faults.New(faults.KindNotFound, "login code %s", codeID)
	}
	if err := m.codes.Revoke(codeID, m.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "revoking code %s", codeID)
	}
	return nil
}

// InitializeSettings creates the password settings row for a new kid
// account, with the parent in control.
func (m *Manager) InitializeSettings(kidAccountID string) error {
	p := &models.KidPasswordSettings{
		KidAccountID: kidAccountID,
		SetByParent:  true,
		UpdatedAt:    m.clock.Now(),
	}
	if err := m.passwords.Create(p); err != nil {
		return faults.Wrap(faults.KindDependency, err, "creating password settings for %s", kidAccountID)
	}
	return nil
}

// SetParentPassword lets the supervising parent set or rotate the kid's
// password while the account is supervised.
func (m *Manager) SetParentPassword(kidAccountID, password string) error {
	settings, err := m.loadSettings(kidAccountID)
	if err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "hashing password")
	}

	settings.HasPassword = true
	settings.PasswordHash = string(hash)
	settings.SetByParent = true
	settings.Revoked = false
	settings.RevokedReason = ""
	settings.ChangeCount++
	settings.UpdatedAt = m.clock.Now()
	if err := m.passwords.Update(settings); err != nil {
		return faults.Wrap(faults.KindDependency, err, "updating password settings for %s", kidAccountID)
	}
	return nil
}

// SetIndependentPassword lets the kid set their own password, permitted
// only once independence day has been reached.
func (m *Manager) SetIndependentPassword(kidAccountID, password string) error {
	settings, err := m.loadSettings(kidAccountID)
	if err != nil {
		return err
	}
	if !settings.IndependenceDayReached || !settings.CanChangePassword {
		return faults.New(faults.KindAuthorization, "account %s cannot self-manage its password before independence", kidAccountID)
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "hashing password")
	}

	settings.HasPassword = true
	settings.PasswordHash = string(hash)
	settings.SetByParent = false
	settings.ChangeCount++
	settings.UpdatedAt = m.clock.Now()
	if err := m.passwords.Update(settings); err != nil {
		return faults.Wrap(faults.KindDependency, err, "updating password settings for %s", kidAccountID)
	}
	return nil
}

// RevokePassword withdraws the kid's password, e.g. on a safety violation.
// Revocation always clears HasPassword.
func (m *Manager) RevokePassword(kidAccountID, reason string) error {
	settings, err := m.loadSettings(kidAccountID)
	if err != nil {
		return err
	}
	settings.HasPassword = false
	settings.PasswordHash = ""
	settings.Revoked = true
	settings.RevokedReason = reason
	settings.UpdatedAt = m.clock.Now()
	if err := m.passwords.Update(settings); err != nil {
		return faults.Wrap(faults.KindDependency, err, "updating password settings for %s", kidAccountID)
	}
	log.Printf("Password revoked: kid=%s reason=%s", kidAccountID, reason)
	return nil
}

// VerifyPassword checks a login attempt against the stored hash.
func (m *Manager) VerifyPassword(kidAccountID, password string) (bool, error) {
	settings, err := m.loadSettings(kidAccountID)
	if err != nil {
		return false, err
	}
	if !settings.HasPassword || settings.Revoked {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(settings.PasswordHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

// UnlockIndependentPassword flips the settings to self-managed. Called by
// the transition machine at finalization.
func (m *Manager) UnlockIndependentPassword(kidAccountID string) error {
	if err := m.passwords.UnlockSelfManaged(kidAccountID, m.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "unlocking password settings for %s", kidAccountID)
	}
	return nil
}

func (m *Manager) loadSettings(kidAccountID string) (*models.KidPasswordSettings, error) {
	settings, err := m.passwords.Get(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading password settings for %s", kidAccountID)
	}
	if settings == nil {
		return nil, faults.New(faults.KindNotFound, "password settings for account %s", kidAccountID)
	}
	return settings, nil
}

func (m *Manager) recordFailure(kidAccountID string, now time.Time) (bool, error) {
	if _, err := m.codes.IncrementFailedAttempts(kidAccountID); err != nil {
		return false, faults.Wrap(faults.KindDependency, err, "recording failed attempt")
	}
	if m.limiter.RecordFailure(kidAccountID, now) {
		log.Printf("Pairing locked out: kid=%s for %s", kidAccountID, m.cfg.LockoutDuration)
	}
	return false, nil
}

func (m *Manager) signQRToken(c *models.KidLoginCode) (string, error) {
	claims := qrClaims{
		KidAccountID: c.KidAccountID,
		CodeID:       c.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(c.CreatedAt),
			Subject:   c.Code,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.cfg.SigningSecret)
}

// verifyQRToken checks the QR payload's signature and that it names the
// same account and code being redeemed.
func (m *Manager) verifyQRToken(kidAccountID, code, qrToken string) bool {
	var claims qrClaims
	token, err := jwt.ParseWithClaims(qrToken, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, faults.New(faults.KindValidation, "unexpected signing method")
		}
		return m.cfg.SigningSecret, nil
	}, jwt.WithTimeFunc(m.clock.Now))
	if err != nil || !token.Valid {
		return false
	}
	return claims.KidAccountID == kidAccountID && claims.Subject == code
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return faults.New(faults.KindValidation, "password must be at least 8 characters")
	}
	return nil
}
