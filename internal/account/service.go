package account

import (
	"log"
	"strings"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/ids"
	"fledge/internal/models"
)

// Store persists kid accounts.
type Store interface {
	Create(acct *models.KidAccount) error
	GetByID(id string) (*models.KidAccount, error)
	GetByParent(parentID string) ([]models.KidAccount, error)
	SetIndependenceDate(id string, date time.Time, requiredScore int, now time.Time) error
	Deactivate(id, reason string, now time.Time) error
}

// IdentityProvider is the external account system that verifies parents.
type IdentityProvider interface {
	VerifyParent(parentID string) (bool, error)
}

// PasswordInitializer creates the password settings row for a new account.
type PasswordInitializer interface {
	InitializeSettings(kidAccountID string) error
}

// TransitionStarter opens an independence transition attempt.
type TransitionStarter interface {
	Begin(kidAccountID string, requiredScore int) (*models.IndependenceTransition, error)
}

// TransitionStore reads the open transition for status snapshots.
type TransitionStore interface {
	GetOpenByKid(kidAccountID string) (*models.IndependenceTransition, error)
}

// ScoreStore reads the live maturity score for status snapshots.
type ScoreStore interface {
	GetScore(kidAccountID string) (*models.MaturityScore, error)
}

// Profile is the parent-supplied shape of a new kid account.
type Profile struct {
	DisplayName       string
	Age               int
	AllowedHours      models.AllowedHours
	MaxConnections    int
	AgeGapLimit       int
	EmergencyContacts []models.EmergencyContact
}

// Status is the snapshot reported to clients.
type Status struct {
	KidAccountID          string
	Active                bool
	Independent           bool
	Supervision           string
	Level                 models.MaturityLevel
	TotalScore            int
	RequiredMaturityScore int
	IndependenceDate      *time.Time
	Phase                 models.Phase
	TransitionID          string
}

// Service handles the kid-account lifecycle.
type Service struct {
	store       Store
	identity    IdentityProvider
	passwords   PasswordInitializer
	transitions TransitionStarter
	openTrans   TransitionStore
	scores      ScoreStore
	clock       clock.Clock
}

// NewService creates an account service
func NewService(store Store, identity IdentityProvider, passwords PasswordInitializer, transitions TransitionStarter, openTrans TransitionStore, scores ScoreStore, clk clock.Clock) *Service {
	return &Service{
		store:       store,
		identity:    identity,
		passwords:   passwords,
		transitions: transitions,
		openTrans:   openTrans,
		scores:      scores,
		clock:       clk,
	}
}

// CreateKidAccount creates a supervised account under a verified parent.
func (s *Service) CreateKidAccount(parentID string, profile Profile) (*models.KidAccount, error) {
	if strings.TrimSpace(profile.DisplayName) == "" {
		return nil, faults.New(faults.KindValidation, "display name is required")
	}
	if profile.Age < 1 || profile.Age > 17 {
		return nil, faults.New(faults.KindValidation, "age %d out of range for a kid account", profile.Age)
	}

	verified, err := s.identity.VerifyParent(parentID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "verifying parent %s", parentID)
	}
	if !verified {
		return nil, faults.New(faults.KindAuthorization, "parent %s is not verified", parentID)
	}

	now := s.clock.Now()
	acct := &models.KidAccount{
		ID:                 ids.New(),
		Supervision:        models.KidSupervised{ParentID: parentID},
		DisplayName:        strings.TrimSpace(profile.DisplayName),
		Age:                profile.Age,
		SafetyLevel:        "strict",
		AllowedHours:       profile.AllowedHours,
		MaxConnections:     profile.MaxConnections,
		AgeGapLimit:        profile.AgeGapLimit,
		EmergencyContacts:  profile.EmergencyContacts,
		PanicButtonEnabled: true,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(acct); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "creating kid account")
	}

	if err := s.passwords.InitializeSettings(acct.ID); err != nil {
		return nil, err
	}

	log.Printf("Kid account created: id=%s parent=%s age=%d", acct.ID, parentID, acct.Age)
	return acct, nil
}

// SetIndependenceDate records the parent-chosen independence date and
// opens a transition attempt if none is in progress.
func (s *Service) SetIndependenceDate(kidAccountID, parentID string, date time.Time, requiredScore int) error {
	acct, err := s.load(kidAccountID)
	if err != nil {
		return err
	}
	if acct.ParentID() != parentID {
		return faults.New(faults.KindAuthorization, "parent %s is not linked to account %s", parentID, kidAccountID)
	}
	if acct.Independent {
		return faults.New(faults.KindConflict, "account %s is already independent", kidAccountID)
	}

	now := s.clock.Now()
	if !date.After(now) {
		return faults.New(faults.KindValidation, "independence date must be in the future")
	}
	if requiredScore < 1 || requiredScore > 100 {
		return faults.New(faults.KindValidation, "required maturity score %d out of range [1,100]", requiredScore)
	}

	if err := s.store.SetIndependenceDate(kidAccountID, date, requiredScore, now); err != nil {
		return faults.Wrap(faults.KindDependency, err, "storing independence date")
	}

	open, err := s.openTrans.GetOpenByKid(kidAccountID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading open transition")
	}
	if open == nil {
		if _, err := s.transitions.Begin(kidAccountID, requiredScore); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus returns the current supervision snapshot for a kid account.
func (s *Service) GetStatus(kidAccountID string) (*Status, error) {
	acct, err := s.load(kidAccountID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		KidAccountID:          acct.ID,
		Active:                acct.Active,
		Independent:           acct.Independent,
		Supervision:           acct.Supervision.ModeName(),
		Level:                 models.LevelLocked,
		RequiredMaturityScore: acct.RequiredMaturityScore,
		IndependenceDate:      acct.IndependenceDate,
		Phase:                 models.PhaseLocked,
	}
	if acct.Independent {
		st.Phase = models.PhaseIndependent
	}

	score, err := s.scores.GetScore(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading maturity score")
	}
	if score != nil {
		st.Level = score.Level
		st.TotalScore = score.TotalScore
	}

	open, err := s.openTrans.GetOpenByKid(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading open transition")
	}
	if open != nil {
		st.Phase = open.Phase
		st.TransitionID = open.ID
	}
	return st, nil
}

// Deactivate soft-deactivates an account on violation or parent request.
// Accounts are never hard-deleted.
func (s *Service) Deactivate(kidAccountID, parentID, reason string) error {
	acct, err := s.load(kidAccountID)
	if err != nil {
		return err
	}
	if acct.ParentID() != parentID {
		return faults.New(faults.KindAuthorization, "parent %s is not linked to account %s", parentID, kidAccountID)
	}
	if err := s.store.Deactivate(kidAccountID, reason, s.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "deactivating account")
	}
	log.Printf("Kid account deactivated: id=%s reason=%s", kidAccountID, reason)
	return nil
}

// ListByParent returns the kid accounts supervised by a parent.
func (s *Service) ListByParent(parentID string) ([]models.KidAccount, error) {
	accounts, err := s.store.GetByParent(parentID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "listing accounts for parent %s", parentID)
	}
	return accounts, nil
}

func (s *Service) load(kidAccountID string) (*models.KidAccount, error) {
	acct, err := s.store.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}
	return acct, nil
}
