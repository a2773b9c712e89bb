package models

import "time"

// SupervisionMode is the tagged variant describing who, if anyone,
// supervises an account. Exactly one payload applies at a time, which
// rules out invalid flag combinations like "independent but still linked".
type SupervisionMode interface {
	supervisionMode()
	ModeName() string
}

// Unsupervised is a fully independent account.
type Unsupervised struct{}

func (Unsupervised) supervisionMode() {}

func (Unsupervised) ModeName() string { return "unsupervised" }

// KidSupervised is an account supervised by a verified parent.
type KidSupervised struct {
	ParentID string
}

func (KidSupervised) supervisionMode() {}

func (KidSupervised) ModeName() string { return "kid_supervised" }

// JointLinked is an account linked to a peer account (e.g. a joint
// household account) without parental controls.
type JointLinked struct {
	LinkedID string
}

func (JointLinked) supervisionMode() {}

func (JointLinked) ModeName() string { return "joint_linked" }

// EmergencyContact is a typed contact entry, replacing the free-text
// JSON blob the mobile clients used to parse by hand.
type EmergencyContact struct {
	Name     string
	Relation string
	Phone    string
}

// AllowedHours is the daily window during which the account may be active.
// Hours are in the kid's local timezone, 0-23.
type AllowedHours struct {
	StartHour int
	EndHour   int
}

// KidAccount represents a supervised minor profile.
type KidAccount struct {
	ID                    string
	Supervision           SupervisionMode
	DisplayName           string
	Age                   int
	SafetyLevel           string
	AllowedHours          AllowedHours
	MaxConnections        int
	AgeGapLimit           int
	IndependenceDate      *time.Time
	RequiredMaturityScore int
	EmergencyContacts     []EmergencyContact
	PanicButtonEnabled    bool
	Active                bool
	Independent           bool
	DeactivatedReason     string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ParentID returns the supervising parent's id, or "" if the account is
// not parent-supervised.
func (k *KidAccount) ParentID() string {
	if s, ok := k.Supervision.(KidSupervised); ok {
		return s.ParentID
	}
	return ""
}

// IsSupervised reports whether a parent still controls this account.
func (k *KidAccount) IsSupervised() bool {
	_, ok := k.Supervision.(KidSupervised)
	return ok
}
