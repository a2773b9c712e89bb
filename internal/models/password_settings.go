package models

import "time"

// KidPasswordSettings tracks the password-control lifecycle of a kid
// account. Created alongside the account; flipped to self-managed exactly
// once, at independence.
type KidPasswordSettings struct {
	KidAccountID           string
	HasPassword            bool
	PasswordHash           string
	SetByParent            bool
	IndependenceDayReached bool
	CanChangePassword      bool
	Revoked                bool
	RevokedReason          string
	ChangeCount            int
	UpdatedAt              time.Time
}
