package models

import "time"

// KidLoginCode is a single-use pairing credential binding a kid account
// to a parent device. The code value is globally unique.
type KidLoginCode struct {
	ID             string
	KidAccountID   string
	Code           string
	QRToken        string
	ExpiresAt      time.Time
	IsUsed         bool
	UsedAt         *time.Time
	Revoked        bool
	RevokedAt      *time.Time
	DeviceInfo     string
	FailedAttempts int
	CreatedAt      time.Time
}

// Redeemable reports whether the code could still be redeemed at now.
// Expired and revoked codes are rejected regardless of the code value.
func (c *KidLoginCode) Redeemable(now time.Time) bool {
	return !c.IsUsed && !c.Revoked && now.Before(c.ExpiresAt)
}
