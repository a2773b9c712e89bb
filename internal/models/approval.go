package models

import "time"

// ApprovalStatus is the lifecycle state of a parent-approval request.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalExpired    ApprovalStatus = "expired"
	ApprovalWithdrawn  ApprovalStatus = "withdrawn"
	ApprovalSuperseded ApprovalStatus = "superseded"
)

// Terminal reports whether the status admits no further decisions.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

// RequestType identifies the sensitive action awaiting approval.
type RequestType string

const (
	RequestFollow        RequestType = "follow_request"
	RequestContentAccess RequestType = "content_access"
)

// ParentApproval is a pending or decided sensitive-action request.
type ParentApproval struct {
	ID           string
	KidAccountID string
	ParentID     string
	RequestType  RequestType
	TargetUserID string
	Status       ApprovalStatus
	SafetyScore  int
	SafetyFlags  []string
	AutoApproved bool
	DecidedBy    string
	DecisionNote string
	DecidedAt    *time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
