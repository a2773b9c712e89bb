package models

import "time"

// Phase is a stage in the journey from supervised to independent.
type Phase string

const (
	PhaseLocked      Phase = "locked"
	PhaseEligible    Phase = "eligible"
	PhaseWarning     Phase = "warning_period"
	PhasePreparation Phase = "preparation_period"
	PhaseMonitoring  Phase = "monitoring_period"
	PhaseIndependent Phase = "independent"
	PhaseReverted    Phase = "reverted"
)

// Terminal reports whether no further phase changes are possible.
func (p Phase) Terminal() bool {
	return p == PhaseIndependent || p == PhaseReverted
}

// CelebrationPayload is the typed structure recorded when a transition
// completes, consumed by clients to render the independence celebration.
type CelebrationPayload struct {
	Version     int
	CompletedAt time.Time
	FinalScore  int
	Message     string
}

// IndependenceTransition is one attempt to grant a kid account autonomy.
// At most one open (non-terminal) transition exists per kid account; a new
// attempt after a revert creates a new row.
type IndependenceTransition struct {
	ID                    string
	KidAccountID          string
	Phase                 Phase
	RequiredMaturityScore int
	CurrentMaturityScore  int
	EducationalGoalsMet   bool
	SafetyTestPassed      bool
	ParentFinalApproval   bool
	WarningPeriodDays     int
	PreparationPeriodDays int
	MonitoringPeriodDays  int
	CanRevert             bool
	PhaseEnteredAt        time.Time
	PhaseHistory          []Phase
	CompletedAt           *time.Time
	RevertedAt            *time.Time
	RevertReason          string
	WasReverted           bool
	Certificate           *CelebrationPayload
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Open reports whether the transition is still in progress.
func (t *IndependenceTransition) Open() bool {
	return !t.Phase.Terminal()
}
