package approval

import (
	"context"
	"log"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/ids"
	"fledge/internal/models"
	"fledge/internal/obs"
)

// Config holds the auto-approval thresholds and the pending window.
// Thresholds are per request type and injectable, not hard-coded.
type Config struct {
	AutoApproveThresholds map[models.RequestType]int
	PendingWindow         time.Duration
}

// DefaultConfig returns standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoApproveThresholds: map[models.RequestType]int{
			models.RequestFollow:        60,
			models.RequestContentAccess: 75,
		},
		PendingWindow: 72 * time.Hour,
	}
}

// Store persists approvals.
type Store interface {
	Create(a *models.ParentApproval) error
	GetByID(id string) (*models.ParentApproval, error)
	Decide(id string, status models.ApprovalStatus, decidedBy, note string, now time.Time) (bool, error)
	SupersedePending(kidAccountID string, requestType models.RequestType, now time.Time) (int64, error)
	ExpireStale(now time.Time) (int64, error)
	ListByKidAndStatus(kidAccountID string, status models.ApprovalStatus) ([]models.ParentApproval, error)
	ListByParentAndStatus(parentID string, status models.ApprovalStatus) ([]models.ParentApproval, error)
}

// AccountStore resolves the kid account a request concerns.
type AccountStore interface {
	GetByID(id string) (*models.KidAccount, error)
}

// Scorer reports the kid account's live safety score.
type Scorer interface {
	CurrentTotal(kidAccountID string) (int, error)
}

// EventStore reports unresolved high-severity events, which veto
// auto-approval.
type EventStore interface {
	HasUnresolvedAtLeast(kidAccountID string, minSeverity models.Severity, since *time.Time) (bool, error)
}

// Notifier informs the parent that a request awaits their decision.
type Notifier interface {
	ApprovalRequest(ctx context.Context, kid *models.KidAccount, approval *models.ParentApproval) error
}

// Workflow queues sensitive actions for parent decision, auto-approving
// when the safety signals clear the configured threshold.
type Workflow struct {
	cfg      Config
	store    Store
	accounts AccountStore
	scorer   Scorer
	events   EventStore
	notifier Notifier
	clock    clock.Clock
	debug    bool
}

// NewWorkflow creates an approval workflow. notifier may be nil.
func NewWorkflow(cfg Config, store Store, accounts AccountStore, scorer Scorer, events EventStore, notifier Notifier, clk clock.Clock) *Workflow {
	return &Workflow{cfg: cfg, store: store, accounts: accounts, scorer: scorer, events: events, notifier: notifier, clock: clk}
}

// SetDebug enables verbose logging
func (w *Workflow) SetDebug(debug bool) {
	w.debug = debug
}

// Submit creates an approval request for a sensitive action. A new request
// supersedes any pending request of the same type. When the account's
// safety score clears the threshold and no unresolved high-severity event
// exists, the request is auto-approved immediately.
func (w *Workflow) Submit(kidAccountID string, requestType models.RequestType, targetUserID string) (*models.ParentApproval, error) {
	acct, err := w.accounts.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}
	if !acct.Active {
		return nil, faults.New(faults.KindConflict, "account %s is deactivated; approvals are not processed", kidAccountID)
	}
	if !acct.IsSupervised() {
		return nil, faults.New(faults.KindConflict, "account %s is not supervised", kidAccountID)
	}

	now := w.clock.Now()

	superseded, err := w.store.SupersedePending(kidAccountID, requestType, now)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "superseding pending approvals")
	}
	if superseded > 0 && w.debug {
		log.Printf("[DEBUG] superseded %d pending %s request(s) for kid=%s", superseded, requestType, kidAccountID)
	}

	score, err := w.scorer.CurrentTotal(kidAccountID)
	if err != nil {
		return nil, err
	}

	blocked, err := w.events.HasUnresolvedAtLeast(kidAccountID, models.SeverityHigh, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "checking unresolved events")
	}

	a := &models.ParentApproval{
		ID:           ids.New(),
		KidAccountID: kidAccountID,
		ParentID:     acct.ParentID(),
		RequestType:  requestType,
		TargetUserID: targetUserID,
		Status:       models.ApprovalPending,
		SafetyScore:  score,
		ExpiresAt:    now.Add(w.cfg.PendingWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if blocked {
		a.SafetyFlags = append(a.SafetyFlags, "unresolved_high_severity_event")
	}

	threshold, ok := w.cfg.AutoApproveThresholds[requestType]
	if ok && score >= threshold && !blocked {
		a.Status = models.ApprovalApproved
		a.AutoApproved = true
		a.DecidedAt = &now
		obs.ApprovalsAutoApproved.Inc()
		log.Printf("Auto-approved %s for kid=%s (score %d >= %d)", requestType, kidAccountID, score, threshold)
	}

	if err := w.store.Create(a); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "creating approval")
	}

	if a.Status == models.ApprovalPending && w.notifier != nil {
		// Notification failure must not lose the request; the parent still
		// sees it in their pending queue.
		if err := w.notifier.ApprovalRequest(context.Background(), acct, a); err != nil {
			log.Printf("Approval request notification failed: approval=%s: %v", a.ID, err)
		}
	}
	return a, nil
}

// Decide records a parent decision. Replaying the same decision on an
// already-decided approval is a no-op; replaying a conflicting decision is
// a conflict error.
func (w *Workflow) Decide(approvalID, parentID string, approve bool, notes string) error {
	a, err := w.store.GetByID(approvalID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading approval %s", approvalID)
	}
	if a == nil {
		return faults.New(faults.KindNotFound, "approval %s", approvalID)
	}
	if a.ParentID != parentID {
		return faults.New(faults.KindAuthorization, "parent %s is not linked to approval %s", parentID, approvalID)
	}

	// Deactivation freezes the whole approval pipeline, not just Submit.
	acct, err := w.accounts.GetByID(a.KidAccountID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading kid account %s", a.KidAccountID)
	}
	if acct == nil {
		return faults.New(faults.KindNotFound, "kid account %s", a.KidAccountID)
	}
	if !acct.Active {
		return faults.New(faults.KindConflict, "account %s is deactivated; approvals are not processed", a.KidAccountID)
	}

	target := models.ApprovalRejected
	if approve {
		target = models.ApprovalApproved
	}

	if a.Status.Terminal() {
		if replayMatches(a.Status, approve) {
			return nil
		}
		return faults.New(faults.KindConflict, "approval %s already %s", approvalID, a.Status)
	}

	applied, err := w.store.Decide(approvalID, target, parentID, notes, w.clock.Now())
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "deciding approval %s", approvalID)
	}
	if !applied {
		// Lost a race with another decision or the expiry sweep; re-read to
		// distinguish replay from conflict.
		current, err := w.store.GetByID(approvalID)
		if err != nil {
			return faults.Wrap(faults.KindDependency, err, "re-loading approval %s", approvalID)
		}
		if current != nil && replayMatches(current.Status, approve) {
			return nil
		}
		return faults.New(faults.KindConflict, "approval %s was decided concurrently", approvalID)
	}
	return nil
}

// Withdraw cancels a pending request at the kid's initiative.
func (w *Workflow) Withdraw(approvalID, kidAccountID string) error {
	a, err := w.store.GetByID(approvalID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading approval %s", approvalID)
	}
	if a == nil {
		return faults.New(faults.KindNotFound, "approval %s", approvalID)
	}
	if a.KidAccountID != kidAccountID {
		return faults.New(faults.KindAuthorization, "approval %s does not belong to account %s", approvalID, kidAccountID)
	}
	if a.Status.Terminal() {
		if a.Status == models.ApprovalWithdrawn {
			return nil
		}
		return faults.New(faults.KindConflict, "approval %s already %s", approvalID, a.Status)
	}

	applied, err := w.store.Decide(approvalID, models.ApprovalWithdrawn, kidAccountID, "withdrawn by requester", w.clock.Now())
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "withdrawing approval %s", approvalID)
	}
	if !applied {
		return faults.New(faults.KindConflict, "approval %s was decided concurrently", approvalID)
	}
	return nil
}

// PendingForParent returns the parent's decision queue, newest first.
func (w *Workflow) PendingForParent(parentID string) ([]models.ParentApproval, error) {
	list, err := w.store.ListByParentAndStatus(parentID, models.ApprovalPending)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "listing pending approvals for parent %s", parentID)
	}
	return list, nil
}

// ListForKid returns a kid account's approvals in the given status.
func (w *Workflow) ListForKid(kidAccountID string, status models.ApprovalStatus) ([]models.ParentApproval, error) {
	list, err := w.store.ListByKidAndStatus(kidAccountID, status)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "listing approvals for kid %s", kidAccountID)
	}
	return list, nil
}

// ExpireStale transitions pending approvals past their expiry to Expired.
// Expiry counts as a rejection for downstream callers. Safe to run from any
// number of workers concurrently.
func (w *Workflow) ExpireStale() (int64, error) {
	n, err := w.store.ExpireStale(w.clock.Now())
	if err != nil {
		return 0, faults.Wrap(faults.KindDependency, err, "expiring approvals")
	}
	if n > 0 {
		obs.ApprovalsExpired.Add(float64(n))
		log.Printf("Expired %d stale approval(s)", n)
	}
	obs.SweepRuns.WithLabelValues("approval_expiry").Inc()
	return n, nil
}

// replayMatches reports whether a replayed decision agrees with the
// recorded terminal status. Expiry counts as a rejection.
func replayMatches(status models.ApprovalStatus, approve bool) bool {
	if approve {
		return status == models.ApprovalApproved
	}
	return status == models.ApprovalRejected || status == models.ApprovalExpired
}
