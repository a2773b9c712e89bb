package transition

import (
	"context"
	"fmt"
	"log"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/ids"
	"fledge/internal/models"
	"fledge/internal/obs"
)

// Config holds default period lengths for new transition attempts.
type Config struct {
	WarningPeriodDays     int
	PreparationPeriodDays int
	MonitoringPeriodDays  int
	CanRevert             bool
}

// DefaultConfig returns the standard period lengths.
func DefaultConfig() Config {
	return Config{
		WarningPeriodDays:     7,
		PreparationPeriodDays: 30,
		MonitoringPeriodDays:  60,
		CanRevert:             true,
	}
}

// Store persists independence transitions.
type Store interface {
	Create(t *models.IndependenceTransition) error
	GetByID(id string) (*models.IndependenceTransition, error)
	GetOpenByKid(kidAccountID string) (*models.IndependenceTransition, error)
	ListOpen() ([]models.IndependenceTransition, error)
	AdvancePhase(id string, from, to models.Phase, history []models.Phase, score int, now time.Time) (bool, error)
	Complete(id string, from models.Phase, history []models.Phase, cert *models.CelebrationPayload, now time.Time) (bool, error)
	Revert(id, reason string, now time.Time) (bool, error)
	SetMilestones(id string, educationalGoalsMet, safetyTestPassed bool, now time.Time) error
	SetParentFinalApproval(id string, approved bool, now time.Time) error
}

// AccountStore reads and mutates kid accounts at finalization.
type AccountStore interface {
	GetByID(id string) (*models.KidAccount, error)
	MarkIndependent(id string, now time.Time) error
}

// ScoreStore reads the live maturity score. The machine always re-reads at
// the moment of a phase-advancing decision rather than caching it.
type ScoreStore interface {
	GetScore(kidAccountID string) (*models.MaturityScore, error)
}

// EventStore reports unresolved high-severity events inside a phase window.
type EventStore interface {
	HasUnresolvedAtLeast(kidAccountID string, minSeverity models.Severity, since *time.Time) (bool, error)
}

// CredentialUnlocker flips the kid's password settings to self-managed at
// independence.
type CredentialUnlocker interface {
	UnlockIndependentPassword(kidAccountID string) error
}

// Notifier informs the parent of phase changes via the external event bus.
type Notifier interface {
	TransitionUpdate(ctx context.Context, kid *models.KidAccount, t *models.IndependenceTransition, message string) error
}

// Machine orchestrates the multi-phase journey from supervised to
// independent. Every phase change is a compare-and-set on the current
// phase, so any number of concurrent sweepers stay idempotent.
type Machine struct {
	cfg         Config
	store       Store
	accounts    AccountStore
	scores      ScoreStore
	events      EventStore
	credentials CredentialUnlocker
	notifier    Notifier
	clock       clock.Clock
	debug       bool
}

// NewMachine creates a transition state machine. notifier may be nil.
func NewMachine(cfg Config, store Store, accounts AccountStore, scores ScoreStore, events EventStore, credentials CredentialUnlocker, notifier Notifier, clk clock.Clock) *Machine {
	return &Machine{
		cfg:         cfg,
		store:       store,
		accounts:    accounts,
		scores:      scores,
		events:      events,
		credentials: credentials,
		notifier:    notifier,
		clock:       clk,
	}
}

// SetDebug enables verbose logging
func (m *Machine) SetDebug(debug bool) {
	m.debug = debug
}

// stepOutcome is what a guard decides for one phase step.
type stepOutcome int

const (
	stepHold stepOutcome = iota
	stepAdvance
	stepReset
	stepRevert
	stepComplete
)

// step is one row of the transition table: the phase it leaves, the phase
// it enters, and the guard deciding whether the step fires now.
type step struct {
	from  models.Phase
	to    models.Phase
	guard func(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error)
}

// transitionTable is the complete forward path. Having it as data makes the
// no-skipped-phase property mechanically checkable: each phase appears as
// exactly one row's `from` and the next row's `to`.
var transitionTable = []step{
	{from: models.PhaseLocked, to: models.PhaseEligible, guard: guardLockedToEligible},
	{from: models.PhaseEligible, to: models.PhaseWarning, guard: guardEligibleToWarning},
	{from: models.PhaseWarning, to: models.PhasePreparation, guard: guardWarningToPreparation},
	{from: models.PhasePreparation, to: models.PhaseMonitoring, guard: guardPreparationToMonitoring},
	{from: models.PhaseMonitoring, to: models.PhaseIndependent, guard: guardMonitoringToIndependent},
}

// guardLockedToEligible fires once the live score reaches the requirement
// and the parent has set an independence date.
func guardLockedToEligible(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error) {
	if acct.IndependenceDate == nil {
		return stepHold, "", nil
	}
	// An unresolved high-severity event keeps the account locked even if
	// the score already clears the bar.
	blocked, err := m.events.HasUnresolvedAtLeast(t.KidAccountID, models.SeverityHigh, nil)
	if err != nil {
		return stepHold, "", faults.Wrap(faults.KindDependency, err, "checking events for %s", t.KidAccountID)
	}
	if blocked {
		return stepHold, "", nil
	}
	score, err := m.liveScore(t.KidAccountID)
	if err != nil {
		return stepHold, "", err
	}
	if score < t.RequiredMaturityScore {
		return stepHold, "", nil
	}
	return stepAdvance, "", nil
}

// guardEligibleToWarning always fires: the warning clock starts as soon as
// eligibility is reached.
func guardEligibleToWarning(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error) {
	return stepAdvance, "", nil
}

// guardWarningToPreparation fires after the warning clock elapses with a
// clean record. A high-severity event during the window resets the machine
// to Locked rather than silently stalling; this is a pre-transition reset,
// not a formal revert.
func guardWarningToPreparation(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error) {
	dirty, err := m.windowDirty(t)
	if err != nil {
		return stepHold, "", err
	}
	if dirty {
		return stepReset, "high-severity safety event during warning period", nil
	}
	if !m.clockElapsed(t, t.WarningPeriodDays) {
		return stepHold, "", nil
	}
	return stepAdvance, "", nil
}

// guardPreparationToMonitoring requires the educational goals and the
// safety test in addition to the preparation clock.
func guardPreparationToMonitoring(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error) {
	if outcome, reason, err := m.checkAutoRevert(t, "preparation period"); outcome != stepHold || err != nil {
		return outcome, reason, err
	}
	if !t.EducationalGoalsMet || !t.SafetyTestPassed {
		return stepHold, "", nil
	}
	if !m.clockElapsed(t, t.PreparationPeriodDays) {
		return stepHold, "", nil
	}
	return stepAdvance, "", nil
}

// guardMonitoringToIndependent re-checks the live score at the moment of
// finalization, not just at entry.
func guardMonitoringToIndependent(m *Machine, acct *models.KidAccount, t *models.IndependenceTransition) (stepOutcome, string, error) {
	if outcome, reason, err := m.checkAutoRevert(t, "monitoring period"); outcome != stepHold || err != nil {
		return outcome, reason, err
	}
	if !t.ParentFinalApproval {
		return stepHold, "", nil
	}
	if !m.clockElapsed(t, t.MonitoringPeriodDays) {
		return stepHold, "", nil
	}
	score, err := m.liveScore(t.KidAccountID)
	if err != nil {
		return stepHold, "", err
	}
	if score < t.RequiredMaturityScore {
		if t.CanRevert {
			return stepRevert, "maturity score dropped below requirement at finalization", nil
		}
		return stepHold, "", nil
	}
	return stepComplete, "", nil
}

// Begin opens a new transition attempt for a kid account. At most one open
// attempt may exist; a new attempt after a revert creates a new row.
func (m *Machine) Begin(kidAccountID string, requiredScore int) (*models.IndependenceTransition, error) {
	open, err := m.store.GetOpenByKid(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading open transition for %s", kidAccountID)
	}
	if open != nil {
		return nil, faults.New(faults.KindConflict, "account %s already has an open transition", kidAccountID)
	}

	now := m.clock.Now()
	t := &models.IndependenceTransition{
		ID:                    ids.New(),
		KidAccountID:          kidAccountID,
		Phase:                 models.PhaseLocked,
		RequiredMaturityScore: requiredScore,
		WarningPeriodDays:     m.cfg.WarningPeriodDays,
		PreparationPeriodDays: m.cfg.PreparationPeriodDays,
		MonitoringPeriodDays:  m.cfg.MonitoringPeriodDays,
		CanRevert:             m.cfg.CanRevert,
		PhaseEnteredAt:        now,
		PhaseHistory:          []models.Phase{models.PhaseLocked},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := m.store.Create(t); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "creating transition for %s", kidAccountID)
	}
	return t, nil
}

// AdvanceAll is the phase-clock sweep entry point. It walks every open
// transition and advances it as far as its guards allow. Safe to run from
// any number of workers: every mutation is a CAS on the current phase.
func (m *Machine) AdvanceAll(ctx context.Context) error {
	open, err := m.store.ListOpen()
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "listing open transitions")
	}
	for i := range open {
		if err := m.advance(ctx, open[i].ID); err != nil {
			log.Printf("Transition advance failed: id=%s: %v", open[i].ID, err)
		}
	}
	obs.SweepRuns.WithLabelValues("transition_phase_clock").Inc()
	return nil
}

// advance moves one transition forward step by step until a guard holds.
func (m *Machine) advance(ctx context.Context, transitionID string) error {
	for {
		t, err := m.store.GetByID(transitionID)
		if err != nil {
			return faults.Wrap(faults.KindDependency, err, "loading transition %s", transitionID)
		}
		if t == nil {
			return faults.New(faults.KindNotFound, "transition %s", transitionID)
		}
		if t.Phase.Terminal() {
			return nil
		}

		acct, err := m.accounts.GetByID(t.KidAccountID)
		if err != nil {
			return faults.Wrap(faults.KindDependency, err, "loading kid account %s", t.KidAccountID)
		}
		if acct == nil {
			return faults.New(faults.KindNotFound, "kid account %s", t.KidAccountID)
		}
		if !acct.Active {
			return nil
		}

		row, ok := stepFrom(t.Phase)
		if !ok {
			return faults.New(faults.KindConflict, "transition %s is in unknown phase %s", t.ID, t.Phase)
		}

		outcome, reason, err := row.guard(m, acct, t)
		if err != nil {
			return err
		}

		switch outcome {
		case stepHold:
			return nil
		case stepAdvance:
			if err := m.applyAdvance(ctx, acct, t, row.to); err != nil {
				return err
			}
		case stepReset:
			return m.applyReset(ctx, acct, t, reason)
		case stepRevert:
			return m.applyRevert(ctx, acct, t, reason)
		case stepComplete:
			return m.applyComplete(ctx, acct, t)
		}
	}
}

func (m *Machine) applyAdvance(ctx context.Context, acct *models.KidAccount, t *models.IndependenceTransition, to models.Phase) error {
	now := m.clock.Now()
	score, err := m.liveScore(t.KidAccountID)
	if err != nil {
		return err
	}
	history := append(append([]models.Phase{}, t.PhaseHistory...), to)
	applied, err := m.store.AdvancePhase(t.ID, t.Phase, to, history, score, now)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "advancing transition %s", t.ID)
	}
	if !applied {
		// Another sweeper advanced it first; nothing to do.
		return nil
	}
	obs.TransitionPhaseChanges.WithLabelValues(string(to)).Inc()
	log.Printf("Transition advanced: id=%s kid=%s %s -> %s", t.ID, t.KidAccountID, t.Phase, to)
	m.notify(ctx, acct, t, fmt.Sprintf("Independence progress: now in %s", to))
	return nil
}

// applyReset returns the machine to Locked after a dirty warning window.
// The attempt stays open and WasReverted stays false.
func (m *Machine) applyReset(ctx context.Context, acct *models.KidAccount, t *models.IndependenceTransition, reason string) error {
	now := m.clock.Now()
	score, err := m.liveScore(t.KidAccountID)
	if err != nil {
		return err
	}
	history := append(append([]models.Phase{}, t.PhaseHistory...), models.PhaseLocked)
	applied, err := m.store.AdvancePhase(t.ID, t.Phase, models.PhaseLocked, history, score, now)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "resetting transition %s", t.ID)
	}
	if applied {
		obs.TransitionPhaseChanges.WithLabelValues(string(models.PhaseLocked)).Inc()
		log.Printf("Transition reset to locked: id=%s kid=%s (%s)", t.ID, t.KidAccountID, reason)
		m.notify(ctx, acct, t, "Independence progress paused: "+reason)
	}
	return nil
}

func (m *Machine) applyRevert(ctx context.Context, acct *models.KidAccount, t *models.IndependenceTransition, reason string) error {
	applied, err := m.store.Revert(t.ID, reason, m.clock.Now())
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "reverting transition %s", t.ID)
	}
	if applied {
		obs.TransitionPhaseChanges.WithLabelValues(string(models.PhaseReverted)).Inc()
		log.Printf("Transition reverted: id=%s kid=%s (%s)", t.ID, t.KidAccountID, reason)
		m.notify(ctx, acct, t, "Independence transition reverted: "+reason)
	}
	return nil
}

// applyComplete finalizes independence. The account and password mutations
// run first and are idempotent; the transition row is closed last with a
// CAS. A failure part-way leaves the row open in monitoring, so the next
// sweep re-runs the whole finalization instead of stranding the account.
func (m *Machine) applyComplete(ctx context.Context, acct *models.KidAccount, t *models.IndependenceTransition) error {
	now := m.clock.Now()
	score, err := m.liveScore(t.KidAccountID)
	if err != nil {
		return err
	}

	if err := m.credentials.UnlockIndependentPassword(t.KidAccountID); err != nil {
		return faults.Wrap(faults.KindDependency, err, "unlocking password for %s", t.KidAccountID)
	}
	if err := m.accounts.MarkIndependent(t.KidAccountID, now); err != nil {
		return faults.Wrap(faults.KindDependency, err, "marking account %s independent", t.KidAccountID)
	}

	cert := &models.CelebrationPayload{
		Version:     1,
		CompletedAt: now,
		FinalScore:  score,
		Message:     fmt.Sprintf("%s has earned full account independence", acct.DisplayName),
	}
	history := append(append([]models.Phase{}, t.PhaseHistory...), models.PhaseIndependent)
	applied, err := m.store.Complete(t.ID, t.Phase, history, cert, now)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "completing transition %s", t.ID)
	}
	if !applied {
		return nil
	}

	obs.TransitionPhaseChanges.WithLabelValues(string(models.PhaseIndependent)).Inc()
	log.Printf("Independence granted: id=%s kid=%s score=%d", t.ID, t.KidAccountID, score)
	m.notify(ctx, acct, t, "Independence granted! Time to celebrate.")
	return nil
}

// RevertByParent reverts an open transition at the parent's explicit
// request.
func (m *Machine) RevertByParent(ctx context.Context, transitionID, parentID, reason string) error {
	t, err := m.store.GetByID(transitionID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading transition %s", transitionID)
	}
	if t == nil {
		return faults.New(faults.KindNotFound, "transition %s", transitionID)
	}
	if t.Phase.Terminal() {
		return faults.New(faults.KindConflict, "transition %s already %s", transitionID, t.Phase)
	}

	acct, err := m.accounts.GetByID(t.KidAccountID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading kid account %s", t.KidAccountID)
	}
	if acct == nil {
		return faults.New(faults.KindNotFound, "kid account %s", t.KidAccountID)
	}
	if acct.ParentID() != parentID {
		return faults.New(faults.KindAuthorization, "parent %s is not linked to account %s", parentID, t.KidAccountID)
	}

	if reason == "" {
		reason = "reverted by parent"
	}
	return m.applyRevert(ctx, acct, t, reason)
}

// SetMilestones records the preparation-phase checkboxes.
func (m *Machine) SetMilestones(transitionID string, educationalGoalsMet, safetyTestPassed bool) error {
	t, err := m.store.GetByID(transitionID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading transition %s", transitionID)
	}
	if t == nil {
		return faults.New(faults.KindNotFound, "transition %s", transitionID)
	}
	if t.Phase.Terminal() {
		return faults.New(faults.KindConflict, "transition %s already %s", transitionID, t.Phase)
	}
	if err := m.store.SetMilestones(transitionID, educationalGoalsMet, safetyTestPassed, m.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "setting milestones on %s", transitionID)
	}
	return nil
}

// SetParentFinalApproval records the parent's sign-off for finalization.
func (m *Machine) SetParentFinalApproval(transitionID, parentID string, approved bool) error {
	t, err := m.store.GetByID(transitionID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading transition %s", transitionID)
	}
	if t == nil {
		return faults.New(faults.KindNotFound, "transition %s", transitionID)
	}
	if t.Phase.Terminal() {
		return faults.New(faults.KindConflict, "transition %s already %s", transitionID, t.Phase)
	}

	acct, err := m.accounts.GetByID(t.KidAccountID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading kid account %s", t.KidAccountID)
	}
	if acct == nil {
		return faults.New(faults.KindNotFound, "kid account %s", t.KidAccountID)
	}
	if acct.ParentID() != parentID {
		return faults.New(faults.KindAuthorization, "parent %s is not linked to account %s", parentID, t.KidAccountID)
	}

	if err := m.store.SetParentFinalApproval(transitionID, approved, m.clock.Now()); err != nil {
		return faults.Wrap(faults.KindDependency, err, "setting final approval on %s", transitionID)
	}
	return nil
}

// checkAutoRevert reverts an open transition when a high-severity event
// fires inside the current phase window, provided reverting is allowed.
func (m *Machine) checkAutoRevert(t *models.IndependenceTransition, window string) (stepOutcome, string, error) {
	if !t.CanRevert {
		return stepHold, "", nil
	}
	dirty, err := m.windowDirty(t)
	if err != nil {
		return stepHold, "", err
	}
	if dirty {
		return stepRevert, "high-severity safety event during " + window, nil
	}
	return stepHold, "", nil
}

// windowDirty reports whether an unresolved high-severity event appeared
// since the current phase was entered.
func (m *Machine) windowDirty(t *models.IndependenceTransition) (bool, error) {
	since := t.PhaseEnteredAt
	dirty, err := m.events.HasUnresolvedAtLeast(t.KidAccountID, models.SeverityHigh, &since)
	if err != nil {
		return false, faults.Wrap(faults.KindDependency, err, "checking events for %s", t.KidAccountID)
	}
	return dirty, nil
}

// clockElapsed reports whether the configured number of days has passed
// since the current phase was entered.
func (m *Machine) clockElapsed(t *models.IndependenceTransition, days int) bool {
	deadline := t.PhaseEnteredAt.Add(time.Duration(days) * 24 * time.Hour)
	return !m.clock.Now().Before(deadline)
}

// liveScore reads the current total score, 0 when no score row exists.
func (m *Machine) liveScore(kidAccountID string) (int, error) {
	score, err := m.scores.GetScore(kidAccountID)
	if err != nil {
		return 0, faults.Wrap(faults.KindDependency, err, "loading maturity score for %s", kidAccountID)
	}
	if score == nil {
		return 0, nil
	}
	return score.TotalScore, nil
}

func (m *Machine) notify(ctx context.Context, acct *models.KidAccount, t *models.IndependenceTransition, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.TransitionUpdate(ctx, acct, t, message); err != nil {
		log.Printf("Transition notification failed: kid=%s: %v", t.KidAccountID, err)
	}
}

func stepFrom(phase models.Phase) (step, bool) {
	for _, s := range transitionTable {
		if s.from == phase {
			return s, true
		}
	}
	return step{}, false
}
