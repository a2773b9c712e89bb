package scoring

import (
	"fmt"
	"log"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/ids"
	"fledge/internal/models"
)

// Config holds the scoring weights and level bounds. All values are
// injectable so deployments can tune thresholds without code changes.
type Config struct {
	// Sub-score weights, applied to the six behavioral dimensions.
	// They should sum to 1.
	WeightDigitalCitizenship    float64
	WeightResponsibleBehavior   float64
	WeightParentTrust           float64
	WeightEducationalEngagement float64
	WeightSocialInteraction     float64
	WeightContentQuality        float64

	// Component weights for the total score. They should sum to 1.
	WeightAge        float64
	WeightParent     float64
	WeightBehavioral float64

	// PenaltyPerRiskPoint is subtracted from the total per unit of
	// unresolved high-severity risk.
	PenaltyPerRiskPoint float64

	// Level lower bounds on the 0-100 total.
	DevelopingMin int
	TrustedMin    int
	ReadyMin      int

	// AssessmentInterval schedules the next periodic assessment.
	AssessmentInterval time.Duration
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		WeightDigitalCitizenship:    0.20,
		WeightResponsibleBehavior:   0.20,
		WeightParentTrust:           0.20,
		WeightEducationalEngagement: 0.15,
		WeightSocialInteraction:     0.15,
		WeightContentQuality:        0.10,

		WeightAge:        0.15,
		WeightParent:     0.25,
		WeightBehavioral: 0.60,

		PenaltyPerRiskPoint: 10,

		DevelopingMin: 40,
		TrustedMin:    65,
		ReadyMin:      80,

		AssessmentInterval: 30 * 24 * time.Hour,
	}
}

// AccountStore is the subset of kid-account storage the engine reads.
type AccountStore interface {
	GetByID(id string) (*models.KidAccount, error)
}

// ScoreStore persists maturity scores and behavior assessments.
type ScoreStore interface {
	GetScore(kidAccountID string) (*models.MaturityScore, error)
	UpsertScore(s *models.MaturityScore) error
	CreateAssessment(a *models.BehaviorAssessment) error
	LatestAssessment(kidAccountID string) (*models.BehaviorAssessment, error)
	ListDueAssessments(now time.Time) ([]string, error)
}

// EventStore is the subset of safety-event storage the engine needs: the
// unresolved risk that feeds the penalty term, and the audit event written
// on level changes.
type EventStore interface {
	ListUnresolvedByKid(kidAccountID string, minSeverity models.Severity) ([]models.SafetyEvent, error)
	Create(e *models.SafetyEvent) error
}

// Engine folds assessments, age, parent rating and unresolved risk into a
// maturity score and level.
type Engine struct {
	cfg      Config
	accounts AccountStore
	scores   ScoreStore
	events   EventStore
	clock    clock.Clock
	debug    bool
}

// NewEngine creates a score engine
func NewEngine(cfg Config, accounts AccountStore, scores ScoreStore, events EventStore, clk clock.Clock) *Engine {
	return &Engine{cfg: cfg, accounts: accounts, scores: scores, events: events, clock: clk}
}

// SetDebug enables verbose logging
func (e *Engine) SetDebug(debug bool) {
	e.debug = debug
}

// Input is everything Compute needs. Compute is pure: same input, same output.
type Input struct {
	Age            int
	Scores         models.SubScores
	HasAssessment  bool
	ParentRating   int // 0-100
	UnresolvedRisk float64
	Previous       *models.MaturityScore
}

// Result is the outcome of a pure score computation.
type Result struct {
	AgeScore        int
	BehavioralScore int
	TotalScore      int
	Level           models.MaturityLevel
	PendingDemotion *models.MaturityLevel
	LevelChanged    bool
}

// Compute derives the maturity score and level from the input. Missing
// required inputs fail closed: the account scores zero and reports the
// most restrictive level.
func (e *Engine) Compute(in Input) Result {
	if !in.HasAssessment {
		return Result{
			Level:        models.LevelLocked,
			LevelChanged: in.Previous != nil && in.Previous.Level != models.LevelLocked,
		}
	}

	behavioral := e.cfg.WeightDigitalCitizenship*float64(in.Scores.DigitalCitizenship) +
		e.cfg.WeightResponsibleBehavior*float64(in.Scores.ResponsibleBehavior) +
		e.cfg.WeightParentTrust*float64(in.Scores.ParentTrust) +
		e.cfg.WeightEducationalEngagement*float64(in.Scores.EducationalEngagement) +
		e.cfg.WeightSocialInteraction*float64(in.Scores.SocialInteraction) +
		e.cfg.WeightContentQuality*float64(in.Scores.ContentQuality)

	ageScore := ageScore(in.Age)

	total := e.cfg.WeightAge*float64(ageScore) +
		e.cfg.WeightParent*float64(in.ParentRating) +
		e.cfg.WeightBehavioral*behavioral -
		e.cfg.PenaltyPerRiskPoint*in.UnresolvedRisk

	totalScore := clampScore(int(total + 0.5))
	target := e.levelFor(totalScore)

	level, pending := e.applyHysteresis(target, in.Previous)

	changed := false
	if in.Previous == nil {
		changed = level != models.LevelLocked
	} else {
		changed = level != in.Previous.Level
	}

	return Result{
		AgeScore:        ageScore,
		BehavioralScore: clampScore(int(behavioral + 0.5)),
		TotalScore:      totalScore,
		Level:           level,
		PendingDemotion: pending,
		LevelChanged:    changed,
	}
}

// applyHysteresis delays demotions by one full reassessment cycle: a drop
// takes effect only if it is still observed on the next computation.
// Promotions apply immediately.
func (e *Engine) applyHysteresis(target models.MaturityLevel, prev *models.MaturityScore) (models.MaturityLevel, *models.MaturityLevel) {
	if prev == nil {
		return target, nil
	}
	if target.Rank() >= prev.Level.Rank() {
		return target, nil
	}
	// Demotion observed. Hold the level the first cycle; demote only if a
	// demotion was already pending from the previous cycle.
	if prev.PendingDemotion != nil {
		return target, nil
	}
	return prev.Level, &target
}

func (e *Engine) levelFor(total int) models.MaturityLevel {
	switch {
	case total >= e.cfg.ReadyMin:
		return models.LevelReadyForIndependence
	case total >= e.cfg.TrustedMin:
		return models.LevelTrusted
	case total >= e.cfg.DevelopingMin:
		return models.LevelDeveloping
	default:
		return models.LevelLocked
	}
}

// Recompute recalculates and persists the maturity score for a kid account,
// recording a level_changed safety event when the level moves.
func (e *Engine) Recompute(kidAccountID string) (*models.MaturityScore, error) {
	acct, err := e.accounts.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}

	prev, err := e.scores.GetScore(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading maturity score for %s", kidAccountID)
	}

	assessment, err := e.scores.LatestAssessment(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading assessment for %s", kidAccountID)
	}

	risk, err := e.unresolvedRisk(kidAccountID)
	if err != nil {
		return nil, err
	}

	in := Input{
		Age:            acct.Age,
		UnresolvedRisk: risk,
		Previous:       prev,
	}
	if assessment != nil {
		in.HasAssessment = true
		in.Scores = assessment.Scores
	}
	if prev != nil {
		in.ParentRating = prev.ParentRating
	}

	result := e.Compute(in)

	if e.debug {
		log.Printf("[DEBUG] score recompute: kid=%s total=%d level=%s risk=%.2f",
			kidAccountID, result.TotalScore, result.Level, risk)
	}

	now := e.clock.Now()
	score := &models.MaturityScore{
		KidAccountID:    kidAccountID,
		AgeScore:        result.AgeScore,
		ParentRating:    in.ParentRating,
		BehavioralScore: result.BehavioralScore,
		TotalScore:      result.TotalScore,
		Level:           result.Level,
		PendingDemotion: result.PendingDemotion,
		UpdatedAt:       now,
	}
	if assessment != nil {
		score.Scores = assessment.Scores
		score.ParentAssessment = assessment.OverallMaturityScore
	}
	if prev != nil {
		score.PreviousLevel = prev.Level
		score.LevelChangedAt = prev.LevelChangedAt
	}
	if result.LevelChanged {
		score.LevelChangedAt = &now
		if prev != nil {
			score.PreviousLevel = prev.Level
		}
	}

	if err := e.scores.UpsertScore(score); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "writing maturity score for %s", kidAccountID)
	}

	if result.LevelChanged {
		event := &models.SafetyEvent{
			ID:           ids.New(),
			KidAccountID: kidAccountID,
			EventType:    models.EventLevelChanged,
			Severity:     models.SeverityLow,
			Source:       "score_engine",
			ExternalID:   fmt.Sprintf("level-change-%s-%d", kidAccountID, now.UnixNano()),
			Resolved:     true,
			CreatedAt:    now,
		}
		if err := e.events.Create(event); err != nil {
			return nil, faults.Wrap(faults.KindDependency, err, "writing level-change event for %s", kidAccountID)
		}
		log.Printf("Maturity level changed: kid=%s %s -> %s", kidAccountID, score.PreviousLevel, score.Level)
	}

	return score, nil
}

// RecordAssessment writes a new immutable assessment row and recomputes the
// score from it.
func (e *Engine) RecordAssessment(kidAccountID string, scores models.SubScores, safetyRisk float64) (*models.BehaviorAssessment, error) {
	acct, err := e.accounts.GetByID(kidAccountID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "loading kid account %s", kidAccountID)
	}
	if acct == nil {
		return nil, faults.New(faults.KindNotFound, "kid account %s", kidAccountID)
	}

	overall := OverallMaturity(scores)
	now := e.clock.Now()
	assessment := &models.BehaviorAssessment{
		ID:                    ids.New(),
		KidAccountID:          kidAccountID,
		Scores:                scores,
		OverallMaturityScore:  overall,
		SafetyRisk:            safetyRisk,
		IndependenceReadiness: overall >= e.cfg.ReadyMin,
		NextAssessmentDue:     now.Add(e.cfg.AssessmentInterval),
		CreatedAt:             now,
	}
	if err := e.scores.CreateAssessment(assessment); err != nil {
		return nil, faults.Wrap(faults.KindDependency, err, "writing assessment for %s", kidAccountID)
	}

	if _, err := e.Recompute(kidAccountID); err != nil {
		return nil, err
	}
	return assessment, nil
}

// SetParentRating stores the parent's 0-100 trust rating and recomputes.
func (e *Engine) SetParentRating(kidAccountID string, rating int) error {
	if rating < 0 || rating > 100 {
		return faults.New(faults.KindValidation, "parent rating %d out of range [0,100]", rating)
	}
	score, err := e.scores.GetScore(kidAccountID)
	if err != nil {
		return faults.Wrap(faults.KindDependency, err, "loading maturity score for %s", kidAccountID)
	}
	if score == nil {
		score = &models.MaturityScore{KidAccountID: kidAccountID, Level: models.LevelLocked}
	}
	score.ParentRating = rating
	score.UpdatedAt = e.clock.Now()
	if err := e.scores.UpsertScore(score); err != nil {
		return faults.Wrap(faults.KindDependency, err, "writing maturity score for %s", kidAccountID)
	}
	_, err = e.Recompute(kidAccountID)
	return err
}

// RecomputeDue recomputes every account whose scheduled reassessment date
// has lapsed, so unresolved risk keeps feeding the score between
// assessments. Returns the number of accounts recomputed.
func (e *Engine) RecomputeDue() (int, error) {
	due, err := e.scores.ListDueAssessments(e.clock.Now())
	if err != nil {
		return 0, faults.Wrap(faults.KindDependency, err, "listing due assessments")
	}
	recomputed := 0
	for _, kidAccountID := range due {
		if _, err := e.Recompute(kidAccountID); err != nil {
			log.Printf("Scheduled recompute failed: kid=%s: %v", kidAccountID, err)
			continue
		}
		recomputed++
	}
	if recomputed > 0 {
		log.Printf("Scheduled recompute complete: %d account(s)", recomputed)
	}
	return recomputed, nil
}

// CurrentTotal returns the live total score for a kid account, 0 when no
// score row exists yet (fail closed).
func (e *Engine) CurrentTotal(kidAccountID string) (int, error) {
	score, err := e.scores.GetScore(kidAccountID)
	if err != nil {
		return 0, faults.Wrap(faults.KindDependency, err, "loading maturity score for %s", kidAccountID)
	}
	if score == nil {
		return 0, nil
	}
	return score.TotalScore, nil
}

func (e *Engine) unresolvedRisk(kidAccountID string) (float64, error) {
	events, err := e.events.ListUnresolvedByKid(kidAccountID, models.SeverityHigh)
	if err != nil {
		return 0, faults.Wrap(faults.KindDependency, err, "loading unresolved events for %s", kidAccountID)
	}
	var risk float64
	for _, ev := range events {
		risk += ev.RiskScore
	}
	return risk, nil
}

// OverallMaturity is the deterministic overall score of an assessment:
// the plain average of the six sub-scores.
func OverallMaturity(s models.SubScores) int {
	sum := s.DigitalCitizenship + s.ResponsibleBehavior + s.ParentTrust +
		s.EducationalEngagement + s.SocialInteraction + s.ContentQuality
	return clampScore((sum + 3) / 6)
}

// ageScore maps age onto 0-100, saturating at 18.
func ageScore(age int) int {
	if age <= 0 {
		return 0
	}
	if age >= 18 {
		return 100
	}
	return age * 100 / 18
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
