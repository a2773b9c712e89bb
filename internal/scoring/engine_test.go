package scoring

import (
	"testing"
	"time"

	"fledge/internal/clock"
	"fledge/internal/models"
)

func testEngine() *Engine {
	return NewEngine(DefaultConfig(), nil, nil, nil, clock.Fixed{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
}

func TestComputeFailsClosedWithoutAssessment(t *testing.T) {
	e := testEngine()

	result := e.Compute(Input{Age: 14, ParentRating: 90})

	if result.TotalScore != 0 {
		t.Errorf("TotalScore = %d, want 0", result.TotalScore)
	}
	if result.Level != models.LevelLocked {
		t.Errorf("Level = %s, want %s", result.Level, models.LevelLocked)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	e := testEngine()
	in := Input{
		Age:           14,
		HasAssessment: true,
		Scores: models.SubScores{
			DigitalCitizenship:    80,
			ResponsibleBehavior:   75,
			ParentTrust:           90,
			EducationalEngagement: 70,
			SocialInteraction:     65,
			ContentQuality:        85,
		},
		ParentRating: 80,
	}

	first := e.Compute(in)
	for i := 0; i < 10; i++ {
		if got := e.Compute(in); got != first {
			t.Fatalf("Compute not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestComputeWeights(t *testing.T) {
	e := testEngine()

	// All sub-scores and the parent rating at 100, age saturated: the total
	// must come out at exactly 100.
	in := Input{
		Age:           18,
		HasAssessment: true,
		Scores: models.SubScores{
			DigitalCitizenship:    100,
			ResponsibleBehavior:   100,
			ParentTrust:           100,
			EducationalEngagement: 100,
			SocialInteraction:     100,
			ContentQuality:        100,
		},
		ParentRating: 100,
	}
	result := e.Compute(in)

	if result.TotalScore != 100 {
		t.Errorf("TotalScore = %d, want 100", result.TotalScore)
	}
	if result.BehavioralScore != 100 {
		t.Errorf("BehavioralScore = %d, want 100", result.BehavioralScore)
	}
	if result.Level != models.LevelReadyForIndependence {
		t.Errorf("Level = %s, want %s", result.Level, models.LevelReadyForIndependence)
	}
}

func TestComputeRiskPenaltyClampsAtZero(t *testing.T) {
	e := testEngine()

	in := Input{
		Age:           10,
		HasAssessment: true,
		Scores:        models.SubScores{DigitalCitizenship: 40, ResponsibleBehavior: 40, ParentTrust: 40, EducationalEngagement: 40, SocialInteraction: 40, ContentQuality: 40},
		ParentRating:  40,
		// Enough unresolved risk to drive the raw total far below zero.
		UnresolvedRisk: 50,
	}
	result := e.Compute(in)

	if result.TotalScore != 0 {
		t.Errorf("TotalScore = %d, want 0 (clamped)", result.TotalScore)
	}
	if result.Level != models.LevelLocked {
		t.Errorf("Level = %s, want %s", result.Level, models.LevelLocked)
	}
}

func TestComputePenaltyLowersScore(t *testing.T) {
	e := testEngine()

	base := Input{
		Age:           16,
		HasAssessment: true,
		Scores:        models.SubScores{DigitalCitizenship: 90, ResponsibleBehavior: 90, ParentTrust: 90, EducationalEngagement: 90, SocialInteraction: 90, ContentQuality: 90},
		ParentRating:  90,
	}
	clean := e.Compute(base)

	base.UnresolvedRisk = 2
	risky := e.Compute(base)

	if risky.TotalScore >= clean.TotalScore {
		t.Errorf("penalized score %d should be below clean score %d", risky.TotalScore, clean.TotalScore)
	}
}

func TestLevelBounds(t *testing.T) {
	e := testEngine()

	tests := []struct {
		total int
		want  models.MaturityLevel
	}{
		{0, models.LevelLocked},
		{39, models.LevelLocked},
		{40, models.LevelDeveloping},
		{64, models.LevelDeveloping},
		{65, models.LevelTrusted},
		{79, models.LevelTrusted},
		{80, models.LevelReadyForIndependence},
		{100, models.LevelReadyForIndependence},
	}
	for _, tt := range tests {
		if got := e.levelFor(tt.total); got != tt.want {
			t.Errorf("levelFor(%d) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestHysteresisDelaysDemotionOneCycle(t *testing.T) {
	e := testEngine()

	prev := &models.MaturityScore{Level: models.LevelTrusted}

	// First cycle observing the drop: level holds, demotion pending.
	level, pending := e.applyHysteresis(models.LevelDeveloping, prev)
	if level != models.LevelTrusted {
		t.Errorf("first cycle level = %s, want %s (held)", level, models.LevelTrusted)
	}
	if pending == nil || *pending != models.LevelDeveloping {
		t.Errorf("first cycle pending = %v, want developing", pending)
	}

	// Second consecutive cycle: the demotion takes effect.
	prev.PendingDemotion = pending
	level, pending = e.applyHysteresis(models.LevelDeveloping, prev)
	if level != models.LevelDeveloping {
		t.Errorf("second cycle level = %s, want %s", level, models.LevelDeveloping)
	}
	if pending != nil {
		t.Errorf("second cycle pending = %v, want nil", pending)
	}
}

func TestHysteresisRecoveryClearsPending(t *testing.T) {
	e := testEngine()

	pendingLevel := models.LevelDeveloping
	prev := &models.MaturityScore{Level: models.LevelTrusted, PendingDemotion: &pendingLevel}

	// Score recovered before the second cycle: no demotion, pending cleared.
	level, pending := e.applyHysteresis(models.LevelTrusted, prev)
	if level != models.LevelTrusted {
		t.Errorf("level = %s, want %s", level, models.LevelTrusted)
	}
	if pending != nil {
		t.Errorf("pending = %v, want nil after recovery", pending)
	}
}

func TestHysteresisPromotionIsImmediate(t *testing.T) {
	e := testEngine()

	prev := &models.MaturityScore{Level: models.LevelDeveloping}
	level, pending := e.applyHysteresis(models.LevelTrusted, prev)
	if level != models.LevelTrusted {
		t.Errorf("level = %s, want %s (promotion applies immediately)", level, models.LevelTrusted)
	}
	if pending != nil {
		t.Errorf("pending = %v, want nil", pending)
	}
}

func TestAgeScore(t *testing.T) {
	tests := []struct {
		age  int
		want int
	}{
		{0, 0},
		{-3, 0},
		{9, 50},
		{18, 100},
		{25, 100},
	}
	for _, tt := range tests {
		if got := ageScore(tt.age); got != tt.want {
			t.Errorf("ageScore(%d) = %d, want %d", tt.age, got, tt.want)
		}
	}
}

func TestOverallMaturity(t *testing.T) {
	s := models.SubScores{
		DigitalCitizenship:    60,
		ResponsibleBehavior:   60,
		ParentTrust:           60,
		EducationalEngagement: 60,
		SocialInteraction:     60,
		ContentQuality:        60,
	}
	if got := OverallMaturity(s); got != 60 {
		t.Errorf("OverallMaturity = %d, want 60", got)
	}
}

type fakeAccountStore struct {
	accounts map[string]*models.KidAccount
}

func (f *fakeAccountStore) GetByID(id string) (*models.KidAccount, error) {
	return f.accounts[id], nil
}

type fakeScoreStore struct {
	scores      map[string]*models.MaturityScore
	assessments map[string]*models.BehaviorAssessment
}

func (f *fakeScoreStore) GetScore(kidAccountID string) (*models.MaturityScore, error) {
	return f.scores[kidAccountID], nil
}

func (f *fakeScoreStore) UpsertScore(s *models.MaturityScore) error {
	copied := *s
	f.scores[s.KidAccountID] = &copied
	return nil
}

func (f *fakeScoreStore) CreateAssessment(a *models.BehaviorAssessment) error {
	copied := *a
	f.assessments[a.KidAccountID] = &copied
	return nil
}

func (f *fakeScoreStore) LatestAssessment(kidAccountID string) (*models.BehaviorAssessment, error) {
	return f.assessments[kidAccountID], nil
}

func (f *fakeScoreStore) ListDueAssessments(now time.Time) ([]string, error) {
	var due []string
	for id, a := range f.assessments {
		if !a.NextAssessmentDue.After(now) {
			due = append(due, id)
		}
	}
	return due, nil
}

type fakeEventStore struct {
	unresolved []models.SafetyEvent
	created    []*models.SafetyEvent
}

func (f *fakeEventStore) ListUnresolvedByKid(kidAccountID string, minSeverity models.Severity) ([]models.SafetyEvent, error) {
	var out []models.SafetyEvent
	for _, e := range f.unresolved {
		if e.KidAccountID == kidAccountID && e.Severity.AtLeast(minSeverity) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) Create(e *models.SafetyEvent) error {
	f.created = append(f.created, e)
	return nil
}

func TestRecomputePersistsScoreAndLevelChangeEvent(t *testing.T) {
	accounts := &fakeAccountStore{accounts: map[string]*models.KidAccount{
		"kid-1": {ID: "kid-1", Age: 15, Active: true, Supervision: models.KidSupervised{ParentID: "parent-1"}},
	}}
	scores := &fakeScoreStore{
		scores:      map[string]*models.MaturityScore{},
		assessments: map[string]*models.BehaviorAssessment{},
	}
	events := &fakeEventStore{}

	e := NewEngine(DefaultConfig(), accounts, scores, events, clock.Fixed{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})

	if _, err := e.RecordAssessment("kid-1", models.SubScores{
		DigitalCitizenship:    90,
		ResponsibleBehavior:   90,
		ParentTrust:           90,
		EducationalEngagement: 90,
		SocialInteraction:     90,
		ContentQuality:        90,
	}, 0); err != nil {
		t.Fatalf("RecordAssessment failed: %v", err)
	}

	score := scores.scores["kid-1"]
	if score == nil {
		t.Fatal("no score persisted")
	}
	if score.Level == models.LevelLocked {
		t.Errorf("Level = %s, expected a promotion above locked", score.Level)
	}
	if score.LevelChangedAt == nil {
		t.Error("LevelChangedAt not set on level change")
	}

	found := false
	for _, ev := range events.created {
		if ev.EventType == models.EventLevelChanged {
			found = true
		}
	}
	if !found {
		t.Error("no level_changed event recorded")
	}
}

func TestRecomputeFailsClosedWithoutAssessment(t *testing.T) {
	accounts := &fakeAccountStore{accounts: map[string]*models.KidAccount{
		"kid-1": {ID: "kid-1", Age: 15, Active: true, Supervision: models.KidSupervised{ParentID: "parent-1"}},
	}}
	scores := &fakeScoreStore{
		scores:      map[string]*models.MaturityScore{},
		assessments: map[string]*models.BehaviorAssessment{},
	}
	events := &fakeEventStore{}

	e := NewEngine(DefaultConfig(), accounts, scores, events, clock.Fixed{T: time.Now()})

	score, err := e.Recompute("kid-1")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if score.TotalScore != 0 || score.Level != models.LevelLocked {
		t.Errorf("got total=%d level=%s, want 0/locked without assessment", score.TotalScore, score.Level)
	}
}

func TestRecomputeDueOnlyTouchesOverdueAccounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccountStore{accounts: map[string]*models.KidAccount{
		"kid-overdue": {ID: "kid-overdue", Age: 15, Active: true, Supervision: models.KidSupervised{ParentID: "parent-1"}},
		"kid-fresh":   {ID: "kid-fresh", Age: 15, Active: true, Supervision: models.KidSupervised{ParentID: "parent-1"}},
	}}
	scores := &fakeScoreStore{
		scores: map[string]*models.MaturityScore{},
		assessments: map[string]*models.BehaviorAssessment{
			"kid-overdue": {KidAccountID: "kid-overdue", NextAssessmentDue: now.Add(-time.Hour)},
			"kid-fresh":   {KidAccountID: "kid-fresh", NextAssessmentDue: now.Add(24 * time.Hour)},
		},
	}
	events := &fakeEventStore{}

	e := NewEngine(DefaultConfig(), accounts, scores, events, clock.Fixed{T: now})

	n, err := e.RecomputeDue()
	if err != nil {
		t.Fatalf("RecomputeDue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recomputed %d accounts, want 1", n)
	}
	if scores.scores["kid-overdue"] == nil {
		t.Error("overdue account not recomputed")
	}
	if scores.scores["kid-fresh"] != nil {
		t.Error("fresh account recomputed ahead of schedule")
	}
}

func TestSetParentRatingValidatesRange(t *testing.T) {
	e := testEngine()

	if err := e.SetParentRating("kid-1", 101); err == nil {
		t.Error("expected validation error for rating 101")
	}
	if err := e.SetParentRating("kid-1", -1); err == nil {
		t.Error("expected validation error for rating -1")
	}
}
