package models

import "time"

// MaturityLevel is the discrete trust level derived from the total score.
type MaturityLevel string

const (
	LevelLocked               MaturityLevel = "locked"
	LevelDeveloping           MaturityLevel = "developing"
	LevelTrusted              MaturityLevel = "trusted"
	LevelReadyForIndependence MaturityLevel = "ready_for_independence"
)

var levelRank = map[MaturityLevel]int{
	LevelLocked:               0,
	LevelDeveloping:           1,
	LevelTrusted:              2,
	LevelReadyForIndependence: 3,
}

// Rank returns the ordering of a level; unknown levels rank as locked.
func (l MaturityLevel) Rank() int {
	return levelRank[l]
}

// MaturityScore is the current scoring snapshot for a kid account.
// One live row per account, upserted on every recomputation.
type MaturityScore struct {
	KidAccountID     string
	AgeScore         int
	ParentAssessment int
	ParentRating     int
	BehavioralScore  int
	TotalScore       int
	Level            MaturityLevel
	PreviousLevel    MaturityLevel
	LevelChangedAt   *time.Time
	// PendingDemotion records the first cycle a demotion was observed.
	// Demotion only takes effect if the drop persists into the next cycle.
	PendingDemotion *MaturityLevel
	Scores          SubScores
	UpdatedAt       time.Time
}
