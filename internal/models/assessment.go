package models

import "time"

// SubScores are the six behavioral dimensions evaluated per assessment,
// each on a 0-100 scale.
type SubScores struct {
	DigitalCitizenship    int
	ResponsibleBehavior   int
	ParentTrust           int
	EducationalEngagement int
	SocialInteraction     int
	ContentQuality        int
}

// BehaviorAssessment is a periodic evaluation of a kid account.
// Rows are immutable once created.
type BehaviorAssessment struct {
	ID                    string
	KidAccountID          string
	Scores                SubScores
	OverallMaturityScore  int
	SafetyRisk            float64
	IndependenceReadiness bool
	NextAssessmentDue     time.Time
	CreatedAt             time.Time
}
