package repository

import (
	"database/sql"
	"fmt"
	"time"

	"fledge/internal/database"
	"fledge/internal/models"
)

// ScoreRepository handles maturity scores and behavior assessments
type ScoreRepository struct {
	db database.DBTX
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(db database.DBTX) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// UpsertScore writes the single live maturity-score row for a kid account.
// Delete-then-insert keeps the upsert portable across all three dialects,
// and runs inside a transaction so two concurrent recomputes cannot both
// pass the delete and collide on the insert.
func (r *ScoreRepository) UpsertScore(s *models.MaturityScore) error {
	beginner, ok := r.db.(interface{ Begin() (*database.Tx, error) })
	if !ok {
		// Already running inside a caller's transaction.
		return upsertScore(r.db, s)
	}

	tx, err := beginner.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin score upsert: %w", err)
	}
	if err := upsertScore(tx, s); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score upsert: %w", err)
	}
	return nil
}

func upsertScore(db database.DBTX, s *models.MaturityScore) error {
	if _, err := db.Exec(`DELETE FROM maturity_scores WHERE kid_account_id = ?`, s.KidAccountID); err != nil {
		return fmt.Errorf("failed to clear maturity score: %w", err)
	}

	var pendingDemotion interface{}
	if s.PendingDemotion != nil {
		pendingDemotion = string(*s.PendingDemotion)
	}

	query := `INSERT INTO maturity_scores (kid_account_id, age_score, parent_assessment,
		parent_rating, behavioral_score, total_score, level, previous_level,
		level_changed_at, pending_demotion, digital_citizenship, responsible_behavior,
		parent_trust, educational_engagement, social_interaction, content_quality,
		updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query,
		s.KidAccountID, s.AgeScore, s.ParentAssessment, s.ParentRating,
		s.BehavioralScore, s.TotalScore, string(s.Level), string(s.PreviousLevel),
		s.LevelChangedAt, pendingDemotion,
		s.Scores.DigitalCitizenship, s.Scores.ResponsibleBehavior, s.Scores.ParentTrust,
		s.Scores.EducationalEngagement, s.Scores.SocialInteraction, s.Scores.ContentQuality,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert maturity score: %w", err)
	}
	return nil
}

// GetScore retrieves the current maturity score for a kid account. Returns nil if none.
func (r *ScoreRepository) GetScore(kidAccountID string) (*models.MaturityScore, error) {
	query := `SELECT kid_account_id, age_score, parent_assessment, parent_rating,
		behavioral_score, total_score, level, previous_level, level_changed_at,
		pending_demotion, digital_citizenship, responsible_behavior, parent_trust,
		educational_engagement, social_interaction, content_quality, updated_at
		FROM maturity_scores WHERE kid_account_id = ?`

	var s models.MaturityScore
	var level, previousLevel string
	var pendingDemotion sql.NullString
	err := r.db.QueryRow(query, kidAccountID).Scan(
		&s.KidAccountID, &s.AgeScore, &s.ParentAssessment, &s.ParentRating,
		&s.BehavioralScore, &s.TotalScore, &level, &previousLevel, &s.LevelChangedAt,
		&pendingDemotion,
		&s.Scores.DigitalCitizenship, &s.Scores.ResponsibleBehavior, &s.Scores.ParentTrust,
		&s.Scores.EducationalEngagement, &s.Scores.SocialInteraction, &s.Scores.ContentQuality,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get maturity score: %w", err)
	}
	s.Level = models.MaturityLevel(level)
	s.PreviousLevel = models.MaturityLevel(previousLevel)
	if pendingDemotion.Valid {
		l := models.MaturityLevel(pendingDemotion.String)
		s.PendingDemotion = &l
	}
	return &s, nil
}

// CreateAssessment persists an immutable behavior assessment row
func (r *ScoreRepository) CreateAssessment(a *models.BehaviorAssessment) error {
	query := `INSERT INTO behavior_assessments (id, kid_account_id, digital_citizenship,
		responsible_behavior, parent_trust, educational_engagement, social_interaction,
		content_quality, overall_maturity_score, safety_risk, independence_readiness,
		next_assessment_due, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		a.ID, a.KidAccountID,
		a.Scores.DigitalCitizenship, a.Scores.ResponsibleBehavior, a.Scores.ParentTrust,
		a.Scores.EducationalEngagement, a.Scores.SocialInteraction, a.Scores.ContentQuality,
		a.OverallMaturityScore, a.SafetyRisk, a.IndependenceReadiness,
		a.NextAssessmentDue, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create behavior assessment: %w", err)
	}
	return nil
}

// LatestAssessment retrieves the most recent assessment for a kid account. Returns nil if none.
func (r *ScoreRepository) LatestAssessment(kidAccountID string) (*models.BehaviorAssessment, error) {
	query := `SELECT id, kid_account_id, digital_citizenship, responsible_behavior,
		parent_trust, educational_engagement, social_interaction, content_quality,
		overall_maturity_score, safety_risk, independence_readiness, next_assessment_due,
		created_at
		FROM behavior_assessments WHERE kid_account_id = ?
		ORDER BY created_at DESC LIMIT 1`

	var a models.BehaviorAssessment
	err := r.db.QueryRow(query, kidAccountID).Scan(
		&a.ID, &a.KidAccountID,
		&a.Scores.DigitalCitizenship, &a.Scores.ResponsibleBehavior, &a.Scores.ParentTrust,
		&a.Scores.EducationalEngagement, &a.Scores.SocialInteraction, &a.Scores.ContentQuality,
		&a.OverallMaturityScore, &a.SafetyRisk, &a.IndependenceReadiness,
		&a.NextAssessmentDue, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get behavior assessment: %w", err)
	}
	return &a, nil
}

// ListDueAssessments returns kid account ids whose latest assessment is overdue
func (r *ScoreRepository) ListDueAssessments(now time.Time) ([]string, error) {
	query := `SELECT kid_account_id FROM behavior_assessments
		GROUP BY kid_account_id HAVING MAX(next_assessment_due) <= ?`
	rows, err := r.db.Query(query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due assessments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due assessment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
