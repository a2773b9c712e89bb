package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fledge/internal/models"
)

func TestRuleRepositoryListActive(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewRuleRepository(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "rule_type", "pattern", "action", "severity", "min_age", "max_age",
		"applicable_contexts", "confidence_threshold", "requires_human_review",
		"priority", "active", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM content_safety_rules").
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r-2", "keyword", "danger", "block", "high", 0, 17,
				`["chat","profile"]`, 0.8, false, 20, true, now, now).
			AddRow("r-1", "keyword", "spam", "flag", "low", 0, 17,
				`["chat"]`, 0.5, false, 10, true, now, now))

	rules, err := repo.ListActive()
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("listed %d rules, want 2", len(rules))
	}
	if rules[0].ID != "r-2" || rules[1].ID != "r-1" {
		t.Errorf("rules out of priority order: %s, %s", rules[0].ID, rules[1].ID)
	}
	if rules[0].Action != models.ActionBlock || rules[0].Severity != models.SeverityHigh {
		t.Errorf("typed columns not decoded: action=%s severity=%s", rules[0].Action, rules[0].Severity)
	}
	if len(rules[0].ApplicableContexts) != 2 || rules[0].ApplicableContexts[0] != "chat" {
		t.Errorf("contexts not decoded: %v", rules[0].ApplicableContexts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRuleRepositoryDeactivate(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewRuleRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE content_safety_rules SET active").
		WithArgs(false, now, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Deactivate("r-1", now); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
