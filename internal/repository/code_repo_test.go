package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fledge/internal/database"
	"fledge/internal/models"
)

func mockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: db, Dialect: database.NewSQLiteDialect()}, mock
}

func TestCodeRepositoryCreate(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewCodeRepository(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &models.KidLoginCode{
		ID:           "code-1",
		KidAccountID: "kid-1",
		Code:         "ABCD-EFGH",
		QRToken:      "token",
		ExpiresAt:    now.Add(15 * time.Minute),
		DeviceInfo:   "tablet",
		CreatedAt:    now,
	}

	mock.ExpectExec("INSERT INTO kid_login_codes").
		WithArgs(c.ID, c.KidAccountID, c.Code, c.QRToken, c.ExpiresAt, false, nil,
			false, nil, c.DeviceInfo, 0, c.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCodeRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM kid_login_codes WHERE id").
		WithArgs("code-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, err := repo.GetByID("code-missing")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if c != nil {
		t.Errorf("GetByID = %+v, want nil for a missing code", c)
	}
}

func TestCodeRepositoryGetByValue(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewCodeRepository(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "kid_account_id", "code", "qr_token", "expires_at", "is_used", "used_at",
		"revoked", "revoked_at", "device_info", "failed_attempts", "created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM kid_login_codes WHERE code").
		WithArgs("ABCD-EFGH").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("code-1", "kid-1", "ABCD-EFGH", "token", now.Add(15*time.Minute),
				false, nil, false, nil, "tablet", 0, now))

	c, err := repo.GetByValue("ABCD-EFGH")
	if err != nil {
		t.Fatalf("GetByValue failed: %v", err)
	}
	if c == nil || c.ID != "code-1" || c.KidAccountID != "kid-1" {
		t.Errorf("GetByValue = %+v, want code-1 for kid-1", c)
	}
}

func TestCodeRepositoryRedeem(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewCodeRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("one row updated redeems", func(t *testing.T) {
		mock.ExpectExec("UPDATE kid_login_codes").
			WithArgs(true, now, "kid-1", "ABCD-EFGH", false, false, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Redeem("kid-1", "ABCD-EFGH", now)
		if err != nil {
			t.Fatalf("Redeem failed: %v", err)
		}
		if !ok {
			t.Error("Redeem = false, want true when a row matched")
		}
	})

	t.Run("no rows updated rejects", func(t *testing.T) {
		mock.ExpectExec("UPDATE kid_login_codes").
			WithArgs(true, now, "kid-1", "ABCD-EFGH", false, false, now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Redeem("kid-1", "ABCD-EFGH", now)
		if err != nil {
			t.Fatalf("Redeem failed: %v", err)
		}
		if ok {
			t.Error("Redeem = true, want false when no live row matched")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCodeRepositoryIncrementFailedAttempts(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewCodeRepository(db)

	mock.ExpectExec("UPDATE kid_login_codes SET failed_attempts").
		WithArgs("kid-1", false, false).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT MAX\(failed_attempts\) FROM kid_login_codes`).
		WithArgs("kid-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))

	n, err := repo.IncrementFailedAttempts("kid-1")
	if err != nil {
		t.Fatalf("IncrementFailedAttempts failed: %v", err)
	}
	if n != 3 {
		t.Errorf("IncrementFailedAttempts = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
