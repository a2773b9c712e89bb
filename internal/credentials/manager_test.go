package credentials

import (
	"testing"
	"time"

	"fledge/internal/clock"
	"fledge/internal/faults"
	"fledge/internal/models"
)

type stubCodes struct {
	codes map[string]*models.KidLoginCode
}

func newStubCodes() *stubCodes {
	return &stubCodes{codes: map[string]*models.KidLoginCode{}}
}

func (s *stubCodes) Create(c *models.KidLoginCode) error {
	copied := *c
	s.codes[c.ID] = &copied
	return nil
}

func (s *stubCodes) GetByID(id string) (*models.KidLoginCode, error) {
	c, ok := s.codes[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *stubCodes) Redeem(kidAccountID, code string, now time.Time) (bool, error) {
	for _, c := range s.codes {
		if c.KidAccountID == kidAccountID && c.Code == code && c.Redeemable(now) {
			c.IsUsed = true
			c.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (s *stubCodes) Revoke(id string, now time.Time) error {
	c := s.codes[id]
	c.Revoked = true
	c.RevokedAt = &now
	return nil
}

func (s *stubCodes) IncrementFailedAttempts(kidAccountID string) (int, error) {
	max := 0
	for _, c := range s.codes {
		if c.KidAccountID == kidAccountID && !c.IsUsed && !c.Revoked {
			c.FailedAttempts++
		}
		if c.FailedAttempts > max {
			max = c.FailedAttempts
		}
	}
	return max, nil
}

type stubPasswords struct {
	settings map[string]*models.KidPasswordSettings
}

func newStubPasswords() *stubPasswords {
	return &stubPasswords{settings: map[string]*models.KidPasswordSettings{}}
}

func (s *stubPasswords) Create(p *models.KidPasswordSettings) error {
	copied := *p
	s.settings[p.KidAccountID] = &copied
	return nil
}

func (s *stubPasswords) Get(kidAccountID string) (*models.KidPasswordSettings, error) {
	p, ok := s.settings[kidAccountID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *stubPasswords) Update(p *models.KidPasswordSettings) error {
	copied := *p
	s.settings[p.KidAccountID] = &copied
	return nil
}

func (s *stubPasswords) UnlockSelfManaged(kidAccountID string, now time.Time) error {
	p := s.settings[kidAccountID]
	p.IndependenceDayReached = true
	p.CanChangePassword = true
	p.SetByParent = false
	p.UpdatedAt = now
	return nil
}

type stubAccounts struct {
	accounts map[string]*models.KidAccount
}

func (s *stubAccounts) GetByID(id string) (*models.KidAccount, error) {
	return s.accounts[id], nil
}

type fixture struct {
	manager   *Manager
	codes     *stubCodes
	passwords *stubPasswords
	clock     *clock.Manual
}

func newFixture() *fixture {
	codes := newStubCodes()
	passwords := newStubPasswords()
	accounts := &stubAccounts{accounts: map[string]*models.KidAccount{
		"kid-1": {ID: "kid-1", Age: 12, Active: true, Supervision: models.KidSupervised{ParentID: "parent-1"}},
		"kid-inactive": {ID: "kid-inactive", Age: 12, Active: false,
			Supervision: models.KidSupervised{ParentID: "parent-1"}},
	}}
	cfg := DefaultConfig()
	cfg.SigningSecret = []byte("test-signing-secret")
	clk := &clock.Manual{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		manager:   NewManager(cfg, codes, passwords, accounts, clk),
		codes:     codes,
		passwords: passwords,
		clock:     clk,
	}
}

func TestManualCodeEntryWithoutQRToken(t *testing.T) {
	f := newFixture()

	c, err := f.manager.IssuePairingCode("kid-1", "tablet")
	if err != nil {
		t.Fatalf("IssuePairingCode failed: %v", err)
	}

	// Typing the code by hand skips the QR scan; the code alone redeems,
	// and stays single-use.
	ok, err := f.manager.ValidatePairing("kid-1", c.Code, "")
	if err != nil {
		t.Fatalf("ValidatePairing failed: %v", err)
	}
	if !ok {
		t.Fatal("manual code entry rejected")
	}

	ok, err = f.manager.ValidatePairing("kid-1", c.Code, "")
	if err != nil {
		t.Fatalf("second ValidatePairing failed: %v", err)
	}
	if ok {
		t.Error("redeemed code accepted a second time")
	}
}

func TestIssueAndValidatePairing(t *testing.T) {
	f := newFixture()

	c, err := f.manager.IssuePairingCode("kid-1", "tablet")
	if err != nil {
		t.Fatalf("IssuePairingCode failed: %v", err)
	}
	if c.Code == "" || c.QRToken == "" {
		t.Fatal("code or QR token missing")
	}

	ok, err := f.manager.ValidatePairing("kid-1", c.Code, c.QRToken)
	if err != nil {
		t.Fatalf("ValidatePairing failed: %v", err)
	}
	if !ok {
		t.Error("valid pairing rejected")
	}
}

func TestIssueRejectsDeactivatedAccount(t *testing.T) {
	f := newFixture()

	_, err := f.manager.IssuePairingCode("kid-inactive", "tablet")
	if !faults.IsConflict(err) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestPairingCodeIsSingleUse(t *testing.T) {
	f := newFixture()
	c, _ := f.manager.IssuePairingCode("kid-1", "tablet")

	ok, err := f.manager.ValidatePairing("kid-1", c.Code, c.QRToken)
	if err != nil || !ok {
		t.Fatalf("first redemption failed: ok=%v err=%v", ok, err)
	}

	ok, err = f.manager.ValidatePairing("kid-1", c.Code, c.QRToken)
	if err != nil {
		t.Fatalf("second redemption errored: %v", err)
	}
	if ok {
		t.Error("code redeemed twice")
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	f := newFixture()
	c, _ := f.manager.IssuePairingCode("kid-1", "tablet")

	f.clock.Advance(16 * time.Minute)

	ok, err := f.manager.ValidatePairing("kid-1", c.Code, "")
	if err != nil {
		t.Fatalf("ValidatePairing errored: %v", err)
	}
	if ok {
		t.Error("expired code redeemed")
	}
}

func TestRevokedCodeRejected(t *testing.T) {
	f := newFixture()
	c, _ := f.manager.IssuePairingCode("kid-1", "tablet")

	if err := f.manager.RevokeCode(c.ID); err != nil {
		t.Fatalf("RevokeCode failed: %v", err)
	}

	ok, err := f.manager.ValidatePairing("kid-1", c.Code, "")
	if err != nil {
		t.Fatalf("ValidatePairing errored: %v", err)
	}
	if ok {
		t.Error("revoked code redeemed")
	}
}

func TestTamperedQRTokenRejected(t *testing.T) {
	f := newFixture()
	c, _ := f.manager.IssuePairingCode("kid-1", "tablet")

	ok, err := f.manager.ValidatePairing("kid-1", c.Code, c.QRToken+"x")
	if err != nil {
		t.Fatalf("ValidatePairing errored: %v", err)
	}
	if ok {
		t.Error("tampered QR token accepted")
	}
}

func TestRepeatedFailuresLockTheAccount(t *testing.T) {
	f := newFixture()
	if _, err := f.manager.IssuePairingCode("kid-1", "tablet"); err != nil {
		t.Fatalf("IssuePairingCode failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		ok, err := f.manager.ValidatePairing("kid-1", "WRNG-CODE", "")
		if err != nil {
			t.Fatalf("attempt %d errored: %v", i, err)
		}
		if ok {
			t.Fatalf("attempt %d with a wrong code succeeded", i)
		}
	}

	// Threshold reached; further attempts fail with an authorization error
	// even with the right code.
	_, err := f.manager.ValidatePairing("kid-1", "WRNG-CODE", "")
	if !faults.IsAuthorization(err) {
		t.Errorf("err = %v, want authorization error after lockout", err)
	}

	// The lockout window passes and pairing works again.
	f.clock.Advance(31 * time.Minute)
	c, err := f.manager.IssuePairingCode("kid-1", "tablet")
	if err != nil {
		t.Fatalf("IssuePairingCode after lockout failed: %v", err)
	}
	ok, err := f.manager.ValidatePairing("kid-1", c.Code, c.QRToken)
	if err != nil || !ok {
		t.Errorf("pairing after lockout window: ok=%v err=%v", ok, err)
	}
}

func TestParentPasswordLifecycle(t *testing.T) {
	f := newFixture()
	if err := f.manager.InitializeSettings("kid-1"); err != nil {
		t.Fatalf("InitializeSettings failed: %v", err)
	}

	if err := f.manager.SetParentPassword("kid-1", "correct-horse"); err != nil {
		t.Fatalf("SetParentPassword failed: %v", err)
	}

	ok, err := f.manager.VerifyPassword("kid-1", "correct-horse")
	if err != nil || !ok {
		t.Errorf("VerifyPassword: ok=%v err=%v, want true", ok, err)
	}
	ok, err = f.manager.VerifyPassword("kid-1", "wrong-horse")
	if err != nil {
		t.Fatalf("VerifyPassword errored: %v", err)
	}
	if ok {
		t.Error("wrong password verified")
	}
}

func TestShortPasswordRejected(t *testing.T) {
	f := newFixture()
	if err := f.manager.InitializeSettings("kid-1"); err != nil {
		t.Fatalf("InitializeSettings failed: %v", err)
	}

	err := f.manager.SetParentPassword("kid-1", "short")
	if !faults.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestIndependentPasswordGatedUntilUnlock(t *testing.T) {
	f := newFixture()
	if err := f.manager.InitializeSettings("kid-1"); err != nil {
		t.Fatalf("InitializeSettings failed: %v", err)
	}

	err := f.manager.SetIndependentPassword("kid-1", "my-own-password")
	if !faults.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error before independence", err)
	}

	if err := f.manager.UnlockIndependentPassword("kid-1"); err != nil {
		t.Fatalf("UnlockIndependentPassword failed: %v", err)
	}

	if err := f.manager.SetIndependentPassword("kid-1", "my-own-password"); err != nil {
		t.Fatalf("SetIndependentPassword after unlock failed: %v", err)
	}

	settings := f.passwords.settings["kid-1"]
	if settings.SetByParent {
		t.Error("SetByParent = true after the kid set their own password")
	}
}

func TestRevokePasswordClearsIt(t *testing.T) {
	f := newFixture()
	if err := f.manager.InitializeSettings("kid-1"); err != nil {
		t.Fatalf("InitializeSettings failed: %v", err)
	}
	if err := f.manager.SetParentPassword("kid-1", "correct-horse"); err != nil {
		t.Fatalf("SetParentPassword failed: %v", err)
	}

	if err := f.manager.RevokePassword("kid-1", "safety violation"); err != nil {
		t.Fatalf("RevokePassword failed: %v", err)
	}

	settings := f.passwords.settings["kid-1"]
	if settings.HasPassword {
		t.Error("HasPassword = true after revocation")
	}
	if !settings.Revoked || settings.RevokedReason != "safety violation" {
		t.Errorf("revocation not recorded: %+v", settings)
	}

	ok, err := f.manager.VerifyPassword("kid-1", "correct-horse")
	if err != nil {
		t.Fatalf("VerifyPassword errored: %v", err)
	}
	if ok {
		t.Error("revoked password verified")
	}
}

func TestParentCanRotateAfterRevocation(t *testing.T) {
	f := newFixture()
	if err := f.manager.InitializeSettings("kid-1"); err != nil {
		t.Fatalf("InitializeSettings failed: %v", err)
	}
	if err := f.manager.SetParentPassword("kid-1", "first-password"); err != nil {
		t.Fatalf("SetParentPassword failed: %v", err)
	}
	if err := f.manager.RevokePassword("kid-1", "incident"); err != nil {
		t.Fatalf("RevokePassword failed: %v", err)
	}

	if err := f.manager.SetParentPassword("kid-1", "fresh-password"); err != nil {
		t.Fatalf("SetParentPassword after revocation failed: %v", err)
	}

	settings := f.passwords.settings["kid-1"]
	if settings.Revoked {
		t.Error("Revoked flag not cleared on rotation")
	}
	if settings.ChangeCount != 2 {
		t.Errorf("ChangeCount = %d, want 2", settings.ChangeCount)
	}
}
