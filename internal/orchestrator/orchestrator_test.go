package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/anomaly"
	"github.com/aegis-security/aegis/internal/audit"
	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/kvstore"
	"github.com/aegis-security/aegis/internal/ledger"
	"github.com/aegis-security/aegis/internal/session"
)

// fakeVerifier resolves login identities to distinct backend IDs, the way
// a real backend does (email in, opaque ID out).
type fakeVerifier struct {
	secrets map[string]string
	ids     map[string]string
}

func (v *fakeVerifier) Verify(ctx context.Context, identity, secret string) (core.VerifiedUser, error) {
	if want, ok := v.secrets[identity]; ok && want == secret {
		return core.VerifiedUser{UserID: v.ids[identity], Role: "buyer"}, nil
	}
	return core.VerifiedUser{}, core.ErrInvalidCredentials
}

type chanDispatcher struct {
	alerts chan core.Alert
}

func (d *chanDispatcher) Notify(a core.Alert) error {
	d.alerts <- a
	return nil
}

type harness struct {
	orch     *Orchestrator
	clk      *clock.Fake
	crypto   *cryptostore.Store
	audit    *audit.Log
	detector *anomaly.Detector
	alerts   chan core.Alert
	context  context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	crypto, err := cryptostore.New(bytes.Repeat([]byte{0x2a}, 32), kvstore.NewMemory(), zerolog.Nop())
	if err != nil {
		t.Fatalf("creating crypto store: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	verifier := &fakeVerifier{
		secrets: map[string]string{"user-1": "hunter2"},
		ids:     map[string]string{"user-1": "uid-1"},
	}
	dispatcher := &chanDispatcher{alerts: make(chan core.Alert, 16)}
	auditLog := audit.New(crypto, clk, zerolog.Nop())
	detector := anomaly.New(crypto, clk, zerolog.Nop())

	orch := New(Deps{
		Ledger:   ledger.New(crypto, clk, zerolog.Nop()),
		Sessions: session.NewManager(crypto, verifier, clk, zerolog.Nop()),
		Detector: detector,
		Audit:    auditLog,
		Crypto:   crypto,
		Verifier: verifier,
		Alerts:   dispatcher,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})
	return &harness{
		orch:     orch,
		clk:      clk,
		crypto:   crypto,
		audit:    auditLog,
		detector: detector,
		alerts:   dispatcher.alerts,
		context:  context.Background(),
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if _, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-1", "10.0.0.1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func (h *harness) lastAuditAction(t *testing.T) string {
	t.Helper()
	entries := h.audit.Query("", 1)
	if len(entries) == 0 {
		t.Fatal("audit log is empty")
	}
	return entries[0].Action
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-1", "10.0.0.1")
	if err != nil {
		t.Fatalf("SecureLogin: %v", err)
	}
	if result.User.UserID != "uid-1" {
		t.Errorf("user = %q, want uid-1", result.User.UserID)
	}
	if !h.orch.ValidateSecureSession() {
		t.Error("no live session after login")
	}
	if got := h.lastAuditAction(t); got != core.ActionLoginSuccess {
		t.Errorf("last audit action = %q, want %q", got, core.ActionLoginSuccess)
	}
}

func TestLoginWrongSecret(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.SecureLogin(h.context, "user-1", "wrong", "device-1", "")
	if !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if h.orch.ValidateSecureSession() {
		t.Error("session exists after failed login")
	}
	if got := h.lastAuditAction(t); got != core.ActionLoginFailed {
		t.Errorf("last audit action = %q, want %q", got, core.ActionLoginFailed)
	}
}

func TestLoginLockout(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < core.LockoutThreshold; i++ {
		if _, err := h.orch.SecureLogin(h.context, "user-1", "wrong", "device-1", ""); !errors.Is(err, core.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// Even the right secret is rejected while locked.
	_, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-1", "")
	var lockErr *core.LockoutError
	if !errors.As(err, &lockErr) {
		t.Fatalf("err = %v, want LockoutError", err)
	}
	if lockErr.MinutesRemaining != 15 {
		t.Errorf("MinutesRemaining = %d, want 15", lockErr.MinutesRemaining)
	}
	if got := h.lastAuditAction(t); got != core.ActionLoginBlocked {
		t.Errorf("last audit action = %q, want %q", got, core.ActionLoginBlocked)
	}

	// The window decays and login works again.
	h.clk.Advance(core.LockoutWindow + time.Second)
	if _, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-1", ""); err != nil {
		t.Errorf("login still rejected after lockout decayed: %v", err)
	}
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < core.LockoutThreshold-1; i++ {
		h.orch.SecureLogin(h.context, "user-1", "wrong", "device-1", "")
	}
	h.login(t)

	// A fresh run of failures starts from zero.
	for i := 0; i < core.LockoutThreshold-1; i++ {
		if _, err := h.orch.SecureLogin(h.context, "user-1", "wrong", "device-1", ""); !errors.Is(err, core.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
	}
	if _, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-1", ""); err != nil {
		t.Errorf("locked out although the counter should have reset: %v", err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.clk.Advance(20 * time.Minute)
	h.orch.SecureLogout("uid-1", "device-1")

	if h.orch.ValidateSecureSession() {
		t.Error("session live after logout")
	}
	if got := h.lastAuditAction(t); got != core.ActionLogout {
		t.Errorf("last audit action = %q, want %q", got, core.ActionLogout)
	}
}

func TestSensitiveActionRequiresStepUp(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	err := h.orch.PerformSensitiveAction(h.context, "update_payout", "bank_account", "")
	if !errors.Is(err, core.ErrStepUpRequired) {
		t.Fatalf("err = %v, want ErrStepUpRequired", err)
	}
	if got := h.lastAuditAction(t); got != core.ActionSensitiveActionBlocked {
		t.Errorf("last audit action = %q, want %q", got, core.ActionSensitiveActionBlocked)
	}
}

func TestSensitiveActionWithProof(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	if err := h.orch.PerformSensitiveAction(h.context, "update_payout", "bank_account", "hunter2"); err != nil {
		t.Fatalf("PerformSensitiveAction with proof: %v", err)
	}

	// The window stays open; no proof needed for the next action.
	h.clk.Advance(core.StepUpWindow - time.Minute)
	if err := h.orch.PerformSensitiveAction(h.context, "view_tax_docs", "tax_records", ""); err != nil {
		t.Errorf("action inside the step-up window rejected: %v", err)
	}

	// Past the window the gate closes again.
	h.clk.Advance(core.StepUpWindow)
	err := h.orch.PerformSensitiveAction(h.context, "view_tax_docs", "tax_records", "")
	if !errors.Is(err, core.ErrStepUpRequired) {
		t.Errorf("err = %v, want ErrStepUpRequired after window closed", err)
	}
}

func TestSensitiveActionWithoutSession(t *testing.T) {
	h := newHarness(t)

	err := h.orch.PerformSensitiveAction(h.context, "update_payout", "bank_account", "hunter2")
	if !errors.Is(err, core.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSensitiveActionAfterIdleExpiry(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.clk.Advance(core.SessionIdleTimeout + time.Minute)
	err := h.orch.PerformSensitiveAction(h.context, "update_payout", "bank_account", "hunter2")
	if !errors.Is(err, core.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSensitiveActionWrongProof(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	err := h.orch.PerformSensitiveAction(h.context, "update_payout", "bank_account", "wrong")
	if !errors.Is(err, core.ErrStepUpRequired) {
		t.Fatalf("err = %v, want ErrStepUpRequired", err)
	}
}

func TestBaselineKeyedByLoginIdentity(t *testing.T) {
	h := newHarness(t)

	// Three logins from the usual device build a baseline under the login
	// identity, even though the backend resolves it to a different user ID.
	for i := 0; i < 3; i++ {
		h.login(t)
		h.clk.Advance(time.Hour)
	}
	if acts := h.orch.SuspiciousActivities("user-1", false); len(acts) != 0 {
		t.Fatalf("baseline-building logins flagged %d activities", len(acts))
	}
	if _, ok := h.detector.Pattern("user-1"); !ok {
		t.Fatal("no baseline stored under the login identity")
	}

	// A login from an unknown device must now trip the baseline check.
	if _, err := h.orch.SecureLogin(h.context, "user-1", "hunter2", "device-99", ""); err != nil {
		t.Fatalf("login from new device: %v", err)
	}
	found := false
	for _, act := range h.orch.SuspiciousActivities("user-1", false) {
		if act.ActivityType == core.ActivityUnusualDevice {
			found = true
		}
	}
	if !found {
		t.Fatal("unknown device not flagged against the baseline")
	}
}

func TestRapidRequestsRaiseAlert(t *testing.T) {
	h := newHarness(t)

	for i := 0; i <= core.RapidRequestThreshold; i++ {
		h.orch.MonitorRequest("user-1", "/api/listings", "device-1")
	}

	select {
	case a := <-h.alerts:
		if a.Data["user_id"] != "user-1" {
			t.Errorf("alert for %q, want user-1", a.Data["user_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert dispatched for a rapid-request burst")
	}
}

func TestDataAccessBurstAudited(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	if err := h.orch.PerformSensitiveAction(h.context, "view", "personal_data", "hunter2"); err != nil {
		t.Fatalf("opening step-up window: %v", err)
	}
	for i := 0; i < core.DataAccessThreshold+1; i++ {
		if err := h.orch.PerformSensitiveAction(h.context, "view", "personal_data", ""); err != nil {
			t.Fatalf("access %d rejected: %v", i+1, err)
		}
	}

	found := false
	for _, e := range h.audit.Query("", 0) {
		if e.Action == core.ActionSuspiciousActivity {
			found = true
			break
		}
	}
	if !found {
		t.Error("data-access burst not audited as suspicious activity")
	}
}

func TestEncryptDecryptSensitiveData(t *testing.T) {
	h := newHarness(t)

	obj := map[string]any{
		"phone":       "+1-555-0100",
		"address":     "1 Main St",
		"taxId":       "12-3456789",
		"bankAccount": "DE89370400440532013000",
		"displayName": "Alex",
		"rating":      4.8,
	}

	enc := h.orch.EncryptSensitiveData(obj)
	for _, field := range []string{"phone", "address", "taxId", "bankAccount"} {
		if enc[field] == obj[field] {
			t.Errorf("field %q not encrypted", field)
		}
	}
	if enc["displayName"] != "Alex" || enc["rating"] != 4.8 {
		t.Error("non-sensitive fields were touched")
	}
	// Input must not be mutated.
	if obj["phone"] != "+1-555-0100" {
		t.Error("EncryptSensitiveData mutated its input")
	}

	dec := h.orch.DecryptSensitiveData(enc)
	for k, v := range obj {
		if dec[k] != v {
			t.Errorf("field %q: got %v, want %v", k, dec[k], v)
		}
	}
}

func TestDecryptUnreadableFieldNulled(t *testing.T) {
	h := newHarness(t)

	dec := h.orch.DecryptSensitiveData(map[string]any{
		"phone":       "not a valid blob",
		"displayName": "Alex",
	})
	if dec["phone"] != nil {
		t.Errorf("unreadable field = %v, want nil", dec["phone"])
	}
	if dec["displayName"] != "Alex" {
		t.Error("non-sensitive field was touched")
	}
}

func TestEncryptSkipsAbsentAndEmptyFields(t *testing.T) {
	h := newHarness(t)

	enc := h.orch.EncryptSensitiveData(map[string]any{
		"phone":   "",
		"address": 42, // non-string stays as is
	})
	if enc["phone"] != "" {
		t.Errorf("empty field = %v, want empty string", enc["phone"])
	}
	if enc["address"] != 42 {
		t.Errorf("non-string field = %v, want 42", enc["address"])
	}
	if _, ok := enc["taxId"]; ok {
		t.Error("absent field materialized")
	}
}

func TestResolveActivityThroughFacade(t *testing.T) {
	h := newHarness(t)

	for i := 0; i <= core.RapidRequestThreshold; i++ {
		h.orch.MonitorRequest("user-1", "/api/x", "device-1")
	}
	acts := h.orch.SuspiciousActivities("user-1", true)
	if len(acts) != 1 {
		t.Fatalf("found %d open activities, want 1", len(acts))
	}
	if !h.orch.ResolveActivity(acts[0].ID, "admin-1") {
		t.Fatal("ResolveActivity failed")
	}
	if open := h.orch.SuspiciousActivities("user-1", true); len(open) != 0 {
		t.Errorf("%d activities still open", len(open))
	}
	// Drain the alert the burst produced so the goroutine finishes.
	select {
	case <-h.alerts:
	case <-time.After(2 * time.Second):
	}
}
