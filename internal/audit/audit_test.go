package audit

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/kvstore"
)

func newTestLog(t *testing.T) (*Log, *clock.Fake, *cryptostore.Store) {
	t.Helper()
	crypto, err := cryptostore.New(bytes.Repeat([]byte{0x2a}, 32), kvstore.NewMemory(), zerolog.Nop())
	if err != nil {
		t.Fatalf("creating crypto store: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	return New(crypto, clk, zerolog.Nop()), clk, crypto
}

func TestAppendAssignsFields(t *testing.T) {
	l, clk, _ := newTestLog(t)

	entry := l.Append(Event{
		UserID:   "user-1",
		Action:   core.ActionLoginSuccess,
		Resource: "auth",
		Success:  true,
		DeviceID: "device-1",
	})

	if entry.ID == "" {
		t.Error("entry has no id")
	}
	if entry.RecordHash == "" {
		t.Error("entry has no record hash")
	}
	if !entry.Timestamp.Equal(clk.Now()) {
		t.Errorf("timestamp = %v, want %v", entry.Timestamp, clk.Now())
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestQueryNewestFirst(t *testing.T) {
	l, clk, _ := newTestLog(t)

	for i := 0; i < 5; i++ {
		l.Append(Event{UserID: "user-1", Action: fmt.Sprintf("action-%d", i), Success: true})
		clk.Advance(time.Minute)
	}

	got := l.Query("", 0)
	if len(got) != 5 {
		t.Fatalf("Query returned %d entries, want 5", len(got))
	}
	if got[0].Action != "action-4" || got[4].Action != "action-0" {
		t.Errorf("entries not newest first: %s ... %s", got[0].Action, got[4].Action)
	}
}

func TestQueryFilterAndLimit(t *testing.T) {
	l, clk, _ := newTestLog(t)

	for i := 0; i < 6; i++ {
		user := "user-1"
		if i%2 == 1 {
			user = "user-2"
		}
		l.Append(Event{UserID: user, Action: core.ActionSensitiveAction, Success: true})
		clk.Advance(time.Second)
	}

	only1 := l.Query("user-1", 0)
	if len(only1) != 3 {
		t.Fatalf("filter returned %d entries, want 3", len(only1))
	}
	for _, e := range only1 {
		if e.UserID != "user-1" {
			t.Errorf("filter leaked entry for %q", e.UserID)
		}
	}

	limited := l.Query("", 2)
	if len(limited) != 2 {
		t.Errorf("limit returned %d entries, want 2", len(limited))
	}
}

func TestCapDropsOldest(t *testing.T) {
	_, clk, crypto := newTestLog(t)

	// Pre-seed a full window, then append one more through a fresh log.
	entries := make([]core.AuditLogEntry, core.MaxAuditEntries)
	base := clk.Now().Add(-time.Duration(core.MaxAuditEntries) * time.Second)
	for i := range entries {
		entries[i] = core.AuditLogEntry{
			ID:        fmt.Sprintf("seed-%d", i),
			UserID:    "user-1",
			Action:    core.ActionSensitiveAction,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Success:   true,
		}
	}
	if err := crypto.Persist(core.AuditLogKey, entries); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	l := New(crypto, clk, zerolog.Nop())
	if l.Len() != core.MaxAuditEntries {
		t.Fatalf("reloaded %d entries, want %d", l.Len(), core.MaxAuditEntries)
	}

	l.Append(Event{UserID: "user-1", Action: core.ActionLogout, Success: true})
	if l.Len() != core.MaxAuditEntries {
		t.Fatalf("Len = %d after overflow, want %d", l.Len(), core.MaxAuditEntries)
	}

	newest := l.Query("", 1)
	if newest[0].Action != core.ActionLogout {
		t.Error("newest entry is not the appended one")
	}
	for _, e := range l.Query("", 0) {
		if e.ID == "seed-0" {
			t.Fatal("oldest entry survived the overflow")
		}
	}
}

func TestVerifyChain(t *testing.T) {
	l, clk, _ := newTestLog(t)

	for i := 0; i < 10; i++ {
		l.Append(Event{UserID: "user-1", Action: core.ActionLoginSuccess, Success: true})
		clk.Advance(time.Second)
	}

	ok, verified := l.Verify()
	if !ok {
		t.Fatal("intact chain failed verification")
	}
	if verified != 9 {
		t.Errorf("verified %d links, want 9", verified)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, clk, _ := newTestLog(t)

	for i := 0; i < 10; i++ {
		l.Append(Event{UserID: "user-1", Action: core.ActionLoginSuccess, Success: true})
		clk.Advance(time.Second)
	}

	l.entries[4].Action = core.ActionLoginFailed

	ok, verified := l.Verify()
	if ok {
		t.Fatal("tampered chain passed verification")
	}
	if verified != 3 {
		t.Errorf("verified %d links before the break, want 3", verified)
	}
}

func TestChainSurvivesRestart(t *testing.T) {
	l1, clk, crypto := newTestLog(t)

	for i := 0; i < 3; i++ {
		l1.Append(Event{UserID: "user-1", Action: core.ActionLoginSuccess, Success: true})
		clk.Advance(time.Second)
	}

	l2 := New(crypto, clk, zerolog.Nop())
	l2.Append(Event{UserID: "user-1", Action: core.ActionLogout, Success: true})

	ok, verified := l2.Verify()
	if !ok {
		t.Fatal("chain broke across a restart")
	}
	if verified != 3 {
		t.Errorf("verified %d links, want 3", verified)
	}
}

func TestMetadataRedaction(t *testing.T) {
	l, _, _ := newTestLog(t)

	entry := l.Append(Event{
		UserID: "user-1",
		Action: core.ActionStepUpGranted,
		Metadata: map[string]string{
			"password": "hunter2",
			"reason":   "payout change",
		},
	})

	if strings.Contains(entry.Metadata["password"], "hunter2") {
		t.Error("secret value recorded in the clear")
	}
	if !strings.HasPrefix(entry.Metadata["password"], "[REDACTED") {
		t.Errorf("secret value not redacted: %q", entry.Metadata["password"])
	}
	if entry.Metadata["reason"] != "payout change" {
		t.Errorf("non-secret value mangled: %q", entry.Metadata["reason"])
	}
}
