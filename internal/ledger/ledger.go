// Package ledger tracks timestamped login attempts per identity and computes
// lockout state. Lockout is derived purely from the trailing window of
// failed attempts; there is no persisted "is locked" flag, so it self-heals
// once the window passes.
package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/keylock"
)

// Ledger records login attempts as ciphertext and answers lockout queries.
type Ledger struct {
	crypto *cryptostore.Store
	clk    clock.Clock
	log    zerolog.Logger
	locks  *keylock.Map
}

// New creates a Ledger over the given crypto store and clock.
func New(cs *cryptostore.Store, clk clock.Clock, log zerolog.Logger) *Ledger {
	return &Ledger{
		crypto: cs,
		clk:    clk,
		log:    log.With().Str("component", "ledger").Logger(),
		locks:  keylock.New(),
	}
}

// Record appends an attempt for identity and trims the list to the newest
// MaxLoginAttempts. Storage failures are logged, not propagated.
func (l *Ledger) Record(identity string, success bool, deviceID, ipAddress string) {
	mu := l.locks.Get(identity)
	mu.Lock()
	defer mu.Unlock()

	attempts := l.load(identity)
	attempts = append(attempts, core.LoginAttempt{
		Identity:  identity,
		Timestamp: l.clk.Now(),
		Success:   success,
		DeviceID:  deviceID,
		IPAddress: ipAddress,
	})
	if len(attempts) > core.MaxLoginAttempts {
		attempts = attempts[len(attempts)-core.MaxLoginAttempts:]
	}

	if err := l.crypto.Persist(core.LoginAttemptsKey(identity), attempts); err != nil {
		l.log.Warn().Err(err).Str("identity", identity).Msg("persisting login attempts failed")
	}
}

// IsLockedOut reports whether identity has accumulated LockoutThreshold
// failures inside the trailing LockoutWindow.
func (l *Ledger) IsLockedOut(identity string) bool {
	return len(l.recentFailures(identity, core.LockoutWindow)) >= core.LockoutThreshold
}

// LockoutRemainingMinutes returns how many whole minutes remain until the
// lockout decays, measured from the age of the oldest of the qualifying
// failures. Zero when not locked.
func (l *Ledger) LockoutRemainingMinutes(identity string) int {
	failures := l.recentFailures(identity, core.LockoutWindow)
	if len(failures) < core.LockoutThreshold {
		return 0
	}

	// Newest first; the threshold-th most recent failure anchors the window.
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Timestamp.After(failures[j].Timestamp)
	})
	anchor := failures[core.LockoutThreshold-1].Timestamp

	remaining := core.LockoutWindow - l.clk.Now().Sub(anchor)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}

// Clear wipes the stored attempt list for identity. Called after a
// successful login.
func (l *Ledger) Clear(identity string) {
	mu := l.locks.Get(identity)
	mu.Lock()
	defer mu.Unlock()

	if err := l.crypto.Remove(core.LoginAttemptsKey(identity)); err != nil {
		l.log.Warn().Err(err).Str("identity", identity).Msg("clearing login attempts failed")
	}
}

// Attempts returns the retained attempts for identity, oldest first.
func (l *Ledger) Attempts(identity string) []core.LoginAttempt {
	mu := l.locks.Get(identity)
	mu.Lock()
	defer mu.Unlock()
	return l.load(identity)
}

func (l *Ledger) recentFailures(identity string, window time.Duration) []core.LoginAttempt {
	mu := l.locks.Get(identity)
	mu.Lock()
	attempts := l.load(identity)
	mu.Unlock()

	cutoff := l.clk.Now().Add(-window)
	var failures []core.LoginAttempt
	for _, a := range attempts {
		if !a.Success && a.Timestamp.After(cutoff) {
			failures = append(failures, a)
		}
	}
	return failures
}

func (l *Ledger) load(identity string) []core.LoginAttempt {
	var attempts []core.LoginAttempt
	l.crypto.Load(core.LoginAttemptsKey(identity), &attempts)
	return attempts
}
