// Package session manages the security session lifecycle: creation,
// idle-expiry validation, step-up authentication windows, and encrypted
// persistence. The in-memory session is authoritative; the persisted copy
// exists so a process restart inside the idle window resumes it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
)

// persistDebounce bounds refresh writes: validation refreshes the activity
// timestamp in memory on every call but persists at most this often.
const persistDebounce = 30 * time.Second

// Manager owns the single logical session for the authenticated context.
type Manager struct {
	mu          sync.Mutex
	crypto      *cryptostore.Store
	verifier    core.CredentialVerifier
	clk         clock.Clock
	log         zerolog.Logger
	current     *core.SecuritySession
	lastPersist time.Time
}

// NewManager creates a session manager and resumes any persisted session
// still inside the idle window.
func NewManager(cs *cryptostore.Store, verifier core.CredentialVerifier, clk clock.Clock, log zerolog.Logger) *Manager {
	m := &Manager{
		crypto:   cs,
		verifier: verifier,
		clk:      clk,
		log:      log.With().Str("component", "session").Logger(),
	}
	m.resume()
	return m
}

func (m *Manager) resume() {
	var s core.SecuritySession
	if !m.crypto.Load(core.SessionKey, &s) {
		return
	}
	if m.clk.Now().Sub(s.LastActivityTime) > core.SessionIdleTimeout {
		if err := m.crypto.Remove(core.SessionKey); err != nil {
			m.log.Warn().Err(err).Msg("removing expired persisted session failed")
		}
		return
	}
	m.current = &s
	m.log.Debug().Str("user_id", s.UserID).Msg("resumed persisted session")
}

// Create starts a new session for the verified user and persists it.
// identity is the login identifier; step-up re-verification uses it, not
// the backend user ID.
func (m *Manager) Create(identity, userID, role, deviceID, ipAddress string) core.SecuritySession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	s := &core.SecuritySession{
		Identity:         identity,
		UserID:           userID,
		Role:             role,
		CreatedAt:        now,
		LastActivityTime: now,
		DeviceID:         deviceID,
		IPAddress:        ipAddress,
	}
	m.current = s
	m.persist()
	return *s
}

// Validate reports whether the session is live. An idle gap beyond
// SessionIdleTimeout destroys the session; otherwise the activity timestamp
// is refreshed, persisting only when the debounce interval has passed.
func (m *Manager) Validate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	now := m.clk.Now()
	if now.Sub(m.current.LastActivityTime) > core.SessionIdleTimeout {
		m.log.Info().Str("user_id", m.current.UserID).Msg("session expired from inactivity")
		m.destroy()
		return false
	}

	m.current.LastActivityTime = now
	if now.Sub(m.lastPersist) >= persistDebounce {
		m.persist()
	}
	return true
}

// RequestStepUp re-proves the user's identity through the credential
// verifier. On success the sensitive-action window opens from now.
func (m *Manager) RequestStepUp(ctx context.Context, proof string) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	identity := m.current.Identity
	userID := m.current.UserID
	m.mu.Unlock()

	// Verification may hit the network; don't hold the lock across it.
	// The proof is checked against the login identity, the same value the
	// verifier authenticated at login.
	if _, err := m.verifier.Verify(ctx, identity, proof); err != nil {
		m.log.Info().Str("user_id", userID).Msg("step-up verification failed")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.UserID != userID {
		return false
	}
	now := m.clk.Now()
	m.current.SensitiveActionTime = &now
	m.persist()
	return true
}

// CanActSensitively reports whether a successful step-up happened within
// the trailing StepUpWindow.
func (m *Manager) CanActSensitively() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.SensitiveActionTime == nil {
		return false
	}
	return m.clk.Now().Sub(*m.current.SensitiveActionTime) < core.StepUpWindow
}

// Destroy clears the in-memory and persisted session.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroy()
}

// Current returns a copy of the live session, or nil when signed out.
func (m *Manager) Current() *core.SecuritySession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

func (m *Manager) destroy() {
	m.current = nil
	m.lastPersist = time.Time{}
	if err := m.crypto.Remove(core.SessionKey); err != nil {
		m.log.Warn().Err(err).Msg("removing persisted session failed")
	}
}

func (m *Manager) persist() {
	if m.current == nil {
		return
	}
	if err := m.crypto.Persist(core.SessionKey, m.current); err != nil {
		m.log.Warn().Err(err).Msg("persisting session failed")
		return
	}
	m.lastPersist = m.clk.Now()
}
