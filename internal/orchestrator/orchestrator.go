// Package orchestrator composes the security subsystems into the single
// facade the application calls: login, logout, session validation,
// sensitive actions, request monitoring, PII field encryption, and audit
// queries.
package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/anomaly"
	"github.com/aegis-security/aegis/internal/audit"
	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/ledger"
	"github.com/aegis-security/aegis/internal/session"
)

// piiFields is the fixed allow-list of fields subject to field-level
// encryption at rest. Everything else passes through untouched.
var piiFields = []string{"phone", "address", "taxId", "bankAccount"}

// sensitiveResources names the resource classes whose access feeds the
// data-access-pattern evaluation.
var sensitiveResources = map[string]bool{
	"personal_data":  true,
	"payment_method": true,
	"bank_account":   true,
	"tax_records":    true,
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Ledger   *ledger.Ledger
	Sessions *session.Manager
	Detector *anomaly.Detector
	Audit    *audit.Log
	Crypto   *cryptostore.Store
	Verifier core.CredentialVerifier
	Alerts   core.AlertDispatcher
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// Orchestrator is the only surface UI and business code should call.
type Orchestrator struct {
	ledger   *ledger.Ledger
	sessions *session.Manager
	detector *anomaly.Detector
	audit    *audit.Log
	crypto   *cryptostore.Store
	verifier core.CredentialVerifier
	alerts   core.AlertDispatcher
	clk      clock.Clock
	log      zerolog.Logger
}

// New assembles the facade from already-constructed components.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		ledger:   d.Ledger,
		sessions: d.Sessions,
		detector: d.Detector,
		audit:    d.Audit,
		crypto:   d.Crypto,
		verifier: d.Verifier,
		alerts:   d.Alerts,
		clk:      d.Clock,
		log:      d.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// LoginResult is the successful outcome of SecureLogin.
type LoginResult struct {
	User    core.VerifiedUser
	Session core.SecuritySession
}

// SecureLogin runs the full login pipeline: lockout check, pattern
// evaluation (side effect only), credential verification, attempt
// bookkeeping, session creation, baseline update, and auditing.
//
// Failures are typed: *core.LockoutError when throttled,
// core.ErrInvalidCredentials when the verifier rejects.
func (o *Orchestrator) SecureLogin(ctx context.Context, identity, secret, deviceID, ipAddress string) (*LoginResult, error) {
	if o.ledger.IsLockedOut(identity) {
		minutes := o.ledger.LockoutRemainingMinutes(identity)
		o.audit.Append(audit.Event{
			UserID:   identity,
			Action:   core.ActionLoginBlocked,
			Resource: "auth",
			Success:  false,
			DeviceID: deviceID,
			Metadata: map[string]string{"lockout_minutes": strconv.Itoa(minutes)},
		})
		return nil, &core.LockoutError{MinutesRemaining: minutes}
	}

	// Detection runs before authentication but never blocks the outcome.
	o.dispatchAll(o.detector.CheckLoginPattern(identity, deviceID))

	user, err := o.verifier.Verify(ctx, identity, secret)
	if err != nil {
		o.ledger.Record(identity, false, deviceID, ipAddress)
		o.audit.Append(audit.Event{
			UserID:   identity,
			Action:   core.ActionLoginFailed,
			Resource: "auth",
			Success:  false,
			DeviceID: deviceID,
		})
		return nil, core.ErrInvalidCredentials
	}

	o.ledger.Clear(identity)
	sess := o.sessions.Create(identity, user.UserID, user.Role, deviceID, ipAddress)
	// Detector state is keyed by the login identity, the same key the
	// pre-auth checks read.
	o.detector.UpdatePattern(identity, o.clk.Now(), deviceID, 0)
	o.audit.Append(audit.Event{
		UserID:   user.UserID,
		Action:   core.ActionLoginSuccess,
		Resource: "auth",
		Success:  true,
		DeviceID: deviceID,
	})

	o.log.Info().Str("user_id", user.UserID).Msg("login accepted")
	return &LoginResult{User: user, Session: sess}, nil
}

// SecureLogout folds the finished session's duration into the baseline,
// destroys the session, and audits the logout.
func (o *Orchestrator) SecureLogout(userID, deviceID string) {
	var duration time.Duration
	patternKey := userID
	if sess := o.sessions.Current(); sess != nil {
		duration = o.clk.Now().Sub(sess.CreatedAt)
		if sess.Identity != "" {
			patternKey = sess.Identity
		}
	}

	o.detector.UpdatePattern(patternKey, o.clk.Now(), deviceID, duration)
	o.sessions.Destroy()
	o.audit.Append(audit.Event{
		UserID:   userID,
		Action:   core.ActionLogout,
		Resource: "auth",
		Success:  true,
		DeviceID: deviceID,
		Metadata: map[string]string{"session_seconds": strconv.Itoa(int(duration.Seconds()))},
	})
}

// ValidateSecureSession refreshes and reports the session's liveness.
func (o *Orchestrator) ValidateSecureSession() bool {
	return o.sessions.Validate()
}

// PerformSensitiveAction gates an action behind a live session and the
// step-up window. Without a session the action rejects with
// core.ErrSessionExpired. When the window is closed, the supplied proof is
// used to reopen it; continued failure audits a block and returns
// core.ErrStepUpRequired. Access to a sensitive resource class additionally
// feeds the data-access evaluation.
func (o *Orchestrator) PerformSensitiveAction(ctx context.Context, action, resource, proof string) error {
	if !o.sessions.Validate() {
		return core.ErrSessionExpired
	}
	if !o.sessions.CanActSensitively() {
		if proof == "" || !o.sessions.RequestStepUp(ctx, proof) {
			o.audit.Append(audit.Event{
				UserID:   o.currentUserID(),
				Action:   core.ActionSensitiveActionBlocked,
				Resource: resource,
				Success:  false,
				Metadata: map[string]string{"requested_action": action},
			})
			return core.ErrStepUpRequired
		}
		o.audit.Append(audit.Event{
			UserID:   o.currentUserID(),
			Action:   core.ActionStepUpGranted,
			Resource: resource,
			Success:  true,
		})
	}

	if sensitiveResources[resource] {
		if act := o.detector.RecordDataAccess(o.currentUserID(), resource); act != nil {
			o.dispatch(*act)
		}
	}

	o.audit.Append(audit.Event{
		UserID:   o.currentUserID(),
		Action:   action,
		Resource: resource,
		Success:  true,
	})
	return nil
}

// MonitorRequest feeds a request into the rapid-request evaluation.
func (o *Orchestrator) MonitorRequest(userID, endpoint, deviceID string) {
	if act := o.detector.MonitorRequest(userID, endpoint, deviceID); act != nil {
		o.dispatch(*act)
	}
}

// EncryptSensitiveData encrypts the allow-listed PII fields of obj,
// leaving every other field untouched. A field that cannot be encrypted is
// dropped rather than stored in the clear.
func (o *Orchestrator) EncryptSensitiveData(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, field := range piiFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		blob, err := o.crypto.Encrypt(s)
		if err != nil {
			o.log.Error().Err(err).Str("field", field).Msg("encrypting field failed, dropping value")
			out[field] = nil
			continue
		}
		out[field] = blob
	}
	return out
}

// DecryptSensitiveData reverses EncryptSensitiveData. A field that fails to
// decrypt is nulled rather than failing the whole object.
func (o *Orchestrator) DecryptSensitiveData(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, field := range piiFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		plain, err := o.crypto.Decrypt(s)
		if err != nil {
			o.log.Warn().Str("field", field).Msg("field unreadable, returning null")
			out[field] = nil
			continue
		}
		out[field] = plain
	}
	return out
}

// GetAuditLogs returns audit entries newest first, optionally filtered by
// user.
func (o *Orchestrator) GetAuditLogs(userID string, limit int) []core.AuditLogEntry {
	return o.audit.Query(userID, limit)
}

// SuspiciousActivities exposes the detector's findings newest first.
func (o *Orchestrator) SuspiciousActivities(userID string, unresolvedOnly bool) []core.SuspiciousActivity {
	return o.detector.Activities(userID, unresolvedOnly)
}

// ResolveActivity marks a finding resolved on behalf of an administrative
// actor.
func (o *Orchestrator) ResolveActivity(id, resolvedBy string) bool {
	return o.detector.Resolve(id, resolvedBy)
}

func (o *Orchestrator) currentUserID() string {
	if sess := o.sessions.Current(); sess != nil {
		return sess.UserID
	}
	return ""
}

func (o *Orchestrator) dispatchAll(activities []core.SuspiciousActivity) {
	for _, act := range activities {
		o.dispatch(act)
	}
}

// dispatch audits a finding and, for high or critical severity, notifies
// the administrative alert channel. Notification is fire-and-forget,
// at-most-once: failures are logged, never escalated.
func (o *Orchestrator) dispatch(act core.SuspiciousActivity) {
	o.audit.Append(audit.Event{
		UserID:   act.UserID,
		Action:   core.ActionSuspiciousActivity,
		Resource: string(act.ActivityType),
		Success:  false,
		Metadata: map[string]string{
			"activity_id": act.ID,
			"severity":    string(act.Severity),
		},
	})

	if act.Severity != core.SeverityHigh && act.Severity != core.SeverityCritical {
		return
	}
	go func() {
		err := o.alerts.Notify(core.Alert{
			Title: "Suspicious activity detected",
			Body:  string(act.ActivityType) + " (" + string(act.Severity) + ")",
			Data: map[string]string{
				"activity_id": act.ID,
				"user_id":     act.UserID,
			},
		})
		if err != nil {
			o.log.Warn().Err(err).Str("activity_id", act.ID).Msg("alert dispatch failed")
		}
	}()
}
