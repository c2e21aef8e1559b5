// Package core defines the foundational types and security constants for the
// Aegis on-device security layer. Every subsystem (crypto store, attempt
// ledger, session manager, anomaly detector, audit log) operates on these
// types, and the numeric thresholds here are business rules shared with the
// backend.
package core

import (
	"context"
	"time"
)

// Severity grades a suspicious-activity finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActivityType categorizes suspicious-activity findings.
type ActivityType string

const (
	ActivityMultipleLoginAttempts ActivityType = "multiple_login_attempts"
	ActivityUnusualDevice         ActivityType = "unusual_device"
	ActivityRapidRequests         ActivityType = "rapid_requests"
	ActivityDataAccessPattern     ActivityType = "data_access_pattern"
	ActivityLocationAnomaly       ActivityType = "location_anomaly"
)

// Retention caps. Collections are trimmed to these immediately after insert.
const (
	MaxLoginAttempts        = 20
	MaxSuspiciousActivities = 1000
	MaxAuditEntries         = 10000
	MaxLoginHourSamples     = 30
	MaxKnownDevices         = 5
)

// Lockout and detection thresholds with their trailing windows.
const (
	LockoutThreshold = 5
	LockoutWindow    = 15 * time.Minute

	LoginBurstThreshold = 10
	LoginBurstWindow    = time.Hour

	RapidRequestThreshold = 100
	RapidRequestWindow    = 5 * time.Minute

	DataAccessThreshold = 10
	DataAccessWindow    = time.Hour

	DeviceDiversityThreshold = 3
	DeviceDiversityWindow    = 24 * time.Hour

	SessionIdleTimeout = 30 * time.Minute
	StepUpWindow       = 5 * time.Minute
)

// Audit actions recorded by the orchestrator.
const (
	ActionLoginSuccess           = "login_success"
	ActionLoginFailed            = "login_failed"
	ActionLoginBlocked           = "login_blocked"
	ActionLogout                 = "logout"
	ActionSensitiveAction        = "sensitive_action"
	ActionSensitiveActionBlocked = "sensitive_action_blocked"
	ActionSuspiciousActivity     = "suspicious_activity"
	ActionStepUpGranted          = "step_up_granted"
)

// LoginAttempt is a single authentication attempt. Attempts are immutable;
// the ledger keeps the newest MaxLoginAttempts per identity.
type LoginAttempt struct {
	Identity  string    `json:"identity"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	DeviceID  string    `json:"device_id"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// SecuritySession is the authenticated context for the current user.
// Identity is the login identifier the user authenticates with; UserID is
// the backend's resolved ID. They differ in general (email in, opaque ID
// out), so anything re-verified or baselined must key off Identity. The
// in-memory copy is authoritative while the process lives; the persisted
// copy (ciphertext) lets a restart inside the idle window resume it.
type SecuritySession struct {
	Identity            string     `json:"identity"`
	UserID              string     `json:"user_id"`
	Role                string     `json:"role"`
	CreatedAt           time.Time  `json:"created_at"`
	LastActivityTime    time.Time  `json:"last_activity_time"`
	SensitiveActionTime *time.Time `json:"sensitive_action_time,omitempty"`
	DeviceID            string     `json:"device_id"`
	IPAddress           string     `json:"ip_address,omitempty"`
}

// ActivityPattern is the rolling behavioral baseline for one identity.
type ActivityPattern struct {
	UserID                  string        `json:"user_id"`
	NormalLoginHours        []int         `json:"normal_login_hours"`        // newest last, cap MaxLoginHourSamples
	NormalDevices           []string      `json:"normal_devices"`            // newest last, cap MaxKnownDevices
	AverageSessionDuration  time.Duration `json:"average_session_duration"`  // exponential half-average
	TypicalRequestFrequency float64       `json:"typical_request_frequency"` // requests per window, half-averaged
}

// DeviceSighting records when a device ID was last seen for an identity.
// Sightings older than DeviceDiversityWindow are pruned.
type DeviceSighting struct {
	DeviceID string    `json:"device_id"`
	SeenAt   time.Time `json:"seen_at"`
}

// SuspiciousActivity is a flagged deviation from an identity's baseline.
// Immutable once recorded except for the resolution fields.
type SuspiciousActivity struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	ActivityType ActivityType     `json:"activity_type"`
	Severity     Severity         `json:"severity"`
	Timestamp    time.Time        `json:"timestamp"`
	Metadata     ActivityMetadata `json:"-"`
	Resolved     bool             `json:"resolved"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy   string           `json:"resolved_by,omitempty"`
	Actions      []string         `json:"actions,omitempty"`
}

// AuditLogEntry is an immutable record of one security-relevant operation.
// RecordHash chains entries so tampering inside the retained window is
// detectable.
type AuditLogEntry struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	Timestamp  time.Time         `json:"timestamp"`
	Success    bool              `json:"success"`
	DeviceID   string            `json:"device_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordHash string            `json:"record_hash"`
}

// VerifiedUser is the result of a successful credential verification.
type VerifiedUser struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CredentialVerifier is the injected capability that checks an identity's
// secret against the real backend or local auth provider. This layer never
// implements credential checking itself.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity, secret string) (VerifiedUser, error)
}

// Alert is a best-effort administrative notification.
type Alert struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// AlertDispatcher delivers alerts at most once, with no retry. Failures are
// logged by the caller, never escalated.
type AlertDispatcher interface {
	Notify(alert Alert) error
}
