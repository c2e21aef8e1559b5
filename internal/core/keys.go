package core

// Storage keys under which the crypto store persists ciphertext. The ledger
// writes login attempts and the anomaly detector reads them back through the
// same key.
const (
	SessionKey              = "security_session"
	SuspiciousActivitiesKey = "suspicious_activities"
	AuditLogKey             = "audit_log"
)

// LoginAttemptsKey returns the storage key for an identity's attempt list.
func LoginAttemptsKey(identity string) string {
	return "login_attempts:" + identity
}

// ActivityPatternKey returns the storage key for an identity's baseline.
func ActivityPatternKey(userID string) string {
	return "activity_pattern:" + userID
}

// DeviceSightingsKey returns the storage key for an identity's recent
// device sightings.
func DeviceSightingsKey(identity string) string {
	return "device_sightings:" + identity
}
