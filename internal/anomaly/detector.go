// Package anomaly maintains a rolling behavioral baseline per identity
// (login hours, device set, session duration, request rate) and evaluates
// new events against it, emitting suspicious-activity records with severity.
package anomaly

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/keylock"
)

// Detector evaluates login, request, and data-access events. Baselines and
// the suspicious-activity list are persisted as ciphertext; the short-lived
// sliding-window buffers live in memory only.
type Detector struct {
	crypto *cryptostore.Store
	clk    clock.Clock
	log    zerolog.Logger
	locks  *keylock.Map // serializes per-identity baseline and sighting writes

	mu         sync.Mutex // guards the buffers and the activity list
	requests   map[string][]time.Time
	accesses   map[string][]time.Time
	activities []core.SuspiciousActivity // oldest first, cap MaxSuspiciousActivities
}

// New creates a Detector, reloading previously recorded suspicious
// activities from encrypted storage.
func New(cs *cryptostore.Store, clk clock.Clock, log zerolog.Logger) *Detector {
	d := &Detector{
		crypto:   cs,
		clk:      clk,
		log:      log.With().Str("component", "anomaly").Logger(),
		locks:    keylock.New(),
		requests: make(map[string][]time.Time),
		accesses: make(map[string][]time.Time),
	}
	d.crypto.Load(core.SuspiciousActivitiesKey, &d.activities)
	return d
}

// CheckLoginPattern runs the login-time evaluations for an identity: failed
// login burst, device diversity over 24 hours, unrecognized device, and
// unusual hour. It records the device sighting as a side effect and returns
// every activity it flagged. Evaluation never blocks a login.
func (d *Detector) CheckLoginPattern(userID, deviceID string) []core.SuspiciousActivity {
	now := d.clk.Now()
	var found []core.SuspiciousActivity

	// Failed-login burst over the attempt list the ledger maintains.
	var attempts []core.LoginAttempt
	d.crypto.Load(core.LoginAttemptsKey(userID), &attempts)
	failed := 0
	for _, a := range attempts {
		if !a.Success && a.Timestamp.After(now.Add(-core.LoginBurstWindow)) {
			failed++
		}
	}
	if failed >= core.LoginBurstThreshold {
		found = append(found, d.record(userID, core.ActivityMultipleLoginAttempts, core.SeverityHigh,
			core.LoginBurstDetail{FailedCount: failed, Window: core.LoginBurstWindow}))
	}

	// Device diversity inside the trailing 24 hours.
	devices := d.recordSighting(userID, deviceID, now)
	if len(devices) > core.DeviceDiversityThreshold {
		found = append(found, d.record(userID, core.ActivityMultipleLoginAttempts, core.SeverityHigh,
			core.DeviceDiversityDetail{DeviceCount: len(devices), Devices: devices}))
	}

	// Baseline comparisons apply only once a baseline exists.
	var pattern core.ActivityPattern
	if d.crypto.Load(core.ActivityPatternKey(userID), &pattern) {
		if len(pattern.NormalDevices) >= 1 && !containsString(pattern.NormalDevices, deviceID) {
			found = append(found, d.record(userID, core.ActivityUnusualDevice, core.SeverityMedium,
				core.UnusualDeviceDetail{DeviceID: deviceID, KnownDevices: pattern.NormalDevices}))
		}
		if len(pattern.NormalLoginHours) > 0 && !nearKnownHour(pattern.NormalLoginHours, now.Hour()) {
			found = append(found, d.record(userID, core.ActivityLocationAnomaly, core.SeverityLow,
				core.UnusualHourDetail{Hour: now.Hour(), TypicalHours: pattern.NormalLoginHours}))
		}
	}

	return found
}

// MonitorRequest counts a request against the (identity, endpoint) sliding
// window. Crossing RapidRequestThreshold flags one activity and clears the
// window's buffer so the same burst cannot alert repeatedly.
func (d *Detector) MonitorRequest(userID, endpoint, deviceID string) *core.SuspiciousActivity {
	now := d.clk.Now()
	key := userID + "|" + endpoint

	d.mu.Lock()
	buf := pruneTimes(d.requests[key], now.Add(-core.RapidRequestWindow))
	buf = append(buf, now)
	if len(buf) <= core.RapidRequestThreshold {
		d.requests[key] = buf
		d.mu.Unlock()
		return nil
	}
	count := len(buf)
	d.requests[key] = nil
	d.mu.Unlock()

	d.updateRequestFrequency(userID, count)
	act := d.record(userID, core.ActivityRapidRequests, core.SeverityHigh,
		core.RapidRequestDetail{Endpoint: endpoint, RequestCount: count, DeviceID: deviceID})
	return &act
}

// RecordDataAccess counts an access to a sensitive resource class. More
// than DataAccessThreshold accesses inside the trailing window flags an
// activity. The buffer is not cleared; continued access keeps alerting.
func (d *Detector) RecordDataAccess(userID, resource string) *core.SuspiciousActivity {
	now := d.clk.Now()
	key := userID + "|" + resource

	d.mu.Lock()
	buf := pruneTimes(d.accesses[key], now.Add(-core.DataAccessWindow))
	buf = append(buf, now)
	d.accesses[key] = buf
	count := len(buf)
	d.mu.Unlock()

	if count <= core.DataAccessThreshold {
		return nil
	}
	act := d.record(userID, core.ActivityDataAccessPattern, core.SeverityMedium,
		core.DataAccessDetail{Resource: resource, AccessCount: count})
	return &act
}

// UpdatePattern folds a successful login or logout into the identity's
// baseline: hour-of-day sample (cap 30), device set (cap 5, oldest
// dropped), and the half-averaged session duration.
func (d *Detector) UpdatePattern(userID string, loginTime time.Time, deviceID string, sessionDuration time.Duration) {
	mu := d.locks.Get(userID)
	mu.Lock()
	defer mu.Unlock()

	var p core.ActivityPattern
	if !d.crypto.Load(core.ActivityPatternKey(userID), &p) {
		p = core.ActivityPattern{UserID: userID}
	}

	p.NormalLoginHours = append(p.NormalLoginHours, loginTime.Hour())
	if len(p.NormalLoginHours) > core.MaxLoginHourSamples {
		p.NormalLoginHours = p.NormalLoginHours[len(p.NormalLoginHours)-core.MaxLoginHourSamples:]
	}

	if deviceID != "" && !containsString(p.NormalDevices, deviceID) {
		p.NormalDevices = append(p.NormalDevices, deviceID)
		if len(p.NormalDevices) > core.MaxKnownDevices {
			p.NormalDevices = p.NormalDevices[len(p.NormalDevices)-core.MaxKnownDevices:]
		}
	}

	if sessionDuration > 0 {
		if p.AverageSessionDuration == 0 {
			p.AverageSessionDuration = sessionDuration
		} else {
			p.AverageSessionDuration = (p.AverageSessionDuration + sessionDuration) / 2
		}
	}

	if err := d.crypto.Persist(core.ActivityPatternKey(userID), p); err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("persisting activity pattern failed")
	}
}

// Pattern returns the stored baseline for an identity, if one exists.
func (d *Detector) Pattern(userID string) (core.ActivityPattern, bool) {
	mu := d.locks.Get(userID)
	mu.Lock()
	defer mu.Unlock()

	var p core.ActivityPattern
	ok := d.crypto.Load(core.ActivityPatternKey(userID), &p)
	return p, ok
}

// Activities returns recorded suspicious activities newest first. userID
// filters when non-empty; unresolvedOnly drops resolved records.
func (d *Detector) Activities(userID string, unresolvedOnly bool) []core.SuspiciousActivity {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []core.SuspiciousActivity
	for i := len(d.activities) - 1; i >= 0; i-- {
		a := d.activities[i]
		if userID != "" && a.UserID != userID {
			continue
		}
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Resolve marks an activity resolved. Only the resolution fields mutate.
func (d *Detector) Resolve(id, resolvedBy string) bool {
	d.mu.Lock()
	for i := range d.activities {
		if d.activities[i].ID == id {
			now := d.clk.Now()
			d.activities[i].Resolved = true
			d.activities[i].ResolvedAt = &now
			d.activities[i].ResolvedBy = resolvedBy
			snapshot := append([]core.SuspiciousActivity(nil), d.activities...)
			d.mu.Unlock()
			d.persistActivities(snapshot)
			return true
		}
	}
	d.mu.Unlock()
	return false
}

// recordSighting notes that deviceID was seen for userID now and returns
// the distinct device IDs seen inside the diversity window.
func (d *Detector) recordSighting(userID, deviceID string, now time.Time) []string {
	mu := d.locks.Get(userID)
	mu.Lock()
	defer mu.Unlock()

	var sightings []core.DeviceSighting
	d.crypto.Load(core.DeviceSightingsKey(userID), &sightings)

	cutoff := now.Add(-core.DeviceDiversityWindow)
	kept := sightings[:0]
	updated := false
	for _, s := range sightings {
		if !s.SeenAt.After(cutoff) {
			continue
		}
		if s.DeviceID == deviceID {
			s.SeenAt = now
			updated = true
		}
		kept = append(kept, s)
	}
	if !updated {
		kept = append(kept, core.DeviceSighting{DeviceID: deviceID, SeenAt: now})
	}

	if err := d.crypto.Persist(core.DeviceSightingsKey(userID), kept); err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("persisting device sightings failed")
	}

	devices := make([]string, 0, len(kept))
	for _, s := range kept {
		devices = append(devices, s.DeviceID)
	}
	return devices
}

// updateRequestFrequency half-averages the observed burst size into the
// identity's baseline. Runs only when a burst triggers, so the extra
// pattern write stays rare.
func (d *Detector) updateRequestFrequency(userID string, observed int) {
	mu := d.locks.Get(userID)
	mu.Lock()
	defer mu.Unlock()

	var p core.ActivityPattern
	if !d.crypto.Load(core.ActivityPatternKey(userID), &p) {
		p = core.ActivityPattern{UserID: userID}
	}
	if p.TypicalRequestFrequency == 0 {
		p.TypicalRequestFrequency = float64(observed)
	} else {
		p.TypicalRequestFrequency = (p.TypicalRequestFrequency + float64(observed)) / 2
	}
	if err := d.crypto.Persist(core.ActivityPatternKey(userID), p); err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("persisting activity pattern failed")
	}
}

func (d *Detector) record(userID string, typ core.ActivityType, sev core.Severity, meta core.ActivityMetadata) core.SuspiciousActivity {
	act := core.SuspiciousActivity{
		ID:           uuid.New().String(),
		UserID:       userID,
		ActivityType: typ,
		Severity:     sev,
		Timestamp:    d.clk.Now(),
		Metadata:     meta,
		Actions:      actionsFor(sev),
	}

	d.mu.Lock()
	d.activities = append(d.activities, act)
	if len(d.activities) > core.MaxSuspiciousActivities {
		d.activities = d.activities[len(d.activities)-core.MaxSuspiciousActivities:]
	}
	snapshot := append([]core.SuspiciousActivity(nil), d.activities...)
	d.mu.Unlock()

	d.persistActivities(snapshot)
	d.log.Warn().
		Str("user_id", userID).
		Str("activity_type", string(typ)).
		Str("severity", string(sev)).
		Msg("suspicious activity detected")
	return act
}

func (d *Detector) persistActivities(activities []core.SuspiciousActivity) {
	if err := d.crypto.Persist(core.SuspiciousActivitiesKey, activities); err != nil {
		d.log.Warn().Err(err).Msg("persisting suspicious activities failed")
	}
}

// actionsFor maps severity to the automatic mitigations attached to a
// finding.
func actionsFor(sev core.Severity) []string {
	switch sev {
	case core.SeverityLow:
		return []string{"log"}
	case core.SeverityMedium:
		return []string{"log", "notify_user"}
	case core.SeverityHigh:
		return []string{"log", "notify_user", "require_step_up"}
	case core.SeverityCritical:
		return []string{"log", "notify_user", "terminate_sessions"}
	default:
		return []string{"log"}
	}
}

// nearKnownHour reports whether hour falls within ±2 hours of any learned
// sample, wrapping around midnight.
func nearKnownHour(known []int, hour int) bool {
	for _, h := range known {
		diff := hour - h
		if diff < 0 {
			diff = -diff
		}
		if diff > 12 {
			diff = 24 - diff
		}
		if diff <= 2 {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
