// Package audit provides the bounded append-only audit log for
// security-relevant events. Entries form a SHA-256 hash chain so tampering
// inside the retained window is detectable, and metadata values under
// secret-looking keys are redacted before they are recorded.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/logging"
)

// Event is the caller-supplied portion of an audit entry. ID, timestamp,
// and the record hash are assigned on append.
type Event struct {
	UserID   string
	Action   string
	Resource string
	Success  bool
	DeviceID string
	Metadata map[string]string
}

// Log is the append-only audit log. The in-memory window is authoritative
// and persisted as ciphertext after every append.
type Log struct {
	mu       sync.Mutex
	crypto   *cryptostore.Store
	clk      clock.Clock
	log      zerolog.Logger
	entries  []core.AuditLogEntry // oldest first, cap MaxAuditEntries
	lastHash string
}

// New creates an audit log, reloading the persisted window and recovering
// chain continuity from its newest entry.
func New(cs *cryptostore.Store, clk clock.Clock, log zerolog.Logger) *Log {
	l := &Log{
		crypto: cs,
		clk:    clk,
		log:    log.With().Str("component", "audit").Logger(),
	}
	l.crypto.Load(core.AuditLogKey, &l.entries)
	if n := len(l.entries); n > 0 {
		l.lastHash = l.entries[n-1].RecordHash
	}
	return l
}

// Append records an event. The entry is immutable once written; the log is
// trimmed to the newest MaxAuditEntries immediately after insertion.
func (l *Log) Append(ev Event) core.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := core.AuditLogEntry{
		ID:        uuid.New().String(),
		UserID:    ev.UserID,
		Action:    ev.Action,
		Resource:  ev.Resource,
		Timestamp: l.clk.Now(),
		Success:   ev.Success,
		DeviceID:  ev.DeviceID,
		Metadata:  scrubMetadata(ev.Metadata),
	}
	entry.RecordHash = chainHash(l.lastHash, entry)

	l.entries = append(l.entries, entry)
	if len(l.entries) > core.MaxAuditEntries {
		l.entries = l.entries[len(l.entries)-core.MaxAuditEntries:]
	}
	l.lastHash = entry.RecordHash

	if err := l.crypto.Persist(core.AuditLogKey, l.entries); err != nil {
		l.log.Warn().Err(err).Msg("persisting audit log failed")
	}
	return entry
}

// Query returns entries sorted newest first. userID filters when non-empty;
// limit <= 0 means no limit.
func (l *Log) Query(userID string, limit int) []core.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []core.AuditLogEntry
	for _, e := range l.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify walks the retained window and checks every adjacent hash link.
// The oldest retained entry cannot be checked against its (pruned)
// predecessor, so verification starts at the second entry. Returns the
// number of verified links and false on the first broken one.
func (l *Log) Verify() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	verified := 0
	for i := 1; i < len(l.entries); i++ {
		expected := chainHash(l.entries[i-1].RecordHash, l.entries[i])
		if expected != l.entries[i].RecordHash {
			return false, verified
		}
		verified++
	}
	return true, verified
}

// chainHash links an entry to its predecessor:
// SHA-256(prevHash + timestamp + action + userID + resource + success + deviceID + metadata).
func chainHash(prevHash string, e core.AuditLogEntry) string {
	metaJSON, _ := json.Marshal(e.Metadata)
	data := prevHash +
		e.Timestamp.Format(time.RFC3339Nano) +
		e.Action +
		e.UserID +
		e.Resource +
		strconv.FormatBool(e.Success) +
		e.DeviceID +
		string(metaJSON)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// scrubMetadata redacts values stored under secret-looking keys so raw
// secrets never land in the audit trail.
func scrubMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if logging.IsSecretField(k) {
			out[k] = logging.RedactValue(v)
			continue
		}
		out[k] = v
	}
	return out
}
