package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityMetadata is the detail payload of a SuspiciousActivity. Each
// detection rule has its own variant carrying only the fields that rule
// needs; the Kind discriminator makes handling exhaustive and keeps the
// JSON round-trippable.
type ActivityMetadata interface {
	Kind() string
}

const (
	MetaLoginBurst      = "login_burst"
	MetaDeviceDiversity = "device_diversity"
	MetaUnusualDevice   = "unusual_device"
	MetaUnusualHour     = "unusual_hour"
	MetaRapidRequests   = "rapid_requests"
	MetaDataAccess      = "data_access"
)

// LoginBurstDetail reports a failed-login burst inside the trailing window.
type LoginBurstDetail struct {
	FailedCount int           `json:"failed_count"`
	Window      time.Duration `json:"window"`
}

func (LoginBurstDetail) Kind() string { return MetaLoginBurst }

// DeviceDiversityDetail reports too many distinct devices in 24 hours.
type DeviceDiversityDetail struct {
	DeviceCount int      `json:"device_count"`
	Devices     []string `json:"devices"`
}

func (DeviceDiversityDetail) Kind() string { return MetaDeviceDiversity }

// UnusualDeviceDetail reports a device outside the identity's baseline.
type UnusualDeviceDetail struct {
	DeviceID     string   `json:"device_id"`
	KnownDevices []string `json:"known_devices"`
}

func (UnusualDeviceDetail) Kind() string { return MetaUnusualDevice }

// UnusualHourDetail reports a login hour outside the learned hours.
type UnusualHourDetail struct {
	Hour         int   `json:"hour"`
	TypicalHours []int `json:"typical_hours"`
}

func (UnusualHourDetail) Kind() string { return MetaUnusualHour }

// RapidRequestDetail reports a request burst against one endpoint.
type RapidRequestDetail struct {
	Endpoint     string `json:"endpoint"`
	RequestCount int    `json:"request_count"`
	DeviceID     string `json:"device_id,omitempty"`
}

func (RapidRequestDetail) Kind() string { return MetaRapidRequests }

// DataAccessDetail reports repeated access to one sensitive resource class.
type DataAccessDetail struct {
	Resource    string `json:"resource"`
	AccessCount int    `json:"access_count"`
}

func (DataAccessDetail) Kind() string { return MetaDataAccess }

// suspiciousActivityJSON is the wire form: the metadata variant is stored
// alongside its kind so decoding can pick the right type back.
type suspiciousActivityJSON struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	ActivityType ActivityType    `json:"activity_type"`
	Severity     Severity        `json:"severity"`
	Timestamp    time.Time       `json:"timestamp"`
	MetadataKind string          `json:"metadata_kind,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Resolved     bool            `json:"resolved"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy   string          `json:"resolved_by,omitempty"`
	Actions      []string        `json:"actions,omitempty"`
}

// MarshalJSON encodes the activity with its tagged metadata variant.
func (a SuspiciousActivity) MarshalJSON() ([]byte, error) {
	out := suspiciousActivityJSON{
		ID:           a.ID,
		UserID:       a.UserID,
		ActivityType: a.ActivityType,
		Severity:     a.Severity,
		Timestamp:    a.Timestamp,
		Resolved:     a.Resolved,
		ResolvedAt:   a.ResolvedAt,
		ResolvedBy:   a.ResolvedBy,
		Actions:      a.Actions,
	}
	if a.Metadata != nil {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling activity metadata: %w", err)
		}
		out.MetadataKind = a.Metadata.Kind()
		out.Metadata = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the activity, restoring the concrete metadata type
// from its kind tag.
func (a *SuspiciousActivity) UnmarshalJSON(data []byte) error {
	var in suspiciousActivityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.ID = in.ID
	a.UserID = in.UserID
	a.ActivityType = in.ActivityType
	a.Severity = in.Severity
	a.Timestamp = in.Timestamp
	a.Resolved = in.Resolved
	a.ResolvedAt = in.ResolvedAt
	a.ResolvedBy = in.ResolvedBy
	a.Actions = in.Actions
	a.Metadata = nil

	if in.MetadataKind == "" {
		return nil
	}
	meta, err := decodeMetadata(in.MetadataKind, in.Metadata)
	if err != nil {
		return err
	}
	a.Metadata = meta
	return nil
}

func decodeMetadata(kind string, raw json.RawMessage) (ActivityMetadata, error) {
	switch kind {
	case MetaLoginBurst:
		var m LoginBurstDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetaDeviceDiversity:
		var m DeviceDiversityDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetaUnusualDevice:
		var m UnusualDeviceDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetaUnusualHour:
		var m UnusualHourDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetaRapidRequests:
		var m RapidRequestDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetaDataAccess:
		var m DataAccessDetail
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown activity metadata kind: %q", kind)
	}
}
