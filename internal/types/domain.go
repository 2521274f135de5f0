package types

import (
	"time"
)

// DetectionEvent is the core domain entity: one sensor-triggered incident
// tracked by the agent. Instances are owned exclusively by the alert store;
// everything outside the store works on copies.
type DetectionEvent struct {
	ID              string    `json:"id"`
	Kind            EventKind `json:"kind"`
	Confidence      float64   `json:"confidence"`
	PeakTemperature float64   `json:"peak_temperature"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	OccurredAt      time.Time `json:"occurred_at"`

	// Active is true while the event is unacknowledged. It transitions
	// true -> false exactly once (acknowledge); the reverse never happens.
	Active bool `json:"active"`
}

// Validate implements the Validator interface for DetectionEvent.
func (e *DetectionEvent) Validate() error {
	if e.ID == "" {
		return NewAppError(ErrCodeValidationMissingField, "event id is required", nil)
	}
	if !e.Kind.Valid() {
		return NewAppError(ErrCodeValidationInvalidKind, "unknown event kind: "+string(e.Kind), nil)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return NewAppError(ErrCodeValidationConfidenceRange, "confidence must be within [0,1]", nil)
	}
	if e.Lat < MinLat || e.Lat > MaxLat {
		return NewAppError(ErrCodeValidationInvalidLat, "latitude out of range", nil)
	}
	if e.Lon < MinLon || e.Lon > MaxLon {
		return NewAppError(ErrCodeValidationInvalidLon, "longitude out of range", nil)
	}
	if e.OccurredAt.IsZero() {
		return NewAppError(ErrCodeValidationInvalidTimestamp, "occurred_at is required", nil)
	}
	return nil
}

// AlertHistory is the read view of the alert ledger handed to the UI:
// the full event list most-recent-first, plus the store revision the
// view was taken at so clients can cheaply detect staleness.
type AlertHistory struct {
	Events      []DetectionEvent `json:"events"`
	Revision    uint64           `json:"revision"`
	ActiveCount int              `json:"active_count"`
}

// StoreChange describes one committed mutation of the alert ledger.
// Listeners (the stream hub, metrics) receive it after the mutation
// is visible to readers.
type StoreChange struct {
	Cause       ChangeCause `json:"cause"`
	Revision    uint64      `json:"revision"`
	EventCount  int         `json:"event_count"`
	ActiveCount int         `json:"active_count"`

	// EventID is set for single-event causes (push accept, acknowledge).
	EventID string `json:"event_id,omitempty"`
}

// ScanResult is one device row returned by the remote scanner, after
// boundary validation.
type ScanResult struct {
	Identifier  string  `json:"identifier"`
	DisplayName string  `json:"display_name,omitempty"`
	RSSI        float64 `json:"rssi"`
}

// TrackedSignal is one nearby wireless device under observation, as kept
// by the signal tracker. RawLevel is the latest scan sample; smoothing
// state lives in the proximity estimator, never here.
type TrackedSignal struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name,omitempty"`

	RawLevel  float64 `json:"raw_level"`
	PeakLevel float64 `json:"peak_level"`

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Observations int       `json:"observations"`
}

// SignalView is a TrackedSignal decorated with the derived fields the
// operator UI sorts and renders by. Derivation uses the shared quality
// table and the configured path-loss parameters.
type SignalView struct {
	TrackedSignal

	Quality        SignalQuality `json:"quality"`
	Bars           int           `json:"bars"`
	DistanceMeters float64       `json:"distance_meters"`
	Selected       bool          `json:"selected"`
}

// SignalStability summarizes the spread of the recent raw-sample window
// for the selected target. Advisory output only; it never feeds back
// into smoothing or distance.
type SignalStability struct {
	SampleCount int     `json:"sample_count"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	P5          float64 `json:"p5"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
}

// ProximityReading is the estimator output for the selected target.
type ProximityReading struct {
	Identifier     string        `json:"identifier"`
	DisplayName    string        `json:"display_name,omitempty"`
	RawLevel       float64       `json:"raw_level"`
	SmoothedLevel  float64       `json:"smoothed_level"`
	DistanceMeters float64       `json:"distance_meters"`
	Quality        SignalQuality `json:"quality"`
	Bars           int           `json:"bars"`

	Stability *SignalStability `json:"stability,omitempty"`
}

// LinkStatus is a point-in-time view of the transport layer.
type LinkStatus struct {
	PushState   LinkState  `json:"push_state"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Disconnects int64      `json:"disconnects"`

	LastPullAt    *time.Time `json:"last_pull_at,omitempty"`
	LastPullOK    bool       `json:"last_pull_ok"`
	LastPullError string     `json:"last_pull_error,omitempty"`
}
