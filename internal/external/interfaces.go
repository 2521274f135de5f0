package external

import (
	"context"

	"scoutlink/internal/types"
)

// ---------------------------------------------------------------------------
// Alert Service (detection device)
// ---------------------------------------------------------------------------

// AlertService abstracts the detection device's alert endpoints.
// Implementations translate between the device's wire payloads and domain
// events, so the sync layer never sees raw device JSON.
type AlertService interface {
	// FetchAlerts retrieves the device's full alert snapshot.
	// Invalid entries are dropped during conversion; the returned slice
	// contains only events that passed boundary validation.
	FetchAlerts(ctx context.Context) ([]types.DetectionEvent, error)

	// Acknowledge marks a single alert as acknowledged on the device.
	Acknowledge(ctx context.Context, id string) error

	// AcknowledgeAll marks every alert as acknowledged on the device.
	AcknowledgeAll(ctx context.Context) error

	// Clear removes all alerts from the device's ledger.
	Clear(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Signal Scanner (beacon radio)
// ---------------------------------------------------------------------------

// SignalScanner abstracts the device's beacon scan endpoint. One call returns
// the set of signals visible during the most recent radio sweep.
type SignalScanner interface {
	// Scan retrieves the currently visible beacon signals. Entries that fail
	// boundary validation are dropped; the rest are returned as-is, unsorted.
	Scan(ctx context.Context) ([]types.ScanResult, error)
}
