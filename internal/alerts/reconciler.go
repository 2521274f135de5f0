package alerts

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"scoutlink/internal/types"
)

// Near-duplicate suppression parameters. A pushed event is treated as a
// repeat sighting of a prior ACTIVE event of the same kind when both
// coordinate deltas are inside the radius and it occurred less than the
// window after the prior event.
const (
	suppressionRadiusDeg = 0.0005
	suppressionWindow    = 30 * time.Second
)

// remoteForwardTimeout bounds a background mutation forward, including the
// client's own retries.
const remoteForwardTimeout = 30 * time.Second

// MergeOutcome describes what happened to a pushed event.
type MergeOutcome int

const (
	// MergeAccepted means the event was new and was prepended to the ledger.
	MergeAccepted MergeOutcome = iota
	// MergeDuplicate means an event with the same ID is already in the ledger.
	MergeDuplicate
	// MergeSuppressed means the event was dropped as a repeat sighting of a
	// nearby recent active event of the same kind.
	MergeSuppressed
)

// String returns the outcome name for logs.
func (o MergeOutcome) String() string {
	switch o {
	case MergeAccepted:
		return "accepted"
	case MergeDuplicate:
		return "duplicate"
	case MergeSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// MutationForwarder is the minimal device surface the reconciler needs to
// propagate acknowledged state. The full alert client satisfies it.
type MutationForwarder interface {
	// Acknowledge marks a single alert as acknowledged on the device.
	Acknowledge(ctx context.Context, id string) error

	// AcknowledgeAll marks every alert as acknowledged on the device.
	AcknowledgeAll(ctx context.Context) error

	// Clear removes all alerts from the device's ledger.
	Clear(ctx context.Context) error
}

// EventReconciler is the single writer of the alert ledger. It decides
// whether pull snapshots replace local state, runs pushed events through
// dedupe and suppression, and applies operator mutations locally before
// forwarding them to the device.
//
// All entry points serialize on one mutex, so merge decisions read a stable
// ledger. Remote forwards run in the background: local state is applied
// first and never rolled back when the device call fails.
type EventReconciler struct {
	mu      sync.Mutex
	store   *AlertStore
	remote  MutationForwarder
	metrics *SyncMetrics
	logger  *slog.Logger
}

// NewEventReconciler creates a reconciler writing to the given store and
// forwarding mutations to the given device surface.
func NewEventReconciler(store *AlertStore, remote MutationForwarder, metrics *SyncMetrics, logger *slog.Logger) *EventReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewSyncMetrics()
	}
	return &EventReconciler{
		store:   store,
		remote:  remote,
		metrics: metrics,
		logger:  logger,
	}
}

// History returns the ledger read view. Reads go straight to the store;
// the reconciler mutex is for writers only.
func (r *EventReconciler) History() types.AlertHistory {
	return r.store.History()
}

// MergeSnapshot reconciles a pulled device snapshot with the ledger.
// The snapshot replaces local state only when membership changed: a
// different event count, or any incoming ID the ledger does not know.
// An unchanged snapshot leaves the revision alone, so pull ticks are
// idempotent between real changes. Returns true when the ledger was
// replaced.
func (r *EventReconciler) MergeSnapshot(ctx context.Context, events []types.DetectionEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store.MatchesMembership(events) {
		r.metrics.RecordSnapshot(false)
		return false
	}

	change := r.store.ReplaceAll(events, types.ChangeSnapshot)
	r.metrics.RecordSnapshot(true)
	r.logger.InfoContext(ctx, "alert snapshot replaced ledger",
		"events", change.EventCount,
		"active", change.ActiveCount,
		"revision", change.Revision,
	)
	return true
}

// MergePush reconciles one pushed event with the ledger in three steps:
// exact-ID dedupe, then near-duplicate suppression against active events,
// then prepend as active. The outcome is returned for callers that track
// per-outcome counters of their own.
func (r *EventReconciler) MergePush(ctx context.Context, event types.DetectionEvent) MergeOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.RecordPushReceived()

	outcome := r.classifyPush(event)
	switch outcome {
	case MergeDuplicate:
		r.logger.InfoContext(ctx, "pushed event already in ledger",
			"id", event.ID,
		)
	case MergeSuppressed:
		r.logger.InfoContext(ctx, "pushed event suppressed as repeat sighting",
			"id", event.ID,
			"kind", string(event.Kind),
		)
	case MergeAccepted:
		event.Active = true
		change := r.store.Prepend(event)
		r.logger.InfoContext(ctx, "pushed event added to ledger",
			"id", event.ID,
			"kind", string(event.Kind),
			"confidence", event.Confidence,
			"revision", change.Revision,
		)
	}

	r.metrics.RecordPushOutcome(outcome)
	return outcome
}

// classifyPush runs the dedupe and suppression checks. Callers hold r.mu.
func (r *EventReconciler) classifyPush(event types.DetectionEvent) MergeOutcome {
	if r.store.HasEvent(event.ID) {
		return MergeDuplicate
	}

	for _, prior := range r.store.Snapshot() {
		if !prior.Active || prior.Kind != event.Kind {
			continue
		}
		if math.Abs(event.Lat-prior.Lat) >= suppressionRadiusDeg {
			continue
		}
		if math.Abs(event.Lon-prior.Lon) >= suppressionRadiusDeg {
			continue
		}
		if event.OccurredAt.Sub(prior.OccurredAt) < suppressionWindow {
			return MergeSuppressed
		}
	}

	return MergeAccepted
}

// Acknowledge marks one event acknowledged locally, then forwards the
// acknowledgement to the device in the background. Unknown IDs return a
// not-found error and nothing is forwarded. Re-acknowledging is a local
// no-op but is still forwarded, since the device may be behind.
func (r *EventReconciler) Acknowledge(ctx context.Context, id string) error {
	r.mu.Lock()
	changed, err := r.store.Acknowledge(id)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if changed {
		r.logger.InfoContext(ctx, "event acknowledged", "id", id)
	}

	r.metrics.RecordMutationSent()
	r.forward(ctx, "acknowledge", func(fctx context.Context) error {
		return r.remote.Acknowledge(fctx, id)
	})
	return nil
}

// DismissAll acknowledges every active event locally, then forwards the
// bulk acknowledgement to the device in the background. Returns how many
// events changed locally.
func (r *EventReconciler) DismissAll(ctx context.Context) int {
	r.mu.Lock()
	changed := r.store.AcknowledgeAll()
	r.mu.Unlock()

	if changed > 0 {
		r.logger.InfoContext(ctx, "all active events dismissed", "count", changed)
	}

	r.metrics.RecordMutationSent()
	r.forward(ctx, "dismiss-all", func(fctx context.Context) error {
		return r.remote.AcknowledgeAll(fctx)
	})
	return changed
}

// Clear empties the ledger locally, then forwards the clear to the device
// in the background. Returns how many events were removed locally.
func (r *EventReconciler) Clear(ctx context.Context) int {
	r.mu.Lock()
	removed := r.store.Clear()
	r.mu.Unlock()

	if removed > 0 {
		r.logger.InfoContext(ctx, "event history cleared", "removed", removed)
	}

	r.metrics.RecordMutationSent()
	r.forward(ctx, "clear", func(fctx context.Context) error {
		return r.remote.Clear(fctx)
	})
	return removed
}

// forward runs a device mutation in the background. The forward inherits
// the caller's context values (trace ID) but not its cancellation, so an
// operator disconnecting does not abort the device call. Failures are
// counted and logged; local state stays as applied.
func (r *EventReconciler) forward(ctx context.Context, operation string, call func(context.Context) error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteForwardTimeout)
	go func() {
		defer cancel()
		if err := call(fctx); err != nil {
			r.metrics.RecordMutationFailure()
			r.logger.Error("device mutation forward failed",
				"operation", operation,
				"error", err,
			)
		}
	}()
}
