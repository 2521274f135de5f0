// Package proximity turns raw beacon sweeps into a tracked signal set and,
// for one operator-selected signal, a smoothed distance estimate. Raw scan
// levels are too jittery to range on directly; the estimator runs an
// exponential moving average on a fixed tick and feeds the log-distance
// path loss model from the smoothed level.
package proximity

import (
	"sort"
	"sync"
	"time"

	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// SignalTracker maintains the set of beacon signals seen by recent sweeps.
// Entries carry first/last sighting times, an observation count, and a peak
// level that never weakens. All methods are safe for concurrent use;
// returned values are copies.
type SignalTracker struct {
	mu      sync.RWMutex
	signals map[string]*types.TrackedSignal
	clock   timeutil.Clock
}

// NewSignalTracker creates an empty tracker.
func NewSignalTracker(clock timeutil.Clock) *SignalTracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SignalTracker{
		signals: make(map[string]*types.TrackedSignal),
		clock:   clock,
	}
}

// ObserveSweep records every signal of one sweep. Signals absent from the
// sweep keep their last known state until pruned.
func (t *SignalTracker) ObserveSweep(results []types.ScanResult) {
	now := t.clock.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range results {
		t.observeLocked(results[i], now)
	}
}

// Observe records a single sighting.
func (t *SignalTracker) Observe(result types.ScanResult) {
	now := t.clock.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.observeLocked(result, now)
}

func (t *SignalTracker) observeLocked(result types.ScanResult, now time.Time) {
	info, ok := t.signals[result.Identifier]
	if !ok {
		t.signals[result.Identifier] = &types.TrackedSignal{
			Identifier:   result.Identifier,
			DisplayName:  result.DisplayName,
			RawLevel:     result.RSSI,
			PeakLevel:    result.RSSI,
			FirstSeen:    now,
			LastSeen:     now,
			Observations: 1,
		}
		return
	}

	info.RawLevel = result.RSSI
	info.LastSeen = now
	info.Observations++
	if result.RSSI > info.PeakLevel {
		info.PeakLevel = result.RSSI
	}
	// Sweeps may omit the advertised name; keep the last one seen.
	if result.DisplayName != "" {
		info.DisplayName = result.DisplayName
	}
}

// Get returns a copy of one tracked signal.
func (t *SignalTracker) Get(identifier string) (types.TrackedSignal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.signals[identifier]
	if !ok {
		return types.TrackedSignal{}, false
	}
	return *info, true
}

// Snapshot returns all tracked signals, strongest current level first.
func (t *SignalTracker) Snapshot() []types.TrackedSignal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.TrackedSignal, 0, len(t.signals))
	for _, info := range t.signals {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RawLevel != out[j].RawLevel {
			return out[i].RawLevel > out[j].RawLevel
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// Count returns the number of tracked signals.
func (t *SignalTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.signals)
}

// Prune drops signals not seen within the retention window. The spared
// identifier survives regardless, so an operator's selection never
// vanishes out from under them between sightings.
func (t *SignalTracker) Prune(retention time.Duration, spare string) int {
	cutoff := t.clock.Now().UTC().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, info := range t.signals {
		if id == spare {
			continue
		}
		if info.LastSeen.Before(cutoff) {
			delete(t.signals, id)
			pruned++
		}
	}
	return pruned
}
