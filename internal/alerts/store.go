// Package alerts holds the agent's alert ledger and the reconciler that
// merges device state into it. The store is the single source of truth for
// detection events; the reconciler is its only writer. Readers (API handlers,
// the stream hub) take consistent copies through the store's read methods.
package alerts

import (
	"log/slog"
	"sort"
	"sync"

	"scoutlink/internal/types"
)

// AlertStore is the in-memory event ledger, ordered most recent first.
// Mutating methods must only be called from the reconciler, which serializes
// them; read methods are safe from any goroutine. Every applied mutation
// bumps the revision and notifies registered listeners. A call that changes
// nothing leaves the revision alone so readers can detect real change.
type AlertStore struct {
	mu        sync.RWMutex
	events    []types.DetectionEvent
	revision  uint64
	listeners []types.ChangeListener
	logger    *slog.Logger
}

// NewAlertStore creates an empty ledger.
func NewAlertStore(logger *slog.Logger) *AlertStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertStore{logger: logger}
}

// AddListener registers a change listener. Must be called during wiring,
// before any goroutine mutates the store. Listeners must not block.
func (s *AlertStore) AddListener(l types.ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns a copy of the ledger, most recent first.
func (s *AlertStore) Snapshot() []types.DetectionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DetectionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// History returns the ledger copy together with the current revision and
// active count, taken under one lock so the three are consistent.
func (s *AlertStore) History() types.AlertHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]types.DetectionEvent, len(s.events))
	copy(events, s.events)
	return types.AlertHistory{
		Events:      events,
		Revision:    s.revision,
		ActiveCount: s.countActiveLocked(),
	}
}

// Revision returns the current store revision.
func (s *AlertStore) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// ActiveCount returns the number of unacknowledged events.
func (s *AlertStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked()
}

// HasEvent reports whether an event with the given ID is in the ledger.
func (s *AlertStore) HasEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ID == id {
			return true
		}
	}
	return false
}

// MatchesMembership reports whether the given event set has the same
// membership as the ledger: equal size and every incoming ID already
// present. Acknowledged flags and other fields are ignored; membership is
// what decides whether a pull snapshot replaces local state.
func (s *AlertStore) MatchesMembership(events []types.DetectionEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(events) != len(s.events) {
		return false
	}

	known := make(map[string]struct{}, len(s.events))
	for i := range s.events {
		known[s.events[i].ID] = struct{}{}
	}
	for i := range events {
		if _, ok := known[events[i].ID]; !ok {
			return false
		}
	}
	return true
}

// ReplaceAll discards the ledger and installs the given events, re-sorted
// most recent first. Callers decide whether replacement is warranted; the
// store applies it unconditionally and bumps the revision.
func (s *AlertStore) ReplaceAll(events []types.DetectionEvent, cause types.ChangeCause) types.StoreChange {
	replacement := make([]types.DetectionEvent, len(events))
	copy(replacement, events)
	sort.SliceStable(replacement, func(i, j int) bool {
		return replacement[i].OccurredAt.After(replacement[j].OccurredAt)
	})

	s.mu.Lock()
	s.events = replacement
	s.revision++
	change := s.changeLocked(cause, "")
	listeners := s.listenersLocked()
	s.mu.Unlock()

	publish(listeners, change)
	return change
}

// Prepend inserts a new event at the head of the ledger.
func (s *AlertStore) Prepend(event types.DetectionEvent) types.StoreChange {
	s.mu.Lock()
	s.events = append([]types.DetectionEvent{event}, s.events...)
	s.revision++
	change := s.changeLocked(types.ChangePush, event.ID)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	publish(listeners, change)
	return change
}

// Acknowledge marks one event inactive. Returns true when the event was
// active and is now acknowledged; false when it was already acknowledged
// (no revision bump). Returns a not-found error for unknown IDs.
func (s *AlertStore) Acknowledge(id string) (bool, error) {
	s.mu.Lock()

	idx := -1
	for i := range s.events {
		if s.events[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return false, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundEvent,
			"no event with that ID in the ledger",
			nil,
			map[string]interface{}{"id": id},
		)
	}

	if !s.events[idx].Active {
		s.mu.Unlock()
		return false, nil
	}

	s.events[idx].Active = false
	s.revision++
	change := s.changeLocked(types.ChangeAcknowledge, id)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	publish(listeners, change)
	return true, nil
}

// AcknowledgeAll marks every active event inactive. Returns the number of
// events that changed; zero means the revision was left alone.
func (s *AlertStore) AcknowledgeAll() int {
	s.mu.Lock()

	changed := 0
	for i := range s.events {
		if s.events[i].Active {
			s.events[i].Active = false
			changed++
		}
	}
	if changed == 0 {
		s.mu.Unlock()
		return 0
	}

	s.revision++
	change := s.changeLocked(types.ChangeDismissAll, "")
	listeners := s.listenersLocked()
	s.mu.Unlock()

	publish(listeners, change)
	return changed
}

// Clear empties the ledger. Returns the number of events removed; zero
// means the ledger was already empty and the revision was left alone.
func (s *AlertStore) Clear() int {
	s.mu.Lock()

	removed := len(s.events)
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}

	s.events = nil
	s.revision++
	change := s.changeLocked(types.ChangeClear, "")
	listeners := s.listenersLocked()
	s.mu.Unlock()

	publish(listeners, change)
	return removed
}

// countActiveLocked counts unacknowledged events. Callers hold s.mu.
func (s *AlertStore) countActiveLocked() int {
	n := 0
	for i := range s.events {
		if s.events[i].Active {
			n++
		}
	}
	return n
}

// changeLocked builds the StoreChange for the current state. Callers hold s.mu.
func (s *AlertStore) changeLocked(cause types.ChangeCause, eventID string) types.StoreChange {
	return types.StoreChange{
		Cause:       cause,
		Revision:    s.revision,
		EventCount:  len(s.events),
		ActiveCount: s.countActiveLocked(),
		EventID:     eventID,
	}
}

// listenersLocked copies the listener slice so publication can happen
// outside the store lock. Callers hold s.mu.
func (s *AlertStore) listenersLocked() []types.ChangeListener {
	out := make([]types.ChangeListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func publish(listeners []types.ChangeListener, change types.StoreChange) {
	for _, l := range listeners {
		l.StoreChanged(change)
	}
}
