package alerts

import "sync/atomic"

// SyncMetrics holds in-process counters for the synchronization pipeline.
// One instance is shared by the reconciler and the transport loops; all
// methods are safe for concurrent use. Counters reset when the agent
// restarts, which is acceptable for a field unit.
type SyncMetrics struct {
	pulls            atomic.Uint64
	pullFailures     atomic.Uint64
	snapshotsApplied atomic.Uint64
	snapshotsSkipped atomic.Uint64
	pushReceived     atomic.Uint64
	pushAccepted     atomic.Uint64
	pushDeduped      atomic.Uint64
	pushSuppressed   atomic.Uint64
	pushDropped      atomic.Uint64
	mutationsSent    atomic.Uint64
	mutationFailures atomic.Uint64
	reconnects       atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all sync counters.
type MetricsSnapshot struct {
	Pulls            uint64 `json:"pulls"`
	PullFailures     uint64 `json:"pull_failures"`
	SnapshotsApplied uint64 `json:"snapshots_applied"`
	SnapshotsSkipped uint64 `json:"snapshots_skipped"`
	PushReceived     uint64 `json:"push_received"`
	PushAccepted     uint64 `json:"push_accepted"`
	PushDeduped      uint64 `json:"push_deduped"`
	PushSuppressed   uint64 `json:"push_suppressed"`
	PushDropped      uint64 `json:"push_dropped"`
	MutationsSent    uint64 `json:"mutations_sent"`
	MutationFailures uint64 `json:"mutation_failures"`
	Reconnects       uint64 `json:"reconnects"`
}

// NewSyncMetrics creates a zeroed metrics set.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{}
}

// RecordPull counts one pull attempt and, when it failed, one pull failure.
func (m *SyncMetrics) RecordPull(ok bool) {
	m.pulls.Add(1)
	if !ok {
		m.pullFailures.Add(1)
	}
}

// RecordSnapshot counts one snapshot merge outcome: applied when the store
// was replaced, skipped when membership was unchanged.
func (m *SyncMetrics) RecordSnapshot(applied bool) {
	if applied {
		m.snapshotsApplied.Add(1)
	} else {
		m.snapshotsSkipped.Add(1)
	}
}

// RecordPushReceived counts one raw push message that parsed into an event.
func (m *SyncMetrics) RecordPushReceived() {
	m.pushReceived.Add(1)
}

// RecordPushOutcome counts the merge outcome of one pushed event.
func (m *SyncMetrics) RecordPushOutcome(outcome MergeOutcome) {
	switch outcome {
	case MergeAccepted:
		m.pushAccepted.Add(1)
	case MergeDuplicate:
		m.pushDeduped.Add(1)
	case MergeSuppressed:
		m.pushSuppressed.Add(1)
	}
}

// RecordPushDropped counts one push message discarded at the boundary
// (malformed JSON or failed validation).
func (m *SyncMetrics) RecordPushDropped() {
	m.pushDropped.Add(1)
}

// RecordMutationSent counts one mutation forwarded to the device.
func (m *SyncMetrics) RecordMutationSent() {
	m.mutationsSent.Add(1)
}

// RecordMutationFailure counts one remote mutation forward that failed.
// The local state is never rolled back; the counter is the only trace.
func (m *SyncMetrics) RecordMutationFailure() {
	m.mutationFailures.Add(1)
}

// RecordReconnect counts one push link reconnect attempt.
func (m *SyncMetrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// Snapshot returns a point-in-time copy of all counters.
func (m *SyncMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Pulls:            m.pulls.Load(),
		PullFailures:     m.pullFailures.Load(),
		SnapshotsApplied: m.snapshotsApplied.Load(),
		SnapshotsSkipped: m.snapshotsSkipped.Load(),
		PushReceived:     m.pushReceived.Load(),
		PushAccepted:     m.pushAccepted.Load(),
		PushDeduped:      m.pushDeduped.Load(),
		PushSuppressed:   m.pushSuppressed.Load(),
		PushDropped:      m.pushDropped.Load(),
		MutationsSent:    m.mutationsSent.Load(),
		MutationFailures: m.mutationFailures.Load(),
		Reconnects:       m.reconnects.Load(),
	}
}
