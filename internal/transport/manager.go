// Package transport runs the two synchronization paths between the agent
// and the detection device: a fixed-interval pull loop for full alert
// snapshots and a persistent push subscription for low-latency event
// delivery. The push link reconnects forever with a fixed delay; the pull
// loop is the safety net that keeps the ledger converging while the push
// link is down.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scoutlink/internal/alerts"
	"scoutlink/internal/external"
	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// SnapshotSource is the pull surface of the device. The full alert client
// satisfies it.
type SnapshotSource interface {
	FetchAlerts(ctx context.Context) ([]types.DetectionEvent, error)
}

// EventSink receives fetched snapshots and pushed events. The event
// reconciler satisfies it.
type EventSink interface {
	MergeSnapshot(ctx context.Context, events []types.DetectionEvent) bool
	MergePush(ctx context.Context, event types.DetectionEvent) alerts.MergeOutcome
}

// ManagerConfig holds the dependencies and timing of the sync loops.
type ManagerConfig struct {
	Source SnapshotSource
	Dialer external.PushDialer
	Sink   EventSink

	// PullInterval is the period between snapshot fetches.
	PullInterval time.Duration
	// PullTimeout bounds one snapshot fetch. A fetch must never outlive
	// its tick and stack behind the next one.
	PullTimeout time.Duration
	// ReconnectDelay is the fixed wait between push reconnect attempts.
	ReconnectDelay time.Duration

	Metrics *alerts.SyncMetrics
	Clock   timeutil.Clock
	Logger  *slog.Logger
}

// Manager owns the pull loop and the push subscription state machine.
// Its link status is safe to read concurrently; registered listeners are
// notified on push state transitions only, not on routine pull updates.
type Manager struct {
	source SnapshotSource
	dialer external.PushDialer
	sink   EventSink

	pullInterval   time.Duration
	pullTimeout    time.Duration
	reconnectDelay time.Duration

	metrics *alerts.SyncMetrics
	clock   timeutil.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	status    types.LinkStatus
	listeners []types.LinkListener
}

// NewManager creates a transport manager. Source, Dialer, and Sink are
// required; zero timings fall back to the defaults the device contract was
// designed around (5s pull, 4s fetch bound, 3s reconnect).
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = 5 * time.Second
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 4 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = alerts.NewSyncMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		source:         cfg.Source,
		dialer:         cfg.Dialer,
		sink:           cfg.Sink,
		pullInterval:   cfg.PullInterval,
		pullTimeout:    cfg.PullTimeout,
		reconnectDelay: cfg.ReconnectDelay,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		status:         types.LinkStatus{PushState: types.LinkDisconnected},
	}
}

// AddLinkListener registers a listener for push state transitions. Call
// during wiring, before Run; listeners must not block.
func (m *Manager) AddLinkListener(l types.LinkListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns a copy of the current link status.
func (m *Manager) Status() types.LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run drives both sync loops until the context is cancelled. It always
// returns the cancellation cause; neither loop gives up on its own.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.pullLoop(ctx) })
	g.Go(func() error { return m.pushLoop(ctx) })
	return g.Wait()
}

// ----------------------------------------------------------------------------
// Pull loop
// ----------------------------------------------------------------------------

// pullLoop fetches a full snapshot immediately, then on every tick. A
// failed fetch is recorded and skipped; the next tick is the retry.
func (m *Manager) pullLoop(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.pullInterval)
	defer ticker.Stop()

	m.pullOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.pullOnce(ctx)
		}
	}
}

// pullOnce performs one bounded snapshot fetch and hands the result to the
// sink. The merge itself decides whether the ledger changes.
func (m *Manager) pullOnce(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, m.pullTimeout)
	events, err := m.source.FetchAlerts(fctx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.RecordPull(false)
		m.recordPull(false, err)
		m.logger.Warn("alert snapshot fetch failed", "error", err)
		return
	}

	m.metrics.RecordPull(true)
	m.recordPull(true, nil)
	m.sink.MergeSnapshot(ctx, events)
}

// recordPull updates the pull fields of the link status. Pull updates do
// not notify listeners; they are visible on the next status read.
func (m *Manager) recordPull(ok bool, err error) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastPullAt = &now
	m.status.LastPullOK = ok
	if err != nil {
		m.status.LastPullError = err.Error()
	} else {
		m.status.LastPullError = ""
	}
}

// ----------------------------------------------------------------------------
// Push subscription state machine
// ----------------------------------------------------------------------------

// pushLoop cycles the subscription through connecting, connected, and
// disconnected. Every failure path waits exactly one fixed delay and tries
// again; there is no backoff and no retry cap, because the device may be
// power-cycled in the field at any time and the agent must latch back on.
func (m *Manager) pushLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.setPushState(types.LinkConnecting)
		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("push subscription dial failed", "error", err)
			m.setPushState(types.LinkDisconnected)
			if !m.waitReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}

		m.setPushState(types.LinkConnected)
		m.logger.InfoContext(ctx, "push subscription established")

		err = m.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Warn("push subscription lost", "error", err)
		m.recordDisconnect()
		if !m.waitReconnect(ctx) {
			return ctx.Err()
		}
	}
}

// readLoop consumes events from one subscription until the link fails.
// Rejected payloads are counted and skipped without giving up the
// connection.
func (m *Manager) readLoop(ctx context.Context, conn external.PushConn) error {
	for {
		event, err := conn.ReadEvent(ctx)
		if err != nil {
			if external.IsRejectedPayload(err) {
				m.metrics.RecordPushDropped()
				m.logger.Warn("dropping rejected push payload", "error", err)
				continue
			}
			return err
		}
		m.sink.MergePush(ctx, event)
	}
}

// waitReconnect blocks for the fixed reconnect delay. Returns false when
// the context was cancelled before the delay elapsed.
func (m *Manager) waitReconnect(ctx context.Context) bool {
	timer := m.clock.NewTimer(m.reconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		m.metrics.RecordReconnect()
		return true
	}
}

// setPushState transitions the push state and notifies listeners. Setting
// the current state is a no-op so repeated failures do not re-notify.
func (m *Manager) setPushState(state types.LinkState) {
	m.mu.Lock()
	if m.status.PushState == state {
		m.mu.Unlock()
		return
	}
	m.status.PushState = state
	if state == types.LinkConnected {
		now := m.clock.Now().UTC()
		m.status.ConnectedAt = &now
	}
	status := m.status
	listeners := make([]types.LinkListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.LinkChanged(status)
	}
}

// recordDisconnect counts one lost established connection and moves the
// state to disconnected in a single notification.
func (m *Manager) recordDisconnect() {
	m.mu.Lock()
	m.status.Disconnects++
	m.status.PushState = types.LinkDisconnected
	status := m.status
	listeners := make([]types.LinkListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.LinkChanged(status)
	}
}
