package external

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// demoLedgerCap bounds the simulated device's event history.
const demoLedgerCap = 50

// DemoSimConfig holds the settings for the simulated device.
type DemoSimConfig struct {
	// OriginLat and OriginLon anchor the area synthetic events appear in.
	OriginLat float64
	OriginLon float64

	// EmitInterval is how often a new synthetic event is generated.
	EmitInterval time.Duration

	// Seed fixes the random sequence. Zero seeds from the current time.
	Seed uint64

	// Clock drives the emit loop. Defaults to the wall clock.
	Clock timeutil.Clock

	// Logger for emitted events.
	Logger *slog.Logger
}

// DemoDeviceSim is an in-process stand-in for the detection device. It
// serves pull snapshots, pushes synthetic events to subscribers, answers
// signal sweeps with random-walk levels, and applies mutations to its own
// ledger, so the agent behaves the same against it as against hardware.
//
// One sim instance backs all three device surfaces; the zero value is not
// usable, construct with NewDemoDeviceSim.
type DemoDeviceSim struct {
	originLat    float64
	originLon    float64
	emitInterval time.Duration
	clock        timeutil.Clock
	logger       *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	events  []demoEvent
	signals []demoSignal
	subs    map[*demoPushConn]struct{}
}

type demoEvent struct {
	event        types.DetectionEvent
	acknowledged bool
}

type demoSignal struct {
	identifier  string
	displayName string
	level       float64
}

// NewDemoDeviceSim creates a simulated device seeded with a couple of
// historical events and a fixed set of beacons near the origin.
func NewDemoDeviceSim(cfg DemoSimConfig) *DemoDeviceSim {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	s := &DemoDeviceSim{
		originLat:    cfg.OriginLat,
		originLon:    cfg.OriginLon,
		emitInterval: cfg.EmitInterval,
		clock:        clock,
		logger:       logger,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		subs:         make(map[*demoPushConn]struct{}),
	}
	s.seedState()
	return s
}

// seedState preloads the ledger and beacon set so the first pull and sweep
// already have content.
func (s *DemoDeviceSim) seedState() {
	now := s.clock.Now().UTC()
	s.events = []demoEvent{
		{event: s.makeEvent(types.KindLife, now.Add(-3*time.Minute))},
		{event: s.makeEvent(types.KindFire, now.Add(-90*time.Second))},
	}
	s.signals = []demoSignal{
		{identifier: "bcn-4f21", displayName: "Rescue Beacon 12", level: -58},
		{identifier: "bcn-a803", displayName: "Rescue Beacon 7", level: -71},
		{identifier: "tag-0c55", displayName: "", level: -84},
		{identifier: "relay-19", displayName: "Field Relay", level: -47},
	}
}

// Run emits synthetic events until the context is cancelled. Each emitted
// event lands in the sim's own ledger and is pushed to all subscribers,
// mirroring a device that both persists and broadcasts detections.
func (s *DemoDeviceSim) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.emitInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "demo device simulation started",
		"emit_interval", s.emitInterval.String(),
		"origin_lat", s.originLat,
		"origin_lon", s.originLon,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.emit(ctx)
		}
	}
}

// emit creates one synthetic event, stores it, and broadcasts it.
func (s *DemoDeviceSim) emit(ctx context.Context) {
	s.mu.Lock()
	kind := s.pickKind()
	event := s.makeEvent(kind, s.clock.Now().UTC())
	s.events = append(s.events, demoEvent{event: event})
	if len(s.events) > demoLedgerCap {
		s.events = s.events[len(s.events)-demoLedgerCap:]
	}
	conns := make([]*demoPushConn, 0, len(s.subs))
	for conn := range s.subs {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "demo event emitted",
		"id", event.ID,
		"kind", string(event.Kind),
		"subscribers", len(conns),
	)

	for _, conn := range conns {
		conn.deliver(event)
	}
}

// makeEvent builds a synthetic detection near the origin. Callers hold s.mu
// except during construction.
func (s *DemoDeviceSim) makeEvent(kind types.EventKind, at time.Time) types.DetectionEvent {
	return types.DetectionEvent{
		ID:              "evt_" + uuid.NewString(),
		Kind:            kind,
		Confidence:      0.55 + s.rng.Float64()*0.43,
		PeakTemperature: s.peakTemperature(kind),
		Lat:             s.originLat + (s.rng.Float64()-0.5)*0.02,
		Lon:             s.originLon + (s.rng.Float64()-0.5)*0.02,
		OccurredAt:      at,
		Active:          true,
	}
}

func (s *DemoDeviceSim) pickKind() types.EventKind {
	switch roll := s.rng.Float64(); {
	case roll < 0.30:
		return types.KindLife
	case roll < 0.60:
		return types.KindFire
	case roll < 0.85:
		return types.KindVehicle
	default:
		return types.KindOther
	}
}

func (s *DemoDeviceSim) peakTemperature(kind types.EventKind) float64 {
	switch kind {
	case types.KindLife:
		return 36 + s.rng.Float64()*3
	case types.KindFire:
		return 90 + s.rng.Float64()*310
	case types.KindVehicle:
		return 40 + s.rng.Float64()*50
	default:
		return 25 + s.rng.Float64()*35
	}
}

// ----------------------------------------------------------------------------
// AlertService
// ----------------------------------------------------------------------------

// FetchAlerts returns the sim's current ledger as a pull snapshot.
func (s *DemoDeviceSim) FetchAlerts(_ context.Context) ([]types.DetectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.DetectionEvent, 0, len(s.events))
	for _, entry := range s.events {
		event := entry.event
		event.Active = !entry.acknowledged
		out = append(out, event)
	}
	return out, nil
}

// Acknowledge marks one simulated event acknowledged. Unknown IDs fail the
// same way the real device does.
func (s *DemoDeviceSim) Acknowledge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].event.ID == id {
			s.events[i].acknowledged = true
			return nil
		}
	}
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent, "no event with that ID on the device", nil,
		map[string]any{"id": id})
}

// AcknowledgeAll marks every simulated event acknowledged.
func (s *DemoDeviceSim) AcknowledgeAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		s.events[i].acknowledged = true
	}
	return nil
}

// Clear empties the simulated ledger.
func (s *DemoDeviceSim) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	return nil
}

// ----------------------------------------------------------------------------
// SignalScanner
// ----------------------------------------------------------------------------

// Scan answers one sweep. Levels random-walk a few dB per sweep and each
// beacon occasionally drops out of range for a sweep, so downstream
// smoothing and retention see realistic input.
func (s *DemoDeviceSim) Scan(_ context.Context) ([]types.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ScanResult, 0, len(s.signals))
	for i := range s.signals {
		sig := &s.signals[i]
		sig.level += (s.rng.Float64() - 0.5) * 4
		if sig.level > -35 {
			sig.level = -35
		}
		if sig.level < -95 {
			sig.level = -95
		}
		if s.rng.Float64() < 0.05 {
			continue
		}
		out = append(out, types.ScanResult{
			Identifier:  sig.identifier,
			DisplayName: sig.displayName,
			RSSI:        sig.level,
		})
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// PushDialer
// ----------------------------------------------------------------------------

// Dial subscribes to the sim's event broadcast. The returned connection
// receives every event emitted after this call.
func (s *DemoDeviceSim) Dial(_ context.Context) (PushConn, error) {
	conn := &demoPushConn{
		sim:    s,
		ch:     make(chan types.DetectionEvent, 8),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()

	return conn, nil
}

func (s *DemoDeviceSim) unsubscribe(conn *demoPushConn) {
	s.mu.Lock()
	delete(s.subs, conn)
	s.mu.Unlock()
}

var (
	_ AlertService  = (*DemoDeviceSim)(nil)
	_ SignalScanner = (*DemoDeviceSim)(nil)
	_ PushDialer    = (*DemoDeviceSim)(nil)
)

// demoPushConn is a subscription to the sim's broadcast.
type demoPushConn struct {
	sim *DemoDeviceSim
	ch  chan types.DetectionEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// deliver hands an event to the subscriber, dropping it when the reader
// is too far behind.
func (c *demoPushConn) deliver(event types.DetectionEvent) {
	select {
	case c.ch <- event:
	case <-c.closed:
	default:
	}
}

// ReadEvent blocks for the next simulated event.
func (c *demoPushConn) ReadEvent(ctx context.Context) (types.DetectionEvent, error) {
	select {
	case <-ctx.Done():
		return types.DetectionEvent{}, ctx.Err()
	case <-c.closed:
		return types.DetectionEvent{}, types.NewAppError(types.ErrCodeUpstreamDevice, "push subscription lost", nil)
	case event := <-c.ch:
		return event, nil
	}
}

// Close unsubscribes from the broadcast.
func (c *demoPushConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.sim.unsubscribe(c)
	})
	return nil
}

var _ PushConn = (*demoPushConn)(nil)
