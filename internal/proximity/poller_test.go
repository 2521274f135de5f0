package proximity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scoutlink/internal/external"
	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// Both scanner implementations must satisfy the sweep surface.
var (
	_ Scanner = (*external.ScannerHTTPClient)(nil)
	_ Scanner = (*external.DemoDeviceSim)(nil)
)

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeScanner returns a fixed sweep, with an optional error script
// consumed first. Every Scan call signals the sweeps channel.
type fakeScanner struct {
	mu      sync.Mutex
	results []types.ScanResult
	script  []error
	calls   int

	sweeps chan struct{}
}

func newFakeScanner(results ...types.ScanResult) *fakeScanner {
	return &fakeScanner{
		results: results,
		sweeps:  make(chan struct{}, 16),
	}
}

func (s *fakeScanner) Scan(ctx context.Context) ([]types.ScanResult, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.script) > 0 {
		err = s.script[0]
		s.script = s.script[1:]
	}
	results := append([]types.ScanResult(nil), s.results...)
	s.mu.Unlock()

	s.sweeps <- struct{}{}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *fakeScanner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeScanner) waitSweep(t *testing.T) {
	t.Helper()
	select {
	case <-s.sweeps:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sweep")
	}
}

type pollerHarness struct {
	poller    *ScanPoller
	scanner   *fakeScanner
	tracker   *SignalTracker
	estimator *Estimator
	clock     *timeutil.MockClock
}

func newPollerHarness(scanner *fakeScanner) *pollerHarness {
	clock := timeutil.NewMockClock(trackerTestBase)
	tracker := NewSignalTracker(clock)
	est := NewEstimator(EstimatorConfig{
		Tracker: tracker,
		Clock:   clock,
		Logger:  discardLogger(),
	})
	poller := NewScanPoller(PollerConfig{
		Scanner:   scanner,
		Tracker:   tracker,
		Estimator: est,
		Interval:  2 * time.Second,
		Retention: 60 * time.Second,
		Clock:     clock,
		Logger:    discardLogger(),
	})
	return &pollerHarness{
		poller:    poller,
		scanner:   scanner,
		tracker:   tracker,
		estimator: est,
		clock:     clock,
	}
}

// start launches the sweep loop and stops it on test cleanup.
func (h *pollerHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.poller.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scan poller did not stop")
		}
	})
}

func TestPollerSweepsImmediatelyThenOnTicks(t *testing.T) {
	scanner := newFakeScanner(scanRow("bcn-4f21", "Rescue Beacon 12", -58))
	h := newPollerHarness(scanner)
	h.start(t)

	scanner.waitSweep(t)
	h.clock.Advance(2 * time.Second)
	scanner.waitSweep(t)
	h.clock.Advance(2 * time.Second)
	scanner.waitSweep(t)

	if got := scanner.callCount(); got != 3 {
		t.Fatalf("scanner called %d times, want 3", got)
	}
	eventually(t, func() bool {
		info, ok := h.tracker.Get("bcn-4f21")
		return ok && info.Observations == 3
	}, "tracker never recorded all three sweeps")
}

func TestPollerFailedSweepIsSkipped(t *testing.T) {
	scanner := newFakeScanner(scanRow("bcn-4f21", "Rescue Beacon 12", -58))
	scanner.script = []error{errors.New("scanner offline")}
	h := newPollerHarness(scanner)
	h.start(t)

	scanner.waitSweep(t)
	if got := h.tracker.Count(); got != 0 {
		t.Fatalf("tracker holds %d signals after a failed sweep, want 0", got)
	}

	h.clock.Advance(2 * time.Second)
	scanner.waitSweep(t)
	eventually(t, func() bool {
		_, ok := h.tracker.Get("bcn-4f21")
		return ok
	}, "tracker never recovered after the failed sweep")
}

func TestPollerFeedsSelectedSignalToEstimator(t *testing.T) {
	scanner := newFakeScanner(scanRow("bcn-4f21", "Rescue Beacon 12", -55))
	h := newPollerHarness(scanner)

	h.tracker.Observe(scanRow("bcn-4f21", "Rescue Beacon 12", -75))
	if err := h.estimator.Select("bcn-4f21"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	h.start(t)
	scanner.waitSweep(t)

	eventually(t, func() bool {
		reading, err := h.estimator.Reading()
		return err == nil && reading.RawLevel == -55
	}, "estimator never saw the sweep sample")

	reading, _ := h.estimator.Reading()
	if reading.SmoothedLevel != -75 {
		t.Errorf("SmoothedLevel = %v, want the seed -75 until a tick runs", reading.SmoothedLevel)
	}
	if reading.Stability == nil || reading.Stability.SampleCount != 2 {
		t.Error("expected the sweep sample to join the stability window")
	}
}

func TestPollerPrunesStaleSignalsButSparesSelection(t *testing.T) {
	scanner := newFakeScanner(scanRow("relay-19", "Field Relay", -47))
	h := newPollerHarness(scanner)

	h.tracker.Observe(scanRow("bcn-4f21", "Rescue Beacon 12", -58))
	h.tracker.Observe(scanRow("tag-0c55", "", -84))
	if err := h.estimator.Select("bcn-4f21"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	h.clock.Advance(61 * time.Second)

	h.start(t)
	scanner.waitSweep(t)

	eventually(t, func() bool {
		_, ok := h.tracker.Get("relay-19")
		return ok
	}, "sweep result never reached the tracker")

	if _, ok := h.tracker.Get("tag-0c55"); ok {
		t.Error("stale unselected signal survived the sweep's prune")
	}
	if _, ok := h.tracker.Get("bcn-4f21"); !ok {
		t.Error("selected signal was pruned while stale")
	}
}

func TestPollerLastSweepTracksOutcome(t *testing.T) {
	scanner := newFakeScanner(scanRow("bcn-4f21", "Rescue Beacon 12", -58))
	scanner.script = []error{errors.New("scanner offline")}
	h := newPollerHarness(scanner)

	if at, _ := h.poller.LastSweep(); !at.IsZero() {
		t.Fatalf("LastSweep before any sweep = %v, want zero time", at)
	}

	h.start(t)
	scanner.waitSweep(t)

	eventually(t, func() bool {
		_, err := h.poller.LastSweep()
		return err != nil
	}, "failed sweep never recorded")
	if at, _ := h.poller.LastSweep(); !at.Equal(trackerTestBase) {
		t.Errorf("LastSweep time = %v, want %v", at, trackerTestBase)
	}

	h.clock.Advance(2 * time.Second)
	scanner.waitSweep(t)

	eventually(t, func() bool {
		_, err := h.poller.LastSweep()
		return err == nil
	}, "recovered sweep never cleared the error")
	if at, _ := h.poller.LastSweep(); !at.Equal(trackerTestBase.Add(2*time.Second)) {
		t.Errorf("LastSweep time = %v, want the tick time", at)
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	scanner := newFakeScanner()
	h := newPollerHarness(scanner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	scanner.waitSweep(t)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
