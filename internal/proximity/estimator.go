package proximity

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// EstimateDistance converts a signal level to meters with the log-distance
// path loss model: 10^((txPowerRef - level) / (10 * pathLossExponent)).
// txPowerRef is the expected level at one meter.
func EstimateDistance(level, txPowerRef, pathLossExponent float64) float64 {
	return math.Pow(10, (txPowerRef-level)/(10*pathLossExponent))
}

// EstimatorConfig holds the smoothing and ranging parameters.
type EstimatorConfig struct {
	Tracker *SignalTracker

	// SmoothingTick is the fixed period of the smoothing step.
	SmoothingTick time.Duration
	// SmoothingAlpha is the EWMA weight of each step.
	SmoothingAlpha float64

	// TxPowerRef is the expected level (dBm) at one meter.
	TxPowerRef float64
	// PathLossExponent models the environment's signal decay.
	PathLossExponent float64

	// StabilityWindow is how many raw samples feed the spread statistics.
	StabilityWindow int

	Clock  timeutil.Clock
	Logger *slog.Logger
}

// Estimator tracks one selected signal and maintains its smoothed level.
// Raw sweep samples update the target the average converges toward; the
// smoothing step itself runs on its own fixed tick, so convergence speed
// does not depend on the sweep rate. Selection state is discarded entirely
// on deselect; re-selecting starts fresh from the next raw sample.
type Estimator struct {
	tracker *SignalTracker

	tick    time.Duration
	alpha   float64
	txPower float64
	pathExp float64
	window  int

	clock  timeutil.Clock
	logger *slog.Logger

	mu          sync.Mutex
	selected    string
	displayName string
	rawLevel    float64
	smoothed    float64
	samples     []float64
}

// NewEstimator creates an estimator over the given tracker. Zero config
// values fall back to the calibrated defaults for the target hardware.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.SmoothingTick <= 0 {
		cfg.SmoothingTick = 100 * time.Millisecond
	}
	if cfg.SmoothingAlpha <= 0 {
		cfg.SmoothingAlpha = 0.1
	}
	if cfg.TxPowerRef == 0 {
		cfg.TxPowerRef = -40
	}
	if cfg.PathLossExponent <= 0 {
		cfg.PathLossExponent = 2.0
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Estimator{
		tracker: cfg.Tracker,
		tick:    cfg.SmoothingTick,
		alpha:   cfg.SmoothingAlpha,
		txPower: cfg.TxPowerRef,
		pathExp: cfg.PathLossExponent,
		window:  cfg.StabilityWindow,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
}

// Run drives the smoothing tick until the context is cancelled.
func (e *Estimator) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.Step()
		}
	}
}

// Step applies one smoothing update. Exposed so tests can drive
// convergence without a running ticker.
func (e *Estimator) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return
	}
	e.smoothed += (e.rawLevel - e.smoothed) * e.alpha
}

// Select makes the given signal the ranging target. The smoothed level is
// seeded from the signal's current raw level, so the estimate starts at
// the first sample instead of converging from zero. Selecting a signal the
// tracker does not know fails with a not-found error and keeps any prior
// selection.
func (e *Estimator) Select(identifier string) error {
	info, ok := e.tracker.Get(identifier)
	if !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundSignal, "no such signal in recent sweeps", nil,
			map[string]any{"identifier": identifier})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.selected = info.Identifier
	e.displayName = info.DisplayName
	e.rawLevel = info.RawLevel
	e.smoothed = info.RawLevel
	e.samples = append(e.samples[:0], info.RawLevel)

	e.logger.Info("signal selected for ranging",
		"identifier", info.Identifier,
		"raw_level", info.RawLevel,
	)
	return nil
}

// Deselect clears the ranging target and discards all smoothing state.
// Returns whether a selection existed.
func (e *Estimator) Deselect() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	had := e.selected != ""
	if had {
		e.logger.Info("signal deselected", "identifier", e.selected)
	}
	e.selected = ""
	e.displayName = ""
	e.rawLevel = 0
	e.smoothed = 0
	e.samples = nil
	return had
}

// Selected returns the current target identifier, if any.
func (e *Estimator) Selected() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, e.selected != ""
}

// ObserveSweep feeds one sweep's results. Only the selected signal is of
// interest here: its latest raw level becomes the new smoothing target and
// joins the stability window. The tracker handles the rest of the sweep.
func (e *Estimator) ObserveSweep(results []types.ScanResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return
	}
	for i := range results {
		if results[i].Identifier != e.selected {
			continue
		}
		e.rawLevel = results[i].RSSI
		if results[i].DisplayName != "" {
			e.displayName = results[i].DisplayName
		}
		e.samples = append(e.samples, results[i].RSSI)
		if len(e.samples) > e.window {
			e.samples = e.samples[len(e.samples)-e.window:]
		}
		return
	}
}

// Reading returns the current proximity estimate for the selected signal.
func (e *Estimator) Reading() (types.ProximityReading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return types.ProximityReading{}, types.NewAppError(types.ErrCodeNotFoundSelection, "no signal selected", nil)
	}

	quality := types.QualityForLevel(e.smoothed)
	reading := types.ProximityReading{
		Identifier:     e.selected,
		DisplayName:    e.displayName,
		RawLevel:       e.rawLevel,
		SmoothedLevel:  e.smoothed,
		DistanceMeters: EstimateDistance(e.smoothed, e.txPower, e.pathExp),
		Quality:        quality,
		Bars:           quality.Bars(),
	}
	if stability, ok := computeStability(e.samples); ok {
		reading.Stability = &stability
	}
	return reading, nil
}

// Views returns the tracked signal list decorated with quality bands and
// coarse raw-level distances, selected signal flagged. The selected
// signal's precise smoothed estimate comes from Reading.
func (e *Estimator) Views() []types.SignalView {
	signals := e.tracker.Snapshot()

	e.mu.Lock()
	selected := e.selected
	e.mu.Unlock()

	views := make([]types.SignalView, 0, len(signals))
	for _, info := range signals {
		quality := types.QualityForLevel(info.RawLevel)
		views = append(views, types.SignalView{
			TrackedSignal:  info,
			Quality:        quality,
			Bars:           quality.Bars(),
			DistanceMeters: EstimateDistance(info.RawLevel, e.txPower, e.pathExp),
			Selected:       info.Identifier == selected,
		})
	}
	return views
}
