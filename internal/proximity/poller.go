package proximity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scoutlink/internal/timeutil"
	"scoutlink/internal/types"
)

// Scanner is the sweep surface of the scan service. The scanner client
// satisfies it.
type Scanner interface {
	Scan(ctx context.Context) ([]types.ScanResult, error)
}

// PollerConfig holds the sweep loop's dependencies and timing.
type PollerConfig struct {
	Scanner   Scanner
	Tracker   *SignalTracker
	Estimator *Estimator

	// Interval is the period between sweeps; it also bounds each sweep.
	Interval time.Duration
	// Retention is how long an unseen signal stays tracked.
	Retention time.Duration

	Clock  timeutil.Clock
	Logger *slog.Logger
}

// ScanPoller drives periodic signal sweeps into the tracker and the
// estimator, and ages out signals that stopped appearing. A failed sweep
// is logged and skipped; the next tick is the retry.
type ScanPoller struct {
	scanner   Scanner
	tracker   *SignalTracker
	estimator *Estimator

	interval  time.Duration
	retention time.Duration

	clock  timeutil.Clock
	logger *slog.Logger

	mu      sync.Mutex
	lastAt  time.Time
	lastErr error
}

// NewScanPoller creates a sweep loop. Scanner, Tracker, and Estimator are
// required; zero timings fall back to a 2s sweep and 60s retention.
func NewScanPoller(cfg PollerConfig) *ScanPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ScanPoller{
		scanner:   cfg.Scanner,
		tracker:   cfg.Tracker,
		estimator: cfg.Estimator,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Run sweeps immediately, then on every tick, until the context is
// cancelled.
func (p *ScanPoller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.sweepOnce(ctx)
		}
	}
}

// LastSweep reports when the most recent sweep attempt finished and
// whether it succeeded. The zero time means no sweep has run yet.
func (p *ScanPoller) LastSweep() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAt, p.lastErr
}

// sweepOnce performs one bounded sweep and routes the results.
func (p *ScanPoller) sweepOnce(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, p.interval)
	results, err := p.scanner.Scan(sctx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.lastAt = p.clock.Now()
		p.lastErr = err
		p.mu.Unlock()
		p.logger.Warn("signal sweep failed", "error", err)
		return
	}

	p.mu.Lock()
	p.lastAt = p.clock.Now()
	p.lastErr = nil
	p.mu.Unlock()

	p.tracker.ObserveSweep(results)
	p.estimator.ObserveSweep(results)

	spare, _ := p.estimator.Selected()
	p.tracker.Prune(p.retention, spare)
}
