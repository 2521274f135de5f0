package external

import (
	"log/slog"
	"net/http"
	"time"

	"scoutlink/internal/config"
	"scoutlink/internal/types"
)

// ----------------------------------------------------------------------------
// Client Registry
//
// Central factory that instantiates the device-facing services based on
// configuration. In demo mode every surface is backed by one in-process
// device simulation, so the synchronization engine runs the same code
// paths it runs against real hardware.
// ----------------------------------------------------------------------------

// ClientRegistry holds the device-facing service implementations. It is the
// single point of access for the rest of the agent to talk to the detection
// device and the signal scanner.
type ClientRegistry struct {
	Alerts  AlertService
	Scanner SignalScanner
	Push    PushDialer

	// Sim is the backing device simulation in demo mode, nil in live mode.
	// The caller must supervise Sim.Run so synthetic events flow.
	Sim *DemoDeviceSim
}

// NewClientRegistry initializes the device-facing services for the
// configured source mode. Live mode builds HTTP and websocket clients with
// per-service timeouts; demo mode builds one simulated device that backs
// all three surfaces.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Mode == types.ModeDemo {
		logger.Info("initializing device clients in DEMO mode",
			"emit_interval", cfg.Demo.EmitInterval.String(),
		)
		return newDemoRegistry(cfg, logger), nil
	}

	logger.Info("initializing device clients in LIVE mode",
		"device_url", cfg.Device.BaseURL,
		"scanner_url", cfg.Scanner.BaseURL,
	)
	return newLiveRegistry(cfg, logger), nil
}

// newDemoRegistry backs every surface with one shared device simulation.
// Mutations applied through the alert surface are visible on the next pull,
// the same contract the real device provides.
func newDemoRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	sim := NewDemoDeviceSim(DemoSimConfig{
		OriginLat:    cfg.Demo.OriginLat,
		OriginLon:    cfg.Demo.OriginLon,
		EmitInterval: cfg.Demo.EmitInterval,
		Logger:       logger.With("client", "demo-sim"),
	})

	return &ClientRegistry{
		Alerts:  sim,
		Scanner: sim,
		Push:    sim,
		Sim:     sim,
	}
}

// newLiveRegistry builds the real device clients with strict per-service
// timeouts. The HTTP timeouts are transport-level backstops; callers bound
// individual requests with their own context deadlines.
func newLiveRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	reg := &ClientRegistry{}

	// --- Alert service ---
	// The timeout covers mutation forwards with their retries; snapshot
	// fetches are bounded tighter by the pull loop's per-tick deadline.
	alertHTTPClient := &http.Client{Timeout: 30 * time.Second}
	reg.Alerts = NewAlertClient(alertHTTPClient, AlertClientConfig{
		BaseURL: cfg.Device.BaseURL,
		Token:   cfg.Device.Token,
		Logger:  logger.With("client", "device-alerts"),
	})

	// --- Push subscription ---
	reg.Push = NewWebsocketPushDialer(PushDialerConfig{
		URL:    cfg.Device.PushURL,
		Token:  cfg.Device.Token,
		Logger: logger.With("client", "device-push"),
	})

	// --- Signal scanner ---
	scannerHTTPClient := &http.Client{Timeout: 5 * time.Second}
	reg.Scanner = NewScannerClient(scannerHTTPClient, ScannerClientConfig{
		BaseURL: cfg.Scanner.BaseURL,
		Token:   cfg.Scanner.Token,
		Logger:  logger.With("client", "scanner"),
	})

	return reg
}
