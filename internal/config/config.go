// Package config defines the configuration structure for the scoutlink agent.
// Configuration is loaded once at process startup and is immutable thereafter.
// It follows 12-Factor principles by strictly separating code from
// configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"scoutlink/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the agent. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string           `envconfig:"APP_ENV" default:"field" validate:"required,oneof=local field"`
	Service     string           `envconfig:"SERVICE_NAME" default:"scoutlink-agent"`
	LogLevel    string           `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Mode        types.SourceMode `envconfig:"APP_MODE" default:"live" validate:"required,oneof=live demo"`

	// Domain Configurations
	Server    ServerConfig
	Device    DeviceConfig
	Scanner   ScannerConfig
	Sync      SyncConfig
	Proximity ProximityConfig
	Demo      DemoConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the operator API listener configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`

	// CorsAllowedOrigins lists the origins the operator UI may be served
	// from. "*" allows any origin, the sensible default for an agent
	// bound to localhost or a closed field network.
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DeviceConfig holds the remote detection device endpoints and credential.
// Required in live mode; ignored in demo mode.
type DeviceConfig struct {
	// BaseURL is the HTTP root of the alert service (no trailing slash).
	BaseURL string `envconfig:"DEVICE_BASE_URL" validate:"omitempty,url"`
	// PushURL is the push subscription endpoint (ws:// or wss://).
	PushURL string `envconfig:"DEVICE_PUSH_URL" validate:"omitempty,url"`
	// Token is the opaque bearer credential supplied by the session layer.
	Token SecretString `envconfig:"DEVICE_TOKEN"`
}

// ScannerConfig holds the remote signal-scan service configuration.
// Required in live mode; ignored in demo mode.
type ScannerConfig struct {
	BaseURL  string        `envconfig:"SCANNER_BASE_URL" validate:"omitempty,url"`
	Token    SecretString  `envconfig:"SCANNER_TOKEN"`
	Interval time.Duration `envconfig:"SCAN_INTERVAL" default:"2s"`
}

// SyncConfig holds the event synchronization timing parameters.
type SyncConfig struct {
	// PullInterval is the fixed period between alert snapshot fetches.
	PullInterval time.Duration `envconfig:"PULL_INTERVAL" default:"5s"`
	// PullTimeout bounds a single snapshot fetch. It must not exceed the
	// pull interval so abandoned requests never stack up across ticks.
	PullTimeout time.Duration `envconfig:"PULL_TIMEOUT" default:"4s"`
	// ReconnectDelay is the fixed wait before each push reconnect attempt.
	ReconnectDelay time.Duration `envconfig:"RECONNECT_DELAY" default:"3s"`
}

// ProximityConfig holds the signal smoothing and distance model parameters.
type ProximityConfig struct {
	SmoothingTick  time.Duration `envconfig:"SMOOTHING_TICK" default:"100ms"`
	SmoothingAlpha float64       `envconfig:"SMOOTHING_ALPHA" default:"0.1"`

	// TxPowerRef is the expected signal strength (dBm) at 1 meter.
	TxPowerRef float64 `envconfig:"TX_POWER_REF" default:"-40"`
	// PathLossExponent models environment-dependent signal decay.
	// Calibrated range for the target hardware is [2.0, 2.5].
	PathLossExponent float64 `envconfig:"PATH_LOSS_EXPONENT" default:"2.0"`

	// StabilityWindow is the raw-sample window size for spread statistics.
	StabilityWindow int `envconfig:"STABILITY_WINDOW" default:"50"`
	// SignalRetention is how long an unseen device stays in the tracker.
	SignalRetention time.Duration `envconfig:"SIGNAL_RETENTION" default:"60s"`
}

// DemoConfig holds synthetic event generation parameters for demo mode.
type DemoConfig struct {
	EmitInterval time.Duration `envconfig:"DEMO_EMIT_INTERVAL" default:"8s"`
	OriginLat    float64       `envconfig:"DEMO_ORIGIN_LAT" default:"12.9716"`
	OriginLon    float64       `envconfig:"DEMO_ORIGIN_LON" default:"77.5946"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// Validate applies the cross-field rules the struct tags cannot express:
// mode-dependent endpoint requirements and timing bounds.
func (c *Config) Validate() error {
	if c.Mode == types.ModeLive {
		switch {
		case c.Device.BaseURL == "":
			return &ConfigError{Type: ErrMissingEnv, Message: "DEVICE_BASE_URL is required in live mode"}
		case c.Device.PushURL == "":
			return &ConfigError{Type: ErrMissingEnv, Message: "DEVICE_PUSH_URL is required in live mode"}
		case c.Device.Token.Unmask() == "":
			return &ConfigError{Type: ErrMissingEnv, Message: "DEVICE_TOKEN is required in live mode"}
		case c.Scanner.BaseURL == "":
			return &ConfigError{Type: ErrMissingEnv, Message: "SCANNER_BASE_URL is required in live mode"}
		}
	}

	if c.Sync.PullInterval < time.Second {
		return &ConfigError{Type: ErrValidation, Message: "PULL_INTERVAL must be at least 1s"}
	}
	if c.Sync.PullTimeout <= 0 || c.Sync.PullTimeout > c.Sync.PullInterval {
		return &ConfigError{Type: ErrValidation, Message: "PULL_TIMEOUT must be positive and no longer than PULL_INTERVAL"}
	}
	if c.Sync.ReconnectDelay < 100*time.Millisecond {
		return &ConfigError{Type: ErrValidation, Message: "RECONNECT_DELAY must be at least 100ms"}
	}
	if c.Scanner.Interval < 500*time.Millisecond {
		return &ConfigError{Type: ErrValidation, Message: "SCAN_INTERVAL must be at least 500ms"}
	}

	if c.Proximity.SmoothingTick < 10*time.Millisecond {
		return &ConfigError{Type: ErrValidation, Message: "SMOOTHING_TICK must be at least 10ms"}
	}
	if c.Proximity.SmoothingAlpha <= 0 || c.Proximity.SmoothingAlpha > 1 {
		return &ConfigError{Type: ErrValidation, Message: "SMOOTHING_ALPHA must be within (0, 1]"}
	}
	if c.Proximity.PathLossExponent < 2.0 || c.Proximity.PathLossExponent > 2.5 {
		return &ConfigError{Type: ErrValidation, Message: "PATH_LOSS_EXPONENT must be within [2.0, 2.5]"}
	}
	if c.Proximity.StabilityWindow < 2 || c.Proximity.StabilityWindow > 1000 {
		return &ConfigError{Type: ErrValidation, Message: "STABILITY_WINDOW must be within [2, 1000]"}
	}
	if c.Proximity.SignalRetention < time.Second {
		return &ConfigError{Type: ErrValidation, Message: "SIGNAL_RETENTION must be at least 1s"}
	}

	if c.Mode == types.ModeDemo && c.Demo.EmitInterval < time.Second {
		return &ConfigError{Type: ErrValidation, Message: "DEMO_EMIT_INTERVAL must be at least 1s"}
	}

	return nil
}
