package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"scoutlink/internal/types"
)

// setLiveTestEnv sets all required environment variables for a valid live-mode
// Config. It uses t.Setenv so values are automatically cleaned up after the test.
func setLiveTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_MODE", "live")
	t.Setenv("LOG_LEVEL", "debug")

	t.Setenv("DEVICE_BASE_URL", "http://192.168.4.1:8080")
	t.Setenv("DEVICE_PUSH_URL", "ws://192.168.4.1:8080/alerts/subscribe")
	t.Setenv("DEVICE_TOKEN", "test-bearer-token")
	t.Setenv("SCANNER_BASE_URL", "http://192.168.4.1:8081")
}

// TestLoadConfigLiveSuccess verifies that LoadConfig succeeds in live mode
// with all required environment variables set.
func TestLoadConfigLiveSuccess(t *testing.T) {
	setLiveTestEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "local")
	}
	if cfg.Mode != types.ModeLive {
		t.Errorf("Mode = %q, want live", cfg.Mode)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	// Defaults
	if cfg.Server.Port != "8090" {
		t.Errorf("Server.Port = %q, want default %q", cfg.Server.Port, "8090")
	}
	if cfg.Sync.PullInterval != 5*time.Second {
		t.Errorf("Sync.PullInterval = %v, want 5s", cfg.Sync.PullInterval)
	}
	if cfg.Sync.PullTimeout != 4*time.Second {
		t.Errorf("Sync.PullTimeout = %v, want 4s", cfg.Sync.PullTimeout)
	}
	if cfg.Sync.ReconnectDelay != 3*time.Second {
		t.Errorf("Sync.ReconnectDelay = %v, want 3s", cfg.Sync.ReconnectDelay)
	}
	if cfg.Scanner.Interval != 2*time.Second {
		t.Errorf("Scanner.Interval = %v, want 2s", cfg.Scanner.Interval)
	}
	if cfg.Proximity.SmoothingTick != 100*time.Millisecond {
		t.Errorf("Proximity.SmoothingTick = %v, want 100ms", cfg.Proximity.SmoothingTick)
	}
	if cfg.Proximity.SmoothingAlpha != 0.1 {
		t.Errorf("Proximity.SmoothingAlpha = %v, want 0.1", cfg.Proximity.SmoothingAlpha)
	}
	if cfg.Proximity.TxPowerRef != -40 {
		t.Errorf("Proximity.TxPowerRef = %v, want -40", cfg.Proximity.TxPowerRef)
	}
	if cfg.Proximity.PathLossExponent != 2.0 {
		t.Errorf("Proximity.PathLossExponent = %v, want 2.0", cfg.Proximity.PathLossExponent)
	}

	// Secrets are wrapped in SecretString
	if cfg.Device.Token.Unmask() != "test-bearer-token" {
		t.Errorf("Device.Token.Unmask() = %q, want raw token", cfg.Device.Token.Unmask())
	}
	if got := cfg.Device.Token.String(); strings.Contains(got, "test-bearer-token") {
		t.Errorf("Device.Token.String() leaked the token: %q", got)
	}

	// Build metadata defaults
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want %q", cfg.Build.Version, "dev")
	}
}

// TestLoadConfigDemoNeedsNoEndpoints verifies demo mode loads without any
// device or scanner configuration.
func TestLoadConfigDemoNeedsNoEndpoints(t *testing.T) {
	t.Setenv("APP_MODE", "demo")
	t.Setenv("DEVICE_BASE_URL", "")
	t.Setenv("DEVICE_PUSH_URL", "")
	t.Setenv("DEVICE_TOKEN", "")
	t.Setenv("SCANNER_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Mode != types.ModeDemo {
		t.Errorf("Mode = %q, want demo", cfg.Mode)
	}
	if cfg.Demo.EmitInterval != 8*time.Second {
		t.Errorf("Demo.EmitInterval = %v, want 8s", cfg.Demo.EmitInterval)
	}
}

// TestLoadConfigLiveMissingDevice verifies live mode fails fast when the
// device endpoints are absent.
func TestLoadConfigLiveMissingDevice(t *testing.T) {
	t.Setenv("APP_MODE", "live")
	t.Setenv("DEVICE_BASE_URL", "")
	t.Setenv("DEVICE_PUSH_URL", "")
	t.Setenv("DEVICE_TOKEN", "")
	t.Setenv("SCANNER_BASE_URL", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig should fail in live mode without device endpoints")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if cfgErr.Type != ErrMissingEnv {
		t.Errorf("error Type = %q, want %q", cfgErr.Type, ErrMissingEnv)
	}
}

// TestLoadConfigRejectsBadMode verifies struct validation catches an unknown mode.
func TestLoadConfigRejectsBadMode(t *testing.T) {
	setLiveTestEnv(t)
	t.Setenv("APP_MODE", "replay")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig should reject APP_MODE=replay")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("error Type = %q, want %q", cfgErr.Type, ErrValidation)
	}
}

// TestLoadConfigParseFailure verifies unparseable values surface as ErrParsing.
func TestLoadConfigParseFailure(t *testing.T) {
	setLiveTestEnv(t)
	t.Setenv("PULL_INTERVAL", "often")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig should reject an unparseable duration")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if cfgErr.Type != ErrParsing {
		t.Errorf("error Type = %q, want %q", cfgErr.Type, ErrParsing)
	}
}

// TestLoadConfigWithDepsDotenvFailureIsNonFatal verifies a broken dotenv
// loader does not abort loading.
func TestLoadConfigWithDepsDotenvFailureIsNonFatal(t *testing.T) {
	setLiveTestEnv(t)

	deps := defaultDeps()
	deps.loadDotenv = func(...string) error { return errors.New("no such file") }

	if _, err := loadConfigWithDeps(deps); err != nil {
		t.Fatalf("loadConfigWithDeps returned error: %v", err)
	}
}

// TestLoadConfigWithDepsProcessError verifies an envconfig failure maps to
// ErrParsing.
func TestLoadConfigWithDepsProcessError(t *testing.T) {
	deps := defaultDeps()
	deps.process = func(string, any) error { return errors.New("boom") }

	_, err := loadConfigWithDeps(deps)
	if err == nil {
		t.Fatal("loadConfigWithDeps should surface the process error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrParsing {
		t.Fatalf("error = %v, want ConfigError[PARSING_FAILED]", err)
	}
}

// TestConfigErrorFormat verifies both ConfigError formats.
func TestConfigErrorFormat(t *testing.T) {
	bare := &ConfigError{Type: ErrMissingEnv, Message: "DEVICE_TOKEN is required in live mode"}
	if got := bare.Error(); got != "[MISSING_ENV] DEVICE_TOKEN is required in live mode" {
		t.Errorf("Error() = %q", got)
	}

	underlying := errors.New("bad syntax")
	wrapped := &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: underlying}
	if !strings.Contains(wrapped.Error(), "bad syntax") {
		t.Errorf("Error() should include the underlying error, got %q", wrapped.Error())
	}
	if !errors.Is(wrapped, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
}
