package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"scoutlink/internal/types"
)

// ScannerClientConfig holds the configuration for creating a ScannerHTTPClient.
type ScannerClientConfig struct {
	BaseURL string
	Token   types.SecretString
	Logger  *slog.Logger
}

// scanPayload is the wire representation of one visible beacon signal.
type scanPayload struct {
	Identifier  string  `json:"identifier"`
	DisplayName string  `json:"displayName,omitempty"`
	RSSI        float64 `json:"rssi"`
}

// ScannerHTTPClient implements SignalScanner by calling the device's scan
// endpoint through BaseClient. Scans run on a fixed poll cadence, so the
// client makes exactly one attempt per call with the breaker disabled; a
// failed sweep is simply superseded by the next one.
type ScannerHTTPClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	logger  *slog.Logger
}

// NewScannerClient creates a new ScannerHTTPClient.
func NewScannerClient(
	httpClient *http.Client,
	cfg ScannerClientConfig,
) *ScannerHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"scanner",
		SingleAttemptPolicy(),
		"ScoutLink/1.0",
		WithoutBreaker(),
	)

	return &ScannerHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger,
	}
}

// NewScannerClientWithBase creates a ScannerHTTPClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// resilience configuration.
func NewScannerClientWithBase(
	base *BaseClient,
	cfg ScannerClientConfig,
) *ScannerHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ScannerHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger,
	}
}

// Scan retrieves the currently visible beacon signals via GET /scan.
// Entries that fail boundary validation are dropped and logged.
func (c *ScannerHTTPClient) Scan(ctx context.Context) ([]types.ScanResult, error) {
	url := c.baseURL + "/scan"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create scan request",
			err,
		)
	}

	if token := c.token.Unmask(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("Scan", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp, "Scan")
	}

	var payloads []scanPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"scan response is not a valid JSON array",
			err,
		)
	}

	results := make([]types.ScanResult, 0, len(payloads))
	for _, payload := range payloads {
		result := types.ScanResult{
			Identifier:  payload.Identifier,
			DisplayName: payload.DisplayName,
			RSSI:        payload.RSSI,
		}
		if validErr := result.Validate(); validErr != nil {
			c.logger.Warn("dropping invalid signal from scan",
				"identifier", payload.Identifier,
				"rssi", payload.RSSI,
				"error", validErr,
			)
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *ScannerHTTPClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("scanner error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeUpstreamScanner,
			fmt.Sprintf("scanner rejected credentials (%d)", resp.StatusCode),
			fmt.Errorf("scanner %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamScanner,
			fmt.Sprintf("scanner client error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("scanner %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamScanner,
			fmt.Sprintf("scanner server error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("scanner %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}

// wrapError converts errors from BaseClient.Do into domain-specific scanner
// errors.
func (c *ScannerHTTPClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if ok := isAppError(err, &appErr); ok {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("scanner %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamScanner,
		fmt.Sprintf("scanner %s failed", operation),
		err,
	)
}

// Compile-time interface compliance check.
var _ SignalScanner = (*ScannerHTTPClient)(nil)
