package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scoutlink/internal/types"
)

// AlertClientConfig holds the configuration for creating an AlertHTTPClient.
type AlertClientConfig struct {
	BaseURL string
	Token   types.SecretString
	Logger  *slog.Logger
}

// alertPayload is the wire representation of a detection event as the device
// reports it. Pull snapshots carry acknowledged; push messages omit it, so
// pushed events always convert to active ones.
type alertPayload struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	Confidence      float64 `json:"confidence"`
	PeakTemperature float64 `json:"peakTemperature"`
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`
	OccurredAt      string  `json:"occurredAt"`
	Acknowledged    bool    `json:"acknowledged"`
}

// toEvent converts a wire payload into a validated domain event.
func (p alertPayload) toEvent() (types.DetectionEvent, error) {
	occurredAt, err := time.Parse(time.RFC3339, p.OccurredAt)
	if err != nil {
		return types.DetectionEvent{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidTimestamp,
			"occurredAt is not a valid RFC 3339 timestamp",
			err,
			map[string]interface{}{"id": p.ID, "occurredAt": p.OccurredAt},
		)
	}

	event := types.DetectionEvent{
		ID:              p.ID,
		Kind:            types.EventKind(p.Kind),
		Confidence:      p.Confidence,
		PeakTemperature: p.PeakTemperature,
		Lat:             p.Lat,
		Lon:             p.Lon,
		OccurredAt:      occurredAt,
		Active:          !p.Acknowledged,
	}

	if err := event.Validate(); err != nil {
		return types.DetectionEvent{}, err
	}

	return event, nil
}

// ParsePushMessage decodes a single push-subscription message into a domain
// event. The device sends one JSON object per message; anything else is a
// malformed payload. Push messages never carry acknowledged, so the event
// arrives active.
func ParsePushMessage(data []byte) (types.DetectionEvent, error) {
	var payload alertPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.DetectionEvent{}, types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"push message is not a valid JSON alert object",
			err,
		)
	}
	return payload.toEvent()
}

// AlertHTTPClient implements AlertService by calling the device's alert REST
// endpoints through BaseClient. It carries two base clients with different
// resilience profiles: snapshot fetches make exactly one attempt per call
// (the pull tick is the retry), while mutations keep the circuit breaker and
// retry policy.
type AlertHTTPClient struct {
	fetchBase  *BaseClient
	mutateBase *BaseClient
	baseURL    string
	token      types.SecretString
	logger     *slog.Logger
}

// NewAlertClient creates a new AlertHTTPClient. The httpClient timeout bounds
// mutation calls; snapshot fetches are additionally bounded by the caller's
// per-tick context deadline.
func NewAlertClient(
	httpClient *http.Client,
	cfg AlertClientConfig,
) *AlertHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fetchBase := NewBaseClient(
		httpClient,
		"alert-fetch",
		SingleAttemptPolicy(),
		"ScoutLink/1.0",
		WithoutBreaker(),
	)

	mutateBase := NewBaseClient(
		httpClient,
		"alert-mutations",
		DefaultRetryPolicy(),
		"ScoutLink/1.0",
	)

	return &AlertHTTPClient{
		fetchBase:  fetchBase,
		mutateBase: mutateBase,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		logger:     logger,
	}
}

// NewAlertClientWithBases creates an AlertHTTPClient with pre-configured
// BaseClients. This is useful for testing when you want to control the
// resilience configuration (e.g., inject a sleep function).
func NewAlertClientWithBases(
	fetchBase *BaseClient,
	mutateBase *BaseClient,
	cfg AlertClientConfig,
) *AlertHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AlertHTTPClient{
		fetchBase:  fetchBase,
		mutateBase: mutateBase,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		logger:     logger,
	}
}

// FetchAlerts retrieves the device's full alert snapshot via GET /alerts.
// Entries that fail boundary validation are dropped and logged rather than
// failing the whole snapshot, so one corrupt record cannot blind the agent.
func (c *AlertHTTPClient) FetchAlerts(ctx context.Context) ([]types.DetectionEvent, error) {
	url := c.baseURL + "/alerts"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create alert snapshot request",
			err,
		)
	}

	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.fetchBase.Do(req)
	if err != nil {
		return nil, c.wrapError("FetchAlerts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp, "FetchAlerts")
	}

	var payloads []alertPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"alert snapshot is not a valid JSON array",
			err,
		)
	}

	events := make([]types.DetectionEvent, 0, len(payloads))
	for _, payload := range payloads {
		event, convErr := payload.toEvent()
		if convErr != nil {
			c.logger.Warn("dropping invalid alert from snapshot",
				"id", payload.ID,
				"kind", payload.Kind,
				"error", convErr,
			)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// Acknowledge marks a single alert as acknowledged on the device via
// POST /alerts/{id}/ack.
func (c *AlertHTTPClient) Acknowledge(ctx context.Context, id string) error {
	if id == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"alert ID is required for acknowledgement",
			nil,
		)
	}

	url := fmt.Sprintf("%s/alerts/%s/ack", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create acknowledge request",
			err,
		)
	}

	c.authorize(req)

	c.logger.InfoContext(ctx, "forwarding acknowledge to device",
		"alert_id", id,
	)

	resp, err := c.mutateBase.Do(req)
	if err != nil {
		return c.wrapError("Acknowledge", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp, "Acknowledge")
	}

	return nil
}

// AcknowledgeAll marks every alert as acknowledged on the device via
// POST /alerts/ack-all.
func (c *AlertHTTPClient) AcknowledgeAll(ctx context.Context) error {
	url := c.baseURL + "/alerts/ack-all"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create acknowledge-all request",
			err,
		)
	}

	c.authorize(req)

	c.logger.InfoContext(ctx, "forwarding acknowledge-all to device")

	resp, err := c.mutateBase.Do(req)
	if err != nil {
		return c.wrapError("AcknowledgeAll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp, "AcknowledgeAll")
	}

	return nil
}

// Clear removes all alerts from the device's ledger via DELETE /alerts.
func (c *AlertHTTPClient) Clear(ctx context.Context) error {
	url := c.baseURL + "/alerts"

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create clear request",
			err,
		)
	}

	c.authorize(req)

	c.logger.InfoContext(ctx, "forwarding clear to device")

	resp, err := c.mutateBase.Do(req)
	if err != nil {
		return c.wrapError("Clear", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp, "Clear")
	}

	return nil
}

// authorize attaches the device bearer token when one is configured.
func (c *AlertHTTPClient) authorize(req *http.Request) {
	if token := c.token.Unmask(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *AlertHTTPClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("alert service error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeUpstreamDevice,
			fmt.Sprintf("device rejected credentials (%d)", resp.StatusCode),
			fmt.Errorf("alert service %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundEvent,
			fmt.Sprintf("device has no such alert: %s", operation),
			fmt.Errorf("alert service %s returned 404: %s", operation, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamDevice,
			fmt.Sprintf("alert service client error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("alert service %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamDevice,
			fmt.Sprintf("alert service server error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("alert service %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}

// wrapError converts errors from BaseClient.Do into domain-specific alert
// service errors.
func (c *AlertHTTPClient) wrapError(operation string, err error) error {
	// If it's already an AppError, enhance the message but preserve the code.
	var appErr *types.AppError
	if ok := isAppError(err, &appErr); ok {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("alert service %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamDevice,
		fmt.Sprintf("alert service %s failed", operation),
		err,
	)
}

// isAppError checks if err is an *types.AppError and extracts it.
func isAppError(err error, target **types.AppError) bool {
	var ae *types.AppError
	if ok := errors.As(err, &ae); ok {
		*target = ae
		return true
	}
	return false
}

// Compile-time interface compliance check.
var _ AlertService = (*AlertHTTPClient)(nil)
