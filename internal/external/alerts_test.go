package external

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scoutlink/internal/types"
)

// ---------------------------------------------------------------------------
// Helper: Create test alert client pointed at httptest server
// ---------------------------------------------------------------------------

func newTestAlertClient(t *testing.T, serverURL string) *AlertHTTPClient {
	t.Helper()

	fetchBase := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-alert-fetch",
		SingleAttemptPolicy(),
		"ScoutLink-Test/1.0",
		WithoutBreaker(),
		WithSleepFunc(noopSleep),
	)

	// No retries in tests for deterministic call counts.
	mutateBase := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-alert-mutations",
		RetryPolicy{
			MaxRetries: 0,
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"ScoutLink-Test/1.0",
		WithSleepFunc(noopSleep),
	)

	return NewAlertClientWithBases(fetchBase, mutateBase, AlertClientConfig{
		BaseURL: serverURL,
		Token:   types.SecretString("test-device-token"),
		Logger:  discardLogger(),
	})
}

// snapshotJSON is a two-event device snapshot: one unacknowledged life
// detection and one acknowledged fire detection.
const snapshotJSON = `[
	{
		"id": "evt_a1",
		"kind": "life",
		"confidence": 0.92,
		"peakTemperature": 36.4,
		"lat": 12.9716,
		"lon": 77.5946,
		"occurredAt": "2026-03-14T10:00:00Z",
		"acknowledged": false
	},
	{
		"id": "evt_b2",
		"kind": "fire",
		"confidence": 0.71,
		"peakTemperature": 240.0,
		"lat": 12.9720,
		"lon": 77.5950,
		"occurredAt": "2026-03-14T10:05:30Z",
		"acknowledged": true
	}
]`

// ---------------------------------------------------------------------------
// FetchAlerts Tests
// ---------------------------------------------------------------------------

func TestFetchAlerts_Success(t *testing.T) {
	var receivedMethod string
	var receivedPath string
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(snapshotJSON))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	events, err := client.FetchAlerts(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodGet {
		t.Errorf("expected GET, got %s", receivedMethod)
	}
	if receivedPath != "/alerts" {
		t.Errorf("expected path /alerts, got %s", receivedPath)
	}
	if receivedAuth != "Bearer test-device-token" {
		t.Errorf("expected Bearer test-device-token, got %s", receivedAuth)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.ID != "evt_a1" {
		t.Errorf("expected ID evt_a1, got %s", first.ID)
	}
	if first.Kind != types.KindLife {
		t.Errorf("expected kind life, got %s", first.Kind)
	}
	if first.Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %f", first.Confidence)
	}
	if !first.Active {
		t.Error("expected unacknowledged event to arrive active")
	}
	wantOccurred := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if !first.OccurredAt.Equal(wantOccurred) {
		t.Errorf("expected occurredAt %s, got %s", wantOccurred, first.OccurredAt)
	}

	second := events[1]
	if second.Kind != types.KindFire {
		t.Errorf("expected kind fire, got %s", second.Kind)
	}
	if second.Active {
		t.Error("expected acknowledged event to arrive inactive")
	}
}

func TestFetchAlerts_EmptySnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	events, err := client.FetchAlerts(context.Background())
	if err != nil {
		t.Fatalf("expected no error for empty snapshot, got: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestFetchAlerts_DropsInvalidEntries(t *testing.T) {
	// One valid entry surrounded by an unknown kind, an out-of-range
	// confidence, and an unparseable timestamp. Only the valid one survives.
	body := `[
		{"id": "evt_bad_kind", "kind": "meteor", "confidence": 0.5, "peakTemperature": 20, "lat": 1, "lon": 1, "occurredAt": "2026-03-14T10:00:00Z"},
		{"id": "evt_ok", "kind": "vehicle", "confidence": 0.66, "peakTemperature": 85.0, "lat": 12.9716, "lon": 77.5946, "occurredAt": "2026-03-14T10:01:00Z"},
		{"id": "evt_bad_conf", "kind": "fire", "confidence": 1.5, "peakTemperature": 300, "lat": 1, "lon": 1, "occurredAt": "2026-03-14T10:02:00Z"},
		{"id": "evt_bad_time", "kind": "life", "confidence": 0.8, "peakTemperature": 36, "lat": 1, "lon": 1, "occurredAt": "yesterday"}
	]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	events, err := client.FetchAlerts(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 surviving event, got %d", len(events))
	}
	if events[0].ID != "evt_ok" {
		t.Errorf("expected surviving event evt_ok, got %s", events[0].ID)
	}
}

func TestFetchAlerts_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	_, err := client.FetchAlerts(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed body, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationMalformedPayload {
		t.Errorf("expected error code %s, got %s", types.ErrCodeValidationMalformedPayload, appErr.Code)
	}
}

func TestFetchAlerts_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "bad token"}`))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	_, err := client.FetchAlerts(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 response, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamDevice {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamDevice, appErr.Code)
	}
}

func TestFetchAlerts_SingleAttemptOn500(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	_, err := client.FetchAlerts(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}

	// The snapshot path never retries; the next pull tick is the retry.
	if calls != 1 {
		t.Errorf("expected exactly 1 fetch attempt, got %d", calls)
	}
}

// ---------------------------------------------------------------------------
// Mutation Tests
// ---------------------------------------------------------------------------

func TestAcknowledge_Success(t *testing.T) {
	var receivedMethod string
	var receivedPath string
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	if err := client.Acknowledge(context.Background(), "evt_a1"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedPath != "/alerts/evt_a1/ack" {
		t.Errorf("expected path /alerts/evt_a1/ack, got %s", receivedPath)
	}
	if receivedAuth != "Bearer test-device-token" {
		t.Errorf("expected Bearer test-device-token, got %s", receivedAuth)
	}
}

func TestAcknowledge_EmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called with empty alert ID")
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	err := client.Acknowledge(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty alert ID, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected error code %s, got %s", types.ErrCodeValidationMissingField, appErr.Code)
	}
}

func TestAcknowledge_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no such alert"}`))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	err := client.Acknowledge(context.Background(), "evt_gone")
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeNotFoundEvent {
		t.Errorf("expected error code %s, got %s", types.ErrCodeNotFoundEvent, appErr.Code)
	}
}

func TestAcknowledgeAll_Success(t *testing.T) {
	var receivedMethod string
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	if err := client.AcknowledgeAll(context.Background()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedPath != "/alerts/ack-all" {
		t.Errorf("expected path /alerts/ack-all, got %s", receivedPath)
	}
}

func TestClear_Success(t *testing.T) {
	var receivedMethod string
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	if err := client.Clear(context.Background()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", receivedMethod)
	}
	if receivedPath != "/alerts" {
		t.Errorf("expected path /alerts, got %s", receivedPath)
	}
}

func TestClear_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "flash write failed"}`))
	}))
	defer server.Close()

	client := newTestAlertClient(t, server.URL)

	err := client.Clear(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
}

// ---------------------------------------------------------------------------
// Push Message Parsing Tests
// ---------------------------------------------------------------------------

func TestParsePushMessage_Valid(t *testing.T) {
	msg := []byte(`{
		"id": "evt_push_1",
		"kind": "life",
		"confidence": 0.88,
		"peakTemperature": 36.8,
		"lat": 12.9716,
		"lon": 77.5946,
		"occurredAt": "2026-03-14T10:15:00Z"
	}`)

	event, err := ParsePushMessage(msg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if event.ID != "evt_push_1" {
		t.Errorf("expected ID evt_push_1, got %s", event.ID)
	}
	if event.Kind != types.KindLife {
		t.Errorf("expected kind life, got %s", event.Kind)
	}
	// Push messages never carry acknowledged, so the event arrives active.
	if !event.Active {
		t.Error("expected pushed event to be active")
	}
}

func TestParsePushMessage_MalformedJSON(t *testing.T) {
	_, err := ParsePushMessage([]byte(`hello world`))
	if err == nil {
		t.Fatal("expected error for malformed message, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationMalformedPayload {
		t.Errorf("expected error code %s, got %s", types.ErrCodeValidationMalformedPayload, appErr.Code)
	}
}

func TestParsePushMessage_UnknownKind(t *testing.T) {
	msg := []byte(`{
		"id": "evt_push_2",
		"kind": "asteroid",
		"confidence": 0.5,
		"peakTemperature": 20,
		"lat": 1,
		"lon": 1,
		"occurredAt": "2026-03-14T10:15:00Z"
	}`)

	_, err := ParsePushMessage(msg)
	if err == nil {
		t.Fatal("expected error for unknown kind, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidKind {
		t.Errorf("expected error code %s, got %s", types.ErrCodeValidationInvalidKind, appErr.Code)
	}
}

func TestParsePushMessage_BadTimestamp(t *testing.T) {
	msg := []byte(`{
		"id": "evt_push_3",
		"kind": "fire",
		"confidence": 0.5,
		"peakTemperature": 200,
		"lat": 1,
		"lon": 1,
		"occurredAt": "14/03/2026 10:15"
	}`)

	_, err := ParsePushMessage(msg)
	if err == nil {
		t.Fatal("expected error for bad timestamp, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidTimestamp {
		t.Errorf("expected error code %s, got %s", types.ErrCodeValidationInvalidTimestamp, appErr.Code)
	}
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

func TestAlertHTTPClient_ImplementsInterface(t *testing.T) {
	var _ AlertService = (*AlertHTTPClient)(nil)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
