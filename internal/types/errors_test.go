package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces the "code: message" format.
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidLat,
		Message: "latitude must be between -90 and 90",
	}

	expected := "validation_invalid_latitude: latitude must be between -90 and 90"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset by peer")
	appErr := &AppError{
		Code:    ErrCodeUpstreamDevice,
		Message: "alert pull failed",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorUnwrapNil verifies Unwrap returns nil when no underlying error exists.
func TestAppErrorUnwrapNil(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundEvent,
		Message: "event not found",
	}

	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from an error chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundSelection,
		Message: "no signal selected",
	}
	wrappedErr := fmt.Errorf("handler failed: %w", appErr)

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeNotFoundSelection {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeNotFoundSelection)
	}
}

// TestAppErrorErrorsIs verifies that errors.Is works through the AppError chain.
func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := &AppError{
		Code:    ErrCodeInternalUnexpected,
		Message: "unexpected failure",
		Err:     sentinel,
	}

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the sentinel error through Unwrap")
	}
}

// TestNewAppError verifies the basic constructor.
func TestNewAppError(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeUpstreamScanner, "scanner unavailable", underlying)

	if appErr.Code != ErrCodeUpstreamScanner {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeUpstreamScanner)
	}
	if appErr.Message != "scanner unavailable" {
		t.Errorf("Message = %q, want %q", appErr.Message, "scanner unavailable")
	}
	if appErr.Err != underlying {
		t.Errorf("Err = %v, want %v", appErr.Err, underlying)
	}
	if appErr.Details != nil {
		t.Errorf("Details should be nil, got %v", appErr.Details)
	}
}

// TestWithDetailsDoesNotMutate verifies WithDetails returns a copy.
func TestWithDetailsDoesNotMutate(t *testing.T) {
	original := NewAppError(ErrCodeValidationInvalidKind, "unknown kind", nil)
	derived := original.WithDetails(map[string]any{"kind": "DRONE"})

	if original.Details != nil {
		t.Errorf("original Details mutated: %v", original.Details)
	}
	if derived.Details["kind"] != "DRONE" {
		t.Errorf("derived Details missing merged key, got %v", derived.Details)
	}
	if derived.Code != original.Code || derived.Message != original.Message {
		t.Error("derived error should keep code and message")
	}
}

// TestErrorCodeHTTPStatus verifies the prefix-based status mapping.
func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationConfidenceRange, http.StatusBadRequest},
		{ErrCodeValidationMalformedPayload, http.StatusBadRequest},
		{ErrCodeNotFoundEvent, http.StatusNotFound},
		{ErrCodeNotFoundSignal, http.StatusNotFound},
		{ErrCodeNotFoundSelection, http.StatusNotFound},
		{ErrCodeConflictSelection, http.StatusConflict},
		{ErrCodeUpstreamDevice, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
