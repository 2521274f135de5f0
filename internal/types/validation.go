package types

// Validation constraint constants.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0

	// Signal levels are dBm and always non-positive; anything below the
	// floor is a scanner glitch, not a real reading.
	MaxSignalLevel = 0.0
	MinSignalLevel = -120.0

	MaxIdentifierLength  = 64
	MaxDisplayNameLength = 120
)

// Validate implements the Validator interface for ScanResult.
func (r *ScanResult) Validate() error {
	if r.Identifier == "" {
		return NewAppError(ErrCodeValidationMissingField, "scan result identifier is required", nil)
	}
	if len(r.Identifier) > MaxIdentifierLength {
		return NewAppError(ErrCodeValidationMissingField, "scan result identifier too long", nil)
	}
	if len(r.DisplayName) > MaxDisplayNameLength {
		r.DisplayName = r.DisplayName[:MaxDisplayNameLength]
	}
	if r.RSSI > MaxSignalLevel || r.RSSI < MinSignalLevel {
		return NewAppError(ErrCodeValidationInvalidLevel, "rssi outside plausible dBm range", nil)
	}
	return nil
}
