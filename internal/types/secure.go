package types

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds an opaque credential (the device bearer token) in a
// form that cannot leak through fmt functions, JSON-serialized config
// dumps, or structured log entries: String() and MarshalJSON() both
// return a redacted placeholder.
//
// The engine never manages the token's lifecycle; it receives the value
// from configuration and uses Unmask() at the single point where the
// Authorization header is built.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Usage should be
// limited to constructing the outbound Authorization header.
func (s SecretString) Unmask() string {
	return string(s)
}
