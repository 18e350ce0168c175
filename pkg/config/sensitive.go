package config

import "encoding/json"

// SensitiveString holds a secret value that must never appear in logs,
// formatted output, or serialized configuration.
type SensitiveString string

// String implements fmt.Stringer and always redacts non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the underlying secret for use at the call site that actually
// needs it (outbound auth headers, DSNs).
func (s SensitiveString) Value() string {
	return string(s)
}

// MarshalJSON serializes the redacted representation.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the raw secret.
func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SensitiveString(raw)
	return nil
}
