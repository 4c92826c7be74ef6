package enums

import "fmt"

// SecuritySeverity ranks recorded security events.
type SecuritySeverity string

const (
	SecuritySeverityLow      SecuritySeverity = "low"
	SecuritySeverityMedium   SecuritySeverity = "medium"
	SecuritySeverityHigh     SecuritySeverity = "high"
	SecuritySeverityCritical SecuritySeverity = "critical"
)

var validSecuritySeverities = []SecuritySeverity{
	SecuritySeverityLow,
	SecuritySeverityMedium,
	SecuritySeverityHigh,
	SecuritySeverityCritical,
}

// String implements fmt.Stringer.
func (s SecuritySeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SecuritySeverity) IsValid() bool {
	for _, candidate := range validSecuritySeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsReputationSignal reports whether the severity feeds the fraud detector's
// IP reputation heuristic.
func (s SecuritySeverity) IsReputationSignal() bool {
	return s == SecuritySeverityHigh || s == SecuritySeverityCritical
}

// ParseSecuritySeverity converts raw input into a SecuritySeverity.
func ParseSecuritySeverity(value string) (SecuritySeverity, error) {
	for _, candidate := range validSecuritySeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid security severity %q", value)
}
