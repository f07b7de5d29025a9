package models

import (
	"fmt"
	"strings"
)

// Severity orders anomaly probabilities into four levels.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityEmergency
)

// Severities lists every level in ascending order.
var Severities = []Severity{SeverityNormal, SeverityWarning, SeverityCritical, SeverityEmergency}

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "NORMAL"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityEmergency:
		return "EMERGENCY"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalText renders the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name, case-insensitively.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name.
func ParseSeverity(v string) (Severity, error) {
	for _, s := range Severities {
		if strings.EqualFold(v, s.String()) {
			return s, nil
		}
	}
	return SeverityNormal, fmt.Errorf("unknown severity %q", v)
}
