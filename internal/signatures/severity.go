package signatures

import (
	"fmt"
	"strings"
)

// Severity ranks how dangerous a detection is. The zero value means "none".
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseSeverity accepts the lowercase names produced by String.
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none":
		return SeverityNone, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityNone, fmt.Errorf("unknown severity %q", v)
	}
}

// MarshalText renders the severity as its name so JSON payloads stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Max returns the more severe of a and b.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// Category groups signatures by the class of attack they detect.
type Category string

const (
	CategoryInjection Category = "injection"
	CategoryScript    Category = "script"
	CategoryCommand   Category = "command"
	CategoryTraversal Category = "traversal"
	CategoryMalware   Category = "malware"
	CategoryZeroDay   Category = "zero-day"
)

// Categories lists every known category in catalog order.
var Categories = []Category{
	CategoryInjection,
	CategoryScript,
	CategoryCommand,
	CategoryTraversal,
	CategoryMalware,
	CategoryZeroDay,
}

// ParseCategory validates a category name.
func ParseCategory(v string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", v)
}
