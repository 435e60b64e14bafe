// Package congestion maps a predicted vehicle count onto an ordinal traffic
// level using fixed, inclusive upper thresholds.
package congestion

import (
	"encoding/json"
	"fmt"
)

// Level is an ordinal traffic classification.
type Level int

const (
	Low Level = iota
	Medium
	High
)

// Default thresholds.
const (
	DefaultLowMax    = 30
	DefaultMediumMax = 60
)

// Policy defines how a vehicle count is translated into a Level.
type Policy struct {
	// LowMax is the largest count still classified Low. Must be >= 0.
	LowMax int

	// MediumMax is the largest count still classified Medium. Must be >= LowMax.
	MediumMax int
}

// DefaultPolicy returns the 30/60 policy.
func DefaultPolicy() Policy {
	return Policy{LowMax: DefaultLowMax, MediumMax: DefaultMediumMax}
}

// Sanitize returns p with invalid thresholds replaced by defaults.
func (p Policy) Sanitize() Policy {
	if p.LowMax < 0 || p.MediumMax < 0 || p.MediumMax < p.LowMax {
		return DefaultPolicy()
	}
	return p
}

// Validate reports whether the thresholds are usable as given.
func (p Policy) Validate() error {
	if p.LowMax < 0 {
		return fmt.Errorf("low threshold must be >= 0, got %d", p.LowMax)
	}
	if p.MediumMax < p.LowMax {
		return fmt.Errorf("medium threshold %d must be >= low threshold %d", p.MediumMax, p.LowMax)
	}
	return nil
}

// Classify returns Low for count <= LowMax, Medium for count <= MediumMax
// and High otherwise.
func (p Policy) Classify(count int) Level {
	p = p.Sanitize()
	switch {
	case count <= p.LowMax:
		return Low
	case count <= p.MediumMax:
		return Medium
	default:
		return High
	}
}

// String returns Low, Medium or High.
func (l Level) String() string {
	switch l {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Banner is the headline shown on the prediction card.
func (l Level) Banner() string {
	switch l {
	case Low:
		return "Low Traffic"
	case Medium:
		return "Medium Traffic"
	default:
		return "Heavy Traffic"
	}
}

// Color is the severity color of the banner.
func (l Level) Color() string {
	switch l {
	case Low:
		return "green"
	case Medium:
		return "yellow"
	default:
		return "red"
	}
}

// MarshalJSON encodes the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel converts a level name back to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "Low":
		return Low, nil
	case "Medium":
		return Medium, nil
	case "High":
		return High, nil
	default:
		return 0, fmt.Errorf("unknown traffic level %q", s)
	}
}

// UnmarshalJSON decodes a level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}
