package cosim

import (
	"errors"
	"fmt"
)

// ErrUnknownPolarity is returned by ParsePolarity.
var ErrUnknownPolarity = errors.New("unknown polarity")

// Polarity is the sign convention a consumer applies to received setpoints.
// Producer and consumer must agree on it for a given deployment; storage
// charge/discharge conventions differ between circuit models.
type Polarity string

const (
	// PolarityNormal applies setpoints as published.
	PolarityNormal Polarity = "normal"
	// PolarityInverted flips the sign of every setpoint.
	PolarityInverted Polarity = "inverted"
)

// ParsePolarity accepts "normal", "inverted", or "" (normal).
func ParsePolarity(s string) (Polarity, error) {
	switch Polarity(s) {
	case "", PolarityNormal:
		return PolarityNormal, nil
	case PolarityInverted:
		return PolarityInverted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolarity, s)
	}
}

// Apply returns v under this convention.
func (p Polarity) Apply(v float64) float64 {
	if p == PolarityInverted {
		return -v
	}
	return v
}
