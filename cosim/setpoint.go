package cosim

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// DefaultMaxPayloadBytes bounds a decoded setpoint payload when the scenario
// does not set max_payload_bytes.
const DefaultMaxPayloadBytes = 1 << 20

var (
	ErrMalformedPayload = errors.New("malformed setpoint payload")
	ErrPayloadTooLarge  = errors.New("setpoint payload too large")
)

// Setpoints maps a device name to a signed power setpoint in kW.
type Setpoints map[string]float64

// Ratings maps a device name to its rated power magnitude in kW.
type Ratings map[string]float64

// Names returns the device names in sorted order.
func (sp Setpoints) Names() []string {
	names := make([]string, 0, len(sp))
	for name := range sp {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serializes the mapping as a flat JSON object.
func (sp Setpoints) Encode() (string, error) {
	if sp == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]float64(sp))
	if err != nil {
		return "", fmt.Errorf("encoding setpoints: %w", err)
	}
	return string(data), nil
}

// DecodeSetpoints parses a flat JSON object of device name → number.
// A limit of zero or less disables the size check.
func DecodeSetpoints(payload string, limit int) (Setpoints, error) {
	if limit > 0 && len(payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payload), limit)
	}
	var sp Setpoints
	if err := json.Unmarshal([]byte(payload), &sp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if sp == nil {
		// "null" decodes to a nil map; treat it as an empty mapping
		sp = Setpoints{}
	}
	return sp, nil
}

// Scale returns rating[d] × multiplier for every device in the table.
func (r Ratings) Scale(multiplier float64) Setpoints {
	sp := make(Setpoints, len(r))
	for name, rating := range r {
		sp[name] = rating * multiplier
	}
	return sp
}

// Names returns the rated device names in sorted order.
func (r Ratings) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
