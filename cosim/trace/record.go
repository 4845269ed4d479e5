// Package trace provides per-step coordination trace recording.
// It has no dependencies on cosim/ and stores pure data types.
package trace

import "time"

// Direction distinguishes published from received exchanges.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// GrantRecord captures a single coordinated time advance.
type GrantRecord struct {
	Federate  string
	Step      int
	Requested time.Duration
	Granted   time.Duration
}

// ExchangeRecord captures the setpoints a federate sent or applied on one
// channel during one step. For a received exchange that was not updated,
// Setpoints is empty.
type ExchangeRecord struct {
	Federate  string
	Step      int
	Channel   string
	Direction Direction
	Updated   bool
	Setpoints map[string]float64
}
