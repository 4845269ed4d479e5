package trace

import "sync"

// TraceLevel controls the verbosity of coordination tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelSteps captures every time grant and every channel exchange.
	TraceLevelSteps TraceLevel = "steps"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelSteps: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects coordination records during a run. Federates
// running in one process may share a trace.
type SimulationTrace struct {
	Config    TraceConfig
	mu        sync.Mutex
	Grants    []GrantRecord
	Exchanges []ExchangeRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:    config,
		Grants:    make([]GrantRecord, 0),
		Exchanges: make([]ExchangeRecord, 0),
	}
}

// Enabled reports whether st records anything. Safe on a nil trace.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelSteps
}

// RecordGrant appends a time grant record.
func (st *SimulationTrace) RecordGrant(record GrantRecord) {
	if !st.Enabled() {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Grants = append(st.Grants, record)
}

// RecordExchange appends a channel exchange record.
func (st *SimulationTrace) RecordExchange(record ExchangeRecord) {
	if !st.Enabled() {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Exchanges = append(st.Exchanges, record)
}

// GrantsFor returns the grant records of one federate, in recording order.
func (st *SimulationTrace) GrantsFor(federate string) []GrantRecord {
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []GrantRecord
	for _, g := range st.Grants {
		if g.Federate == federate {
			out = append(out, g)
		}
	}
	return out
}

// ExchangesFor returns the exchange records of one federate and channel.
func (st *SimulationTrace) ExchangesFor(federate, channel string) []ExchangeRecord {
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []ExchangeRecord
	for _, e := range st.Exchanges {
		if e.Federate == federate && e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}
