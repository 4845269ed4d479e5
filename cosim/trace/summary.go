package trace

import "time"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalGrants     int
	StepsByFederate map[string]int
	SentExchanges   int
	UpdatedReceived int
	EmptyReceived   int
	AppliedValues   int
	MaxGrantLag     time.Duration // max(granted - requested); 0 when every grant is exact
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		StepsByFederate: make(map[string]int),
	}
	if st == nil {
		return summary
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	summary.TotalGrants = len(st.Grants)
	for _, g := range st.Grants {
		summary.StepsByFederate[g.Federate]++
		if lag := g.Granted - g.Requested; lag > summary.MaxGrantLag {
			summary.MaxGrantLag = lag
		}
	}

	for _, e := range st.Exchanges {
		switch e.Direction {
		case Sent:
			summary.SentExchanges++
		case Received:
			if e.Updated {
				summary.UpdatedReceived++
			} else {
				summary.EmptyReceived++
			}
			summary.AppliedValues += len(e.Setpoints)
		}
	}

	return summary
}
