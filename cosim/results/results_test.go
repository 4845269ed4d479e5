package results

import (
	"time"

	"github.com/NREL/dss-cosim/cosim"
)

var testStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// sampleDataset has two series rows, the second missing one metric, and a
// one-row info table.
func sampleDataset() *cosim.Dataset {
	series := cosim.NewTable(cosim.MainTable)
	r0 := cosim.NewRecord()
	r0.Set("Total Power (kW)", -120.5)
	r0.Set("Total Loss (kW)", 2.5)
	series.Append(0, testStart, r0)
	r1 := cosim.NewRecord()
	r1.Set("Total Power (kW)", -118)
	series.Append(1, testStart.Add(time.Minute), r1)

	info := &cosim.InfoTable{
		Name:    "load_info",
		Columns: []string{"name", "kW"},
		Rows:    [][]string{{"s10a", "8.5"}},
	}
	return &cosim.Dataset{
		RunID:    "run-1",
		Federate: "grid",
		Start:    testStart,
		Step:     time.Minute,
		Series:   []*cosim.Table{series},
		Info:     []*cosim.InfoTable{info},
	}
}
