package dss

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NREL/dss-cosim/cosim"
)

// fakeEngine answers from canned tables and records every command.
type fakeEngine struct {
	commands   []string
	results    map[string]string
	powers     map[string][]float64
	conductors map[string]int
	buses      map[string][]string
	nodes      []string
	pu         []float64
	elements   map[string][]string
	props      []string
	solves     int
	closed     bool
}

func (e *fakeEngine) Command(cmd string) (string, error) {
	e.commands = append(e.commands, cmd)
	if out, ok := e.results[cmd]; ok {
		return out, nil
	}
	return "", nil
}

func (e *fakeEngine) Solve() error { e.solves++; return nil }

func (e *fakeEngine) Powers(element string) ([]float64, int, error) {
	pq, ok := e.powers[element]
	if !ok {
		return nil, 0, errors.New("no such element")
	}
	return pq, e.conductors[element], nil
}

func (e *fakeEngine) BusNames(element string) ([]string, error) { return e.buses[element], nil }

func (e *fakeEngine) NodeVoltages() ([]string, []float64, error) { return e.nodes, e.pu, nil }

func (e *fakeEngine) TotalPower() (float64, float64, error) { return -120.5, -30, nil }

func (e *fakeEngine) Losses() (float64, float64, error) { return 2500, 800, nil }

func (e *fakeEngine) ElementNames(class string) ([]string, error) { return e.elements[class], nil }

func (e *fakeEngine) PropertyNames(string) ([]string, error) { return e.props, nil }

func (e *fakeEngine) Close() error { e.closed = true; return nil }

func newFakeCircuit() (*Circuit, *fakeEngine) {
	eng := &fakeEngine{
		results: map[string]string{
			"? Storage.battery1.%stored": " 42.5 ",
			"? Load.s10a.kW":            "8.5",
			"? Load.s10a.bus1":          "610.1",
			"? Load.s11a.kW":            "4",
			"? Load.s11a.bus1":          "611.3",
		},
		powers: map[string][]float64{
			// three conductors, two terminals
			"Line.l15":         {10, 1, 20, 2, 30, 3, -9, -1, -19, -2, -29, -3},
			"Generator.pv2":    {-5, 0, -5, 0},
			"Storage.battery1": {3, 0.5},
		},
		conductors: map[string]int{"Line.l15": 3, "Generator.pv2": 2, "Storage.battery1": 1},
		buses:      map[string][]string{"Generator.pv2": {"632.1.2"}},
		nodes:      []string{"632.1", "632.2", "632.3", "671.1", "680.1"},
		pu:         []float64{1.0, 1.02, 0.98, 0.95, 0},
		elements:   map[string][]string{"Load": {"s10a", "s11a"}},
		props:      []string{"kW", "bus1"},
	}
	return &Circuit{eng: eng}, eng
}

func TestSetupCommands_CompileRedirectAndClock(t *testing.T) {
	// GIVEN three circuit files and a one-minute schedule starting Jan 2 01:00:30
	sched := cosim.Schedule{
		Start:    time.Date(2021, 1, 2, 1, 0, 30, 0, time.UTC),
		Step:     time.Minute,
		Duration: time.Hour,
	}

	// WHEN the setup commands are built
	cmds, err := SetupCommands([]string{"Master.dss", "PVsystems.dss", "BatteryStorage.dss"}, sched)

	// THEN the first file compiles, the rest redirect, then mode and clock are set
	require.NoError(t, err)
	assert.Equal(t, []string{
		"compile [Master.dss]",
		"redirect [PVsystems.dss]",
		"redirect [BatteryStorage.dss]",
		"set mode=yearly number=1 stepsize=60s",
		"set time=(25,30)",
	}, cmds)
}

func TestSetupCommands_RequiresFiles(t *testing.T) {
	_, err := SetupCommands(nil, cosim.Schedule{Step: time.Minute})
	assert.ErrorIs(t, err, ErrNoCircuitFiles)
}

func TestHourOfYear_StartOfYearIsZero(t *testing.T) {
	hour, sec := HourOfYear(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, hour)
	assert.Equal(t, 0.0, sec)
}

func TestDispatchCommand_StorageUsesStateAndMagnitude(t *testing.T) {
	tests := []struct {
		kw   float64
		want string
	}{
		{3, "edit Storage.battery1 State=DISCHARGING kW=3"},
		{-3, "edit Storage.battery1 State=CHARGING kW=3"},
		{0, "edit Storage.battery1 State=IDLING kW=0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DispatchCommand("Storage", "battery1", tt.kw))
	}
	assert.Equal(t, "edit Generator.pv1 kW=5", DispatchCommand("Generator", "pv1", 5))
	assert.Equal(t, "edit Generator.pv1 kW=-2.5", DispatchCommand("Generator", "pv1", -2.5))
}

func TestTerminalPower_SumsOneTerminal(t *testing.T) {
	pq := []float64{10, 1, 20, 2, 30, 3, -9, -1, -19, -2, -29, -3}

	kw, kvar, err := TerminalPower(pq, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, kw)
	assert.Equal(t, 6.0, kvar)

	kw, _, err = TerminalPower(pq, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, -57.0, kw)

	kw0, _, err := TerminalPower(pq, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 60.0, kw0)

	_, _, err = TerminalPower(pq, 3, 3)
	assert.ErrorIs(t, err, ErrNoTerminal)
	_, _, err = TerminalPower(pq, 0, 1)
	assert.ErrorIs(t, err, ErrNoTerminal)
}

func TestAverageByBus_MeansNodesInFirstSeenOrder(t *testing.T) {
	rec := AverageByBus([]string{"671.1", "632.1", "632.2", "671.2"}, []float64{0.9, 1.0, 1.02, 1.1})

	assert.Equal(t, []string{"671", "632"}, rec.Keys())
	v, _ := rec.Get("632")
	assert.InDelta(t, 1.01, v, 1e-12)
	v, _ = rec.Get("671")
	assert.InDelta(t, 1.0, v, 1e-12)
}

func TestVoltageEnvelope_IgnoresDeenergizedNodes(t *testing.T) {
	lo, hi, mean := VoltageEnvelope([]float64{1.0, 0, 0.96, 1.04})
	assert.Equal(t, 0.96, lo)
	assert.Equal(t, 1.04, hi)
	assert.InDelta(t, 1.0, mean, 1e-12)

	lo, hi, mean = VoltageEnvelope([]float64{0, 0})
	assert.Zero(t, lo)
	assert.Zero(t, hi)
	assert.Zero(t, mean)
}

func TestBusName_StripsNodes(t *testing.T) {
	assert.Equal(t, "632", BusName("632.1.2.3"))
	assert.Equal(t, "sourcebus", BusName("sourcebus"))
}

func TestCircuit_SetPowerAndSolve_IssueCommands(t *testing.T) {
	c, eng := newFakeCircuit()

	require.NoError(t, c.SetPower("Storage", "battery1", -3))
	require.NoError(t, c.Solve())

	assert.Equal(t, []string{"edit Storage.battery1 State=CHARGING kW=3"}, eng.commands)
	assert.Equal(t, 1, eng.solves)
}

func TestCircuit_CircuitInfo_ConvertsLossesToKilo(t *testing.T) {
	c, _ := newFakeCircuit()

	rec, err := c.CircuitInfo()

	require.NoError(t, err)
	assert.Equal(t, []string{
		ColTotalPowerKW, ColTotalPowerKVAR, ColTotalLossKW, ColTotalLossKVAR,
		ColMinVoltage, ColMaxVoltage, ColMeanVoltage,
	}, rec.Keys())
	loss, _ := rec.Get(ColTotalLossKW)
	assert.Equal(t, 2.5, loss)
	lo, _ := rec.Get(ColMinVoltage)
	assert.Equal(t, 0.95, lo)
}

func TestCircuit_PowerVoltageProperty(t *testing.T) {
	c, _ := newFakeCircuit()

	kw, kvar, err := c.Power("Line", "l15", 1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, kw)
	assert.Equal(t, 6.0, kvar)

	kw, _, err = c.Power("Generator", "pv2", 0)
	require.NoError(t, err)
	assert.Equal(t, -10.0, kw)

	v, err := c.Voltage("Generator", "pv2")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-12)

	soc, err := c.Property("Storage", "battery1", "%stored")
	require.NoError(t, err)
	assert.Equal(t, "42.5", soc)

	_, _, err = c.Power("Line", "missing", 1)
	assert.Error(t, err)
}

func TestCircuit_BusVoltages_PerNodeOrPerBus(t *testing.T) {
	c, _ := newFakeCircuit()

	nodes, err := c.BusVoltages(false)
	require.NoError(t, err)
	assert.Equal(t, 5, nodes.Len())

	buses, err := c.BusVoltages(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"632", "671", "680"}, buses.Keys())
}

func TestCircuit_ElementTable_ListsEveryProperty(t *testing.T) {
	c, _ := newFakeCircuit()

	table, err := c.ElementTable("Load")

	require.NoError(t, err)
	assert.Equal(t, []string{"name", "kW", "bus1"}, table.Columns)
	assert.Equal(t, [][]string{{"s10a", "8.5", "610.1"}, {"s11a", "4", "611.3"}}, table.Rows)
}

func TestNew_WithoutBackend_IsUnavailable(t *testing.T) {
	// GIVEN an engine factory that cannot start
	saved := newEngine
	t.Cleanup(func() { newEngine = saved })
	newEngine = func() (engine, error) { return nil, ErrBackendUnavailable }

	// WHEN a solver is requested through the cosim registry
	_, err := cosim.NewSolver(context.Background(), cosim.CircuitConfig{Files: []string{"Master.dss"}},
		cosim.Schedule{Step: time.Minute})

	// THEN the failure names the missing backend
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestNew_LoadsCircuitThroughEngine(t *testing.T) {
	eng := &fakeEngine{}
	saved := newEngine
	t.Cleanup(func() { newEngine = saved })
	newEngine = func() (engine, error) { return eng, nil }

	solver, err := New(context.Background(), cosim.CircuitConfig{Backend: "OpenDSS", Files: []string{"a.dss", "b.dss"}},
		cosim.Schedule{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Step: time.Minute})

	require.NoError(t, err)
	require.Len(t, eng.commands, 4)
	assert.True(t, strings.HasPrefix(eng.commands[0], "compile"))
	require.NoError(t, solver.Close())
	assert.True(t, eng.closed)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), cosim.CircuitConfig{Backend: "gridlabd", Files: []string{"a.glm"}},
		cosim.Schedule{Step: time.Minute})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
