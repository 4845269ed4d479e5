package dss

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/NREL/dss-cosim/cosim"
)

// ErrBackendUnavailable is returned when the binary was built without the
// altdss build tag, or the scenario names a backend other than OpenDSS.
var ErrBackendUnavailable = errors.New("OpenDSS backend unavailable")

// engine is the narrow slice of the OpenDSS API the Circuit needs. Element
// names are fully qualified ("Class.name").
type engine interface {
	// Command runs one text command and returns its result text.
	Command(cmd string) (string, error)
	Solve() error
	// Powers returns the element's interleaved P,Q pairs (kW, kvar) per
	// conductor, terminal by terminal, plus its conductor count.
	Powers(element string) (pq []float64, conductors int, err error)
	// BusNames returns the element's terminal bus specs ("632.1.2.3").
	BusNames(element string) ([]string, error)
	// NodeVoltages returns every node name ("632.1") with its p.u. magnitude.
	NodeVoltages() (names []string, pu []float64, err error)
	// TotalPower returns the source power in kW and kvar.
	TotalPower() (kw, kvar float64, err error)
	// Losses returns the circuit losses in W and var.
	Losses() (w, vars float64, err error)
	// ElementNames lists the names (without class) of every element in class.
	ElementNames(class string) ([]string, error)
	// PropertyNames lists the properties of a fully qualified element.
	PropertyNames(element string) ([]string, error)
	Close() error
}

// newEngine is set by the build-tagged backend file.
var newEngine func() (engine, error)

// Circuit is a cosim.Solver over an OpenDSS engine.
type Circuit struct {
	eng engine
}

var _ cosim.Solver = (*Circuit)(nil)

// New compiles the circuit files and puts the solver into yearly mode with
// one step of sched.Step per Solve, starting at sched.Start.
func New(_ context.Context, cfg cosim.CircuitConfig, sched cosim.Schedule) (cosim.Solver, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "opendss", "altdss":
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, cfg.Backend)
	}
	eng, err := newEngine()
	if err != nil {
		return nil, err
	}
	c := &Circuit{eng: eng}
	if err := c.load(cfg.Files, sched); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return c, nil
}

func (c *Circuit) load(files []string, sched cosim.Schedule) error {
	cmds, err := SetupCommands(files, sched)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if _, err := c.eng.Command(cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

// Command issues a raw text command.
func (c *Circuit) Command(cmd string) (string, error) {
	return c.eng.Command(cmd)
}

// ElementTable lists every element of class with all of its properties.
func (c *Circuit) ElementTable(class string) (*cosim.InfoTable, error) {
	names, err := c.eng.ElementNames(class)
	if err != nil {
		return nil, err
	}
	table := &cosim.InfoTable{Name: class, Columns: []string{"name"}}
	if len(names) == 0 {
		return table, nil
	}
	props, err := c.eng.PropertyNames(class + "." + names[0])
	if err != nil {
		return nil, err
	}
	table.Columns = append(table.Columns, props...)
	for _, name := range names {
		row := []string{name}
		for _, prop := range props {
			v, err := c.Property(class, name, prop)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// SetPower dispatches a device. See DispatchCommand.
func (c *Circuit) SetPower(class, name string, kw float64) error {
	_, err := c.eng.Command(DispatchCommand(class, name, kw))
	return err
}

// Solve runs one time step.
func (c *Circuit) Solve() error { return c.eng.Solve() }

// Circuit summary column names.
const (
	ColTotalPowerKW   = "Total Power (kW)"
	ColTotalPowerKVAR = "Total Power (kVAR)"
	ColTotalLossKW    = "Total Loss (kW)"
	ColTotalLossKVAR  = "Total Loss (kVAR)"
	ColMinVoltage     = "Min Voltage (p.u.)"
	ColMaxVoltage     = "Max Voltage (p.u.)"
	ColMeanVoltage    = "Mean Voltage (p.u.)"
)

// CircuitInfo reports total power, losses and the voltage envelope.
func (c *Circuit) CircuitInfo() (*cosim.Record, error) {
	kw, kvar, err := c.eng.TotalPower()
	if err != nil {
		return nil, fmt.Errorf("total power: %w", err)
	}
	w, vars, err := c.eng.Losses()
	if err != nil {
		return nil, fmt.Errorf("losses: %w", err)
	}
	_, pu, err := c.eng.NodeVoltages()
	if err != nil {
		return nil, fmt.Errorf("node voltages: %w", err)
	}
	lo, hi, mean := VoltageEnvelope(pu)

	rec := cosim.NewRecord()
	rec.Set(ColTotalPowerKW, kw)
	rec.Set(ColTotalPowerKVAR, kvar)
	rec.Set(ColTotalLossKW, w/1000)
	rec.Set(ColTotalLossKVAR, vars/1000)
	rec.Set(ColMinVoltage, lo)
	rec.Set(ColMaxVoltage, hi)
	rec.Set(ColMeanVoltage, mean)
	return rec, nil
}

// BusVoltages returns p.u. magnitudes per node, or per bus when average is set.
func (c *Circuit) BusVoltages(average bool) (*cosim.Record, error) {
	names, pu, err := c.eng.NodeVoltages()
	if err != nil {
		return nil, err
	}
	if average {
		return AverageByBus(names, pu), nil
	}
	rec := cosim.NewRecord()
	for i, name := range names {
		rec.Set(name, pu[i])
	}
	return rec, nil
}

// Power sums P and Q over the conductors of one terminal.
func (c *Circuit) Power(class, name string, terminal int) (float64, float64, error) {
	pq, conductors, err := c.eng.Powers(class + "." + name)
	if err != nil {
		return 0, 0, err
	}
	kw, kvar, err := TerminalPower(pq, conductors, terminal)
	if err != nil {
		return 0, 0, fmt.Errorf("%s.%s: %w", class, name, err)
	}
	return kw, kvar, nil
}

// Voltage returns the mean p.u. magnitude of the element's first bus.
func (c *Circuit) Voltage(class, name string) (float64, error) {
	buses, err := c.eng.BusNames(class + "." + name)
	if err != nil {
		return 0, err
	}
	if len(buses) == 0 {
		return 0, fmt.Errorf("%s.%s has no buses", class, name)
	}
	names, pu, err := c.eng.NodeVoltages()
	if err != nil {
		return 0, err
	}
	bus := BusName(buses[0])
	v, ok := AverageByBus(names, pu).Get(bus)
	if !ok {
		return 0, fmt.Errorf("%s.%s: bus %s has no voltage", class, name, bus)
	}
	return v, nil
}

// Property reads one element property as text.
func (c *Circuit) Property(class, name, property string) (string, error) {
	out, err := c.eng.Command(fmt.Sprintf("? %s.%s.%s", class, name, property))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Close releases the engine.
func (c *Circuit) Close() error { return c.eng.Close() }

// ErrNoTerminal is returned for a terminal the element does not have.
var ErrNoTerminal = errors.New("terminal out of range")

// TerminalPower sums the interleaved P,Q pairs of one 1-based terminal;
// terminal 0 selects the first.
func TerminalPower(pq []float64, conductors, terminal int) (kw, kvar float64, err error) {
	if terminal == 0 {
		terminal = 1
	}
	if conductors <= 0 {
		return 0, 0, fmt.Errorf("%w: element reports %d conductors", ErrNoTerminal, conductors)
	}
	lo := 2 * conductors * (terminal - 1)
	hi := lo + 2*conductors
	if terminal < 1 || hi > len(pq) {
		return 0, 0, fmt.Errorf("%w: terminal %d of %d", ErrNoTerminal, terminal, len(pq)/(2*conductors))
	}
	for i := lo; i < hi; i += 2 {
		kw += pq[i]
		kvar += pq[i+1]
	}
	return kw, kvar, nil
}

// BusName strips node designations from a bus spec: "632.1.2" → "632".
func BusName(spec string) string {
	if i := strings.IndexByte(spec, '.'); i >= 0 {
		return spec[:i]
	}
	return spec
}

// AverageByBus averages node magnitudes per bus, keeping first-seen bus order.
func AverageByBus(nodes []string, pu []float64) *cosim.Record {
	var order []string
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i, node := range nodes {
		if i >= len(pu) {
			break
		}
		bus := BusName(node)
		if counts[bus] == 0 {
			order = append(order, bus)
		}
		sums[bus] += pu[i]
		counts[bus]++
	}
	rec := cosim.NewRecord()
	for _, bus := range order {
		rec.Set(bus, sums[bus]/float64(counts[bus]))
	}
	return rec
}

// VoltageEnvelope returns min, max and mean of pu, ignoring de-energized
// (zero) nodes. With no energized nodes all three are zero.
func VoltageEnvelope(pu []float64) (lo, hi, mean float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range pu {
		if v == 0 {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		mean += v
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	return lo, hi, mean / float64(n)
}
