package cosim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownQuantity is returned for an element metric with an unsupported quantity.
var ErrUnknownQuantity = errors.New("unknown element quantity")

// Quantity names what an ElementMetric reads from the solver.
type Quantity string

const (
	QuantityKW   Quantity = "kw"
	QuantityKVAR Quantity = "kvar"
	QuantityPU   Quantity = "pu"
)

// ElementMetric is one named column of the element table.
type ElementMetric struct {
	Column   string   `yaml:"column"`
	Class    string   `yaml:"class"`
	Name     string   `yaml:"name"`
	Quantity Quantity `yaml:"quantity"`
	Terminal int      `yaml:"terminal,omitempty"`
}

// Validate checks the metric is readable.
func (m ElementMetric) Validate() error {
	switch m.Quantity {
	case QuantityKW, QuantityKVAR, QuantityPU:
	default:
		return fmt.Errorf("%w: %q for column %q", ErrUnknownQuantity, m.Quantity, m.Column)
	}
	if m.Column == "" || m.Class == "" || m.Name == "" {
		return fmt.Errorf("element metric needs column, class and name: %+v", m)
	}
	if m.Terminal < 0 {
		return fmt.Errorf("element metric %q: terminal must not be negative", m.Column)
	}
	return nil
}

// Telemetry selects the per-device readings recorded for a channel.
// Power is always recorded.
type Telemetry struct {
	Voltage bool
	SOC     bool
}

// AppliedChannel is the mapping a consumer applied on one channel in one step,
// after the channel's polarity was applied.
type AppliedChannel struct {
	Key       string
	Class     string
	Setpoints Setpoints
}

// Table names used by the Recorder.
const (
	MainTable     = "main_results"
	VoltageTable  = "voltage_results"
	ElementsTable = "element_results"
)

// DeviceTableName returns the per-device table name for a channel.
func DeviceTableName(channel string) string { return channel + "_results" }

// InfoTableName returns the element listing table name for a solver class.
func InfoTableName(class string) string { return strings.ToLower(class) + "_info" }

// Recorder pulls telemetry from the solver after each solved step and appends
// exactly one row per table.
type Recorder struct {
	solver    Solver
	elements  []ElementMetric
	telemetry map[string]Telemetry

	main     *Table
	voltages *Table
	element  *Table
	devices  map[string]*Table
	order    []string
}

// NewRecorder prepares empty tables for the given element metrics and channels.
func NewRecorder(solver Solver, elements []ElementMetric, channels []GridChannel) *Recorder {
	r := &Recorder{
		solver:    solver,
		elements:  elements,
		telemetry: make(map[string]Telemetry, len(channels)),
		main:      NewTable(MainTable),
		voltages:  NewTable(VoltageTable),
		element:   NewTable(ElementsTable),
		devices:   make(map[string]*Table, len(channels)),
	}
	for _, ch := range channels {
		r.telemetry[ch.Key] = ch.Telemetry
		r.devices[ch.Key] = NewTable(DeviceTableName(ch.Key))
		r.order = append(r.order, ch.Key)
	}
	return r
}

// Record appends one row to every table for the given step.
func (r *Recorder) Record(step int, at time.Time, applied []AppliedChannel) error {
	info, err := r.solver.CircuitInfo()
	if err != nil {
		return fmt.Errorf("circuit info: %w", err)
	}
	r.main.Append(step, at, info)

	volts, err := r.solver.BusVoltages(true)
	if err != nil {
		return fmt.Errorf("bus voltages: %w", err)
	}
	r.voltages.Append(step, at, volts)

	elems, err := r.readElements()
	if err != nil {
		return err
	}
	r.element.Append(step, at, elems)

	byKey := make(map[string]AppliedChannel, len(applied))
	for _, ch := range applied {
		byKey[ch.Key] = ch
	}
	for _, key := range r.order {
		rec, err := r.readDevices(byKey[key], r.telemetry[key])
		if err != nil {
			return fmt.Errorf("channel %s: %w", key, err)
		}
		r.devices[key].Append(step, at, rec)
	}
	return nil
}

func (r *Recorder) readElements() (*Record, error) {
	rec := NewRecord()
	for _, m := range r.elements {
		switch m.Quantity {
		case QuantityKW, QuantityKVAR:
			kw, kvar, err := r.solver.Power(m.Class, m.Name, m.Terminal)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Column, err)
			}
			if m.Quantity == QuantityKW {
				rec.Set(m.Column, kw)
			} else {
				rec.Set(m.Column, kvar)
			}
		case QuantityPU:
			pu, err := r.solver.Voltage(m.Class, m.Name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Column, err)
			}
			rec.Set(m.Column, pu)
		}
	}
	return rec, nil
}

// readDevices reads telemetry for the devices present in this step's mapping
// only; an empty mapping yields an empty record.
func (r *Recorder) readDevices(ch AppliedChannel, tel Telemetry) (*Record, error) {
	rec := NewRecord()
	for _, name := range ch.Setpoints.Names() {
		kw, _, err := r.solver.Power(ch.Class, name, 0)
		if err != nil {
			return nil, fmt.Errorf("%s power: %w", name, err)
		}
		rec.Set(name+" Power (kW)", kw)

		if tel.Voltage {
			pu, err := r.solver.Voltage(ch.Class, name)
			if err != nil {
				return nil, fmt.Errorf("%s voltage: %w", name, err)
			}
			rec.Set(name+" Voltage (p.u.)", pu)
		}
		if tel.SOC {
			raw, err := r.solver.Property(ch.Class, name, "%stored")
			if err != nil {
				return nil, fmt.Errorf("%s state of charge: %w", name, err)
			}
			soc, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("%s state of charge %q: %w", name, raw, err)
			}
			rec.Set(name+" SOC (%)", soc)
		}
	}
	return rec, nil
}

// Tables returns every table in a stable order: main, voltages, elements,
// then one per channel in configuration order.
func (r *Recorder) Tables() []*Table {
	tables := []*Table{r.main, r.voltages, r.element}
	for _, key := range r.order {
		tables = append(tables, r.devices[key])
	}
	return tables
}
