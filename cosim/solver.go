package cosim

import (
	"context"
	"errors"
)

// Solver is an exclusively owned power-flow session. One apply/solve/readout
// cycle runs at a time; implementations need not be safe for concurrent use.
type Solver interface {
	// Command issues a raw solver command and returns its textual result.
	Command(cmd string) (string, error)
	// ElementTable lists every element of class with its properties.
	ElementTable(class string) (*InfoTable, error)
	// SetPower commands the active power (kW) of a named device.
	SetPower(class, name string, kw float64) error
	// Solve advances the solution by one step.
	Solve() error
	// CircuitInfo summarizes the circuit after the last solve.
	CircuitInfo() (*Record, error)
	// BusVoltages returns per-bus voltage magnitudes in p.u.; with average
	// set, each bus reports the mean over its nodes.
	BusVoltages(average bool) (*Record, error)
	// Power returns active (kW) and reactive (kvar) power summed over the
	// conductors of one terminal (1-based; 0 means the first terminal).
	Power(class, name string, terminal int) (kw, kvar float64, err error)
	// Voltage returns the average p.u. voltage at the element's first bus.
	Voltage(class, name string) (float64, error)
	// Property reads a single element property as text.
	Property(class, name, property string) (string, error)
	Close() error
}

// CircuitConfig describes how to build a Solver. The first file is compiled;
// the rest are redirected into the compiled circuit in order.
type CircuitConfig struct {
	Backend string   `yaml:"backend"`
	Files   []string `yaml:"files"`
}

// ErrNoSolverBackend is returned by NewSolver when no backend registered.
var ErrNoSolverBackend = errors.New("no solver backend registered")

// NewSolverFunc is the factory for circuit solvers. It is set by the
// cosim/dss package's init(); callers import that package for its side effect.
var NewSolverFunc func(ctx context.Context, cfg CircuitConfig, sched Schedule) (Solver, error)

// NewSolver builds a solver through NewSolverFunc.
func NewSolver(ctx context.Context, cfg CircuitConfig, sched Schedule) (Solver, error) {
	if NewSolverFunc == nil {
		return nil, ErrNoSolverBackend
	}
	return NewSolverFunc(ctx, cfg, sched)
}
