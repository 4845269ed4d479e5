package cosim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// scriptedFederate grants every requested time as-is and, at grant n,
// delivers deliveries[n] to its inputs.
type scriptedFederate struct {
	name       string
	inputs     map[string]*Input
	published  map[string][]string
	deliveries map[int]map[string]string
	requests   []time.Duration
	grantShift time.Duration // added to every granted time after the first
	failAt     int           // request index that fails; -1 for never

	entered   bool
	finalized bool
	aborted   error
}

func newScriptedFederate(name string) *scriptedFederate {
	return &scriptedFederate{
		name:       name,
		inputs:     make(map[string]*Input),
		published:  make(map[string][]string),
		deliveries: make(map[int]map[string]string),
		failAt:     -1,
	}
}

func (f *scriptedFederate) Name() string { return f.name }

func (f *scriptedFederate) RegisterPublication(key string) (*Publication, error) {
	if _, ok := f.published[key]; ok {
		return nil, fmt.Errorf("duplicate publication %s", key)
	}
	f.published[key] = nil
	return NewPublication(key, SenderFunc(func(k, v string) error {
		f.published[k] = append(f.published[k], v)
		return nil
	})), nil
}

func (f *scriptedFederate) RegisterSubscription(key string) (*Input, error) {
	in := NewInput(key)
	f.inputs[key] = in
	return in, nil
}

func (f *scriptedFederate) EnterExecutingMode(context.Context) error {
	f.entered = true
	return nil
}

var errScripted = errors.New("scripted failure")

func (f *scriptedFederate) RequestTime(_ context.Context, t time.Duration) (time.Duration, error) {
	n := len(f.requests)
	f.requests = append(f.requests, t)
	if n == f.failAt {
		return 0, errScripted
	}
	for key, v := range f.deliveries[n] {
		if in, ok := f.inputs[key]; ok {
			in.Deliver(v)
		}
	}
	if n > 0 {
		return t + f.grantShift, nil
	}
	return t, nil
}

func (f *scriptedFederate) Finalize(context.Context) error {
	f.finalized = true
	return nil
}

func (f *scriptedFederate) Abort(_ context.Context, cause error) error {
	f.aborted = cause
	return nil
}

// call is one ordered solver interaction.
type call struct {
	op    string
	class string
	name  string
	kw    float64
}

// fakeSolver keeps the last commanded power of every device and reports
// circuit totals as their sum.
type fakeSolver struct {
	calls    []call
	power    map[string]float64
	commands []string
	solveErr error
	tables   map[string]*InfoTable
}

func newFakeSolver() *fakeSolver {
	return &fakeSolver{power: make(map[string]float64), tables: make(map[string]*InfoTable)}
}

func (s *fakeSolver) Command(cmd string) (string, error) {
	s.commands = append(s.commands, cmd)
	return "ok", nil
}

func (s *fakeSolver) ElementTable(class string) (*InfoTable, error) {
	t, ok := s.tables[class]
	if !ok {
		return nil, fmt.Errorf("unknown class %s", class)
	}
	return t, nil
}

func (s *fakeSolver) SetPower(class, name string, kw float64) error {
	s.calls = append(s.calls, call{op: "set", class: class, name: name, kw: kw})
	s.power[class+"."+name] = kw
	return nil
}

func (s *fakeSolver) Solve() error {
	s.calls = append(s.calls, call{op: "solve"})
	return s.solveErr
}

func (s *fakeSolver) CircuitInfo() (*Record, error) {
	keys := make([]string, 0, len(s.power))
	for k := range s.power {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += s.power[k]
	}
	rec := NewRecord()
	rec.Set("Total Power (kW)", total)
	return rec, nil
}

func (s *fakeSolver) BusVoltages(bool) (*Record, error) {
	rec := NewRecord()
	rec.Set("650", 1.0)
	rec.Set("632", 0.98)
	return rec, nil
}

func (s *fakeSolver) Power(class, name string, _ int) (float64, float64, error) {
	return s.power[class+"."+name], 0.1, nil
}

func (s *fakeSolver) Voltage(string, string) (float64, error) { return 0.99, nil }

func (s *fakeSolver) Property(_, _, property string) (string, error) {
	if property == "%stored" {
		return " 50 ", nil
	}
	return "", fmt.Errorf("unknown property %s", property)
}

func (s *fakeSolver) Close() error { return nil }

// sets returns the SetPower calls issued before the n-th solve (0-based).
func (s *fakeSolver) sets(n int) []call {
	var out []call
	solves := 0
	for _, c := range s.calls {
		if c.op == "solve" {
			if solves == n {
				return out
			}
			solves++
			out = nil
			continue
		}
		out = append(out, c)
	}
	return nil
}

type memorySink struct {
	datasets []*Dataset
	err      error
}

func (s *memorySink) Write(_ context.Context, ds *Dataset) error {
	if s.err != nil {
		return s.err
	}
	s.datasets = append(s.datasets, ds)
	return nil
}

func (s *memorySink) Close() error { return nil }
