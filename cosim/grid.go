package cosim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NREL/dss-cosim/cosim/trace"
)

// GridChannel is one subscribed device class on the grid side.
type GridChannel struct {
	Key       string
	Class     string
	Polarity  Polarity
	Telemetry Telemetry
}

// GridConfig configures a GridFederate.
type GridConfig struct {
	Schedule Schedule
	// TimeOffset is added to every requested time so producers at t publish
	// before the grid applies and solves.
	TimeOffset time.Duration
	Channels   []GridChannel
	Elements   []ElementMetric
	// InfoClasses are captured once with Solver.ElementTable before the loop.
	InfoClasses []string
	// Commands are raw solver commands run once before the loop.
	Commands        []string
	MaxPayloadBytes int
	Observers
}

type gridBinding struct {
	GridChannel
	in *Input
}

// GridFederate applies received setpoints to the circuit, solves once per
// step and records telemetry.
type GridFederate struct {
	driver
	solver   Solver
	channels []gridBinding
	recorder *Recorder
	info     []*InfoTable
	cfg      GridConfig
}

// NewGridFederate registers one subscription per channel on fed. The solver
// is owned by the federate for the length of the run but not closed by it.
func NewGridFederate(fed Federate, solver Solver, cfg GridConfig) (*GridFederate, error) {
	d, err := newDriver(fed, cfg.Schedule, cfg.TimeOffset, cfg.Observers)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	for _, m := range cfg.Elements {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	g := &GridFederate{
		driver:   d,
		solver:   solver,
		recorder: NewRecorder(solver, cfg.Elements, cfg.Channels),
		cfg:      cfg,
	}
	for _, ch := range cfg.Channels {
		if _, err := ParsePolarity(string(ch.Polarity)); err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		in, err := fed.RegisterSubscription(ch.Key)
		if err != nil {
			return nil, fmt.Errorf("registering subscription %s: %w", ch.Key, err)
		}
		g.channels = append(g.channels, gridBinding{GridChannel: ch, in: in})
	}
	return g, nil
}

// Run prepares the circuit, executes the full schedule, then writes every
// result table and finalizes the session.
func (g *GridFederate) Run(ctx context.Context) error {
	if err := g.setup(); err != nil {
		abortErr := g.fed.Abort(context.WithoutCancel(ctx), err)
		if abortErr != nil {
			g.log.WithError(abortErr).Warn("Abort failed")
		}
		return err
	}
	return g.run(ctx, g.step, g.finish)
}

func (g *GridFederate) setup() error {
	for _, cmd := range g.cfg.Commands {
		out, err := g.solver.Command(cmd)
		if err != nil {
			return fmt.Errorf("solver command %q: %w", cmd, err)
		}
		g.log.WithField("result", out).Debugf("Ran solver command: %s", cmd)
	}
	for _, class := range g.cfg.InfoClasses {
		table, err := g.solver.ElementTable(class)
		if err != nil {
			return fmt.Errorf("listing %s elements: %w", class, err)
		}
		table.Name = InfoTableName(class)
		g.info = append(g.info, table)
	}
	return nil
}

func (g *GridFederate) step(_ context.Context, step int) error {
	at := g.schedule.At(step)
	applied := make([]AppliedChannel, 0, len(g.channels))
	for _, ch := range g.channels {
		sp, err := g.receive(step, ch)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		if err := g.apply(ch, sp); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		applied = append(applied, AppliedChannel{Key: ch.Key, Class: ch.Class, Setpoints: sp})
	}

	began := time.Now()
	if err := g.solver.Solve(); err != nil {
		return fmt.Errorf("solving: %w", err)
	}
	g.obs.Metrics.observeSolve(time.Since(began))

	return g.recorder.Record(step, at, applied)
}

// receive polls the channel once. Without an update the step's mapping is
// empty, never a repeat of the previous value. The returned mapping already
// carries the channel's polarity.
func (g *GridFederate) receive(step int, ch gridBinding) (Setpoints, error) {
	payload, updated := ch.in.Poll()
	g.obs.Metrics.observePoll(ch.Key, updated)

	sp := Setpoints{}
	if updated {
		decoded, err := DecodeSetpoints(payload, g.cfg.MaxPayloadBytes)
		if err != nil {
			return nil, err
		}
		for name, v := range decoded {
			sp[name] = ch.Polarity.Apply(v)
		}
		g.log.WithFields(logrus.Fields{
			"step": step,
			"time": g.schedule.At(step),
		}).Debugf("Received value: %s = %s", ch.Key, payload)
	}

	g.obs.Trace.RecordExchange(trace.ExchangeRecord{
		Federate:  g.fed.Name(),
		Step:      step,
		Channel:   ch.Key,
		Direction: trace.Received,
		Updated:   updated,
		Setpoints: sp,
	})
	return sp, nil
}

// apply pushes each setpoint to the solver in sorted device order. Devices
// absent from sp keep whatever the solver last held.
func (g *GridFederate) apply(ch gridBinding, sp Setpoints) error {
	for _, name := range sp.Names() {
		if err := g.solver.SetPower(ch.Class, name, sp[name]); err != nil {
			return fmt.Errorf("setting %s.%s: %w", ch.Class, name, err)
		}
	}
	g.obs.Metrics.observeApplied(ch.Key, len(sp))
	return nil
}

func (g *GridFederate) finish(ctx context.Context) error {
	if err := g.obs.Sink.Write(ctx, g.dataset(g.recorder.Tables(), g.info)); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// Tables exposes the recorded result tables.
func (g *GridFederate) Tables() []*Table { return g.recorder.Tables() }
