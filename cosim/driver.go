package cosim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NREL/dss-cosim/cosim/trace"
)

// ErrClockRegression is returned when a grant moves simulation time backwards.
var ErrClockRegression = errors.New("granted time went backwards")

// Observers carries the optional per-run collaborators shared by both
// federate kinds. The zero value records nothing and discards results.
type Observers struct {
	RunID   string
	Sink    Sink
	Trace   *trace.SimulationTrace
	Metrics *Metrics
	Logger  *logrus.Entry
}

// driver is the fixed-step loop common to every federate: one coordinated
// time request per iteration, then the federate's own step body.
type driver struct {
	fed      Federate
	schedule Schedule
	offset   time.Duration
	obs      Observers
	log      *logrus.Entry
	granted  time.Duration
	steps    int
}

func newDriver(fed Federate, sched Schedule, offset time.Duration, obs Observers) (driver, error) {
	if err := sched.Validate(); err != nil {
		return driver{}, err
	}
	if obs.Sink == nil {
		obs.Sink = DiscardSink{}
	}
	log := obs.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return driver{
		fed:      fed,
		schedule: sched,
		offset:   offset,
		obs:      obs,
		log:      log.WithField("federate", fed.Name()),
		granted:  -1,
	}, nil
}

// run enters executing mode and walks the whole schedule. Any error aborts
// the co-simulation; nothing is retried.
func (d *driver) run(ctx context.Context, body func(ctx context.Context, step int) error, finish func(ctx context.Context) error) (err error) {
	defer func() {
		if err != nil {
			if abortErr := d.fed.Abort(context.WithoutCancel(ctx), err); abortErr != nil {
				d.log.WithError(abortErr).Warn("Abort failed")
			}
		}
	}()

	if err := d.fed.EnterExecutingMode(ctx); err != nil {
		return fmt.Errorf("entering executing mode: %w", err)
	}
	d.log.WithField("steps", d.schedule.Steps()).Info("Entered executing mode")

	for step := 0; step < d.schedule.Steps(); step++ {
		if err := d.advance(ctx, step); err != nil {
			return err
		}
		if err := body(ctx, step); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		d.steps++
		d.obs.Metrics.observeStep(d.fed.Name())
	}

	if err := finish(ctx); err != nil {
		return err
	}
	if err := d.fed.Finalize(ctx); err != nil {
		return fmt.Errorf("finalizing: %w", err)
	}
	d.log.WithField("steps", d.steps).Info("Finalized")
	return nil
}

// advance requests the coordinated time of step and blocks until granted.
func (d *driver) advance(ctx context.Context, step int) error {
	requested := d.schedule.Offset(step) + d.offset
	began := time.Now()
	granted, err := d.fed.RequestTime(ctx, requested)
	if err != nil {
		return fmt.Errorf("step %d: requesting time %s: %w", step, requested, err)
	}
	if granted < d.granted {
		return fmt.Errorf("step %d: %w: %s < %s", step, ErrClockRegression, granted, d.granted)
	}
	d.granted = granted

	d.obs.Metrics.observeGrant(d.fed.Name(), time.Since(began), granted)
	d.obs.Trace.RecordGrant(trace.GrantRecord{
		Federate:  d.fed.Name(),
		Step:      step,
		Requested: requested,
		Granted:   granted,
	})
	return nil
}

// dataset assembles the run's tables for the sink.
func (d *driver) dataset(series []*Table, info []*InfoTable) *Dataset {
	return &Dataset{
		RunID:    d.obs.RunID,
		Federate: d.fed.Name(),
		Start:    d.schedule.Start,
		Step:     d.schedule.Step,
		Series:   series,
		Info:     info,
	}
}

// Steps returns the number of completed loop iterations.
func (d *driver) Steps() int { return d.steps }
