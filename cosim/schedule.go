package cosim

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule is returned by Schedule.Validate.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedule is the discretized timeline every federate walks through.
// Simulation time is expressed as an offset from Start.
type Schedule struct {
	Start    time.Time
	Step     time.Duration
	Duration time.Duration
}

// Validate rejects schedules that cannot be stepped.
func (s Schedule) Validate() error {
	if s.Step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %s", ErrInvalidSchedule, s.Step)
	}
	if s.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative, got %s", ErrInvalidSchedule, s.Duration)
	}
	return nil
}

// Steps returns the number of loop iterations, inclusive of both the start
// and the end instant: floor(Duration/Step) + 1.
func (s Schedule) Steps() int {
	return int(s.Duration/s.Step) + 1
}

// Offset returns the simulation time of the given step index.
func (s Schedule) Offset(step int) time.Duration {
	return time.Duration(step) * s.Step
}

// At returns the wall-calendar instant of the given step index.
func (s Schedule) At(step int) time.Time {
	return s.Start.Add(s.Offset(step))
}

// End returns the instant of the last step.
func (s Schedule) End() time.Time {
	return s.At(s.Steps() - 1)
}
