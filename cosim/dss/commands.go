package dss

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NREL/dss-cosim/cosim"
)

// ErrNoCircuitFiles is returned when the circuit lists no files.
var ErrNoCircuitFiles = errors.New("circuit needs at least one file")

// SetupCommands returns the commands that load the circuit and configure a
// yearly time-series solution: the first file is compiled, the rest are
// redirected, then the step size and start time are set.
func SetupCommands(files []string, sched cosim.Schedule) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrNoCircuitFiles
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	cmds := []string{fmt.Sprintf("compile [%s]", files[0])}
	for _, f := range files[1:] {
		cmds = append(cmds, fmt.Sprintf("redirect [%s]", f))
	}
	hour, sec := HourOfYear(sched.Start)
	cmds = append(cmds,
		fmt.Sprintf("set mode=yearly number=1 stepsize=%s", formatSeconds(sched.Step)),
		fmt.Sprintf("set time=(%d,%s)", hour, strconv.FormatFloat(sec, 'f', -1, 64)),
	)
	return cmds, nil
}

// HourOfYear splits t into whole hours since the start of its year and the
// remaining seconds, the form the solver clock takes.
func HourOfYear(t time.Time) (int, float64) {
	yearStart := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(yearStart)
	hours := int(elapsed / time.Hour)
	return hours, (elapsed - time.Duration(hours)*time.Hour).Seconds()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// DispatchCommand returns the edit command that sets a device's active power.
// Storage takes a magnitude plus a state: positive discharges, negative
// charges, zero idles. Every other class takes kW directly.
func DispatchCommand(class, name string, kw float64) string {
	if strings.EqualFold(class, "Storage") {
		var state string
		switch {
		case kw > 0:
			state = "DISCHARGING"
		case kw < 0:
			state = "CHARGING"
			kw = -kw
		default:
			state, kw = "IDLING", 0
		}
		return fmt.Sprintf("edit %s.%s State=%s kW=%s", class, name, state, formatKW(kw))
	}
	return fmt.Sprintf("edit %s.%s kW=%s", class, name, formatKW(kw))
}

func formatKW(kw float64) string {
	return strconv.FormatFloat(kw, 'f', -1, 64)
}
