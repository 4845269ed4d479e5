package cosim

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/NREL/dss-cosim/cosim/trace"
)

// SourceChannel is one published device class: a static rating table scaled
// by a preloaded per-step profile.
type SourceChannel struct {
	Key     string
	Ratings Ratings
	Profile Profile
}

// Setpoints returns rating[d] × profile[step] for every rated device.
func (c SourceChannel) Setpoints(step int) (Setpoints, error) {
	mult, err := c.Profile.At(step)
	if err != nil {
		return nil, err
	}
	return c.Ratings.Scale(mult), nil
}

// SourceConfig configures a SourceFederate.
type SourceConfig struct {
	Schedule Schedule
	Channels []SourceChannel
	Observers
}

type sourceBinding struct {
	SourceChannel
	pub *Publication
}

// SourceFederate computes and publishes deterministic setpoints every step.
type SourceFederate struct {
	driver
	channels []sourceBinding
}

// NewSourceFederate registers one publication per channel on fed.
func NewSourceFederate(fed Federate, cfg SourceConfig) (*SourceFederate, error) {
	d, err := newDriver(fed, cfg.Schedule, 0, cfg.Observers)
	if err != nil {
		return nil, err
	}
	s := &SourceFederate{driver: d}
	for _, ch := range cfg.Channels {
		pub, err := fed.RegisterPublication(ch.Key)
		if err != nil {
			return nil, fmt.Errorf("registering publication %s: %w", ch.Key, err)
		}
		s.channels = append(s.channels, sourceBinding{SourceChannel: ch, pub: pub})
	}
	return s, nil
}

// Run executes the full schedule, then persists the rating table and
// finalizes the session.
func (s *SourceFederate) Run(ctx context.Context) error {
	return s.run(ctx, s.step, s.finish)
}

func (s *SourceFederate) step(_ context.Context, step int) error {
	for _, ch := range s.channels {
		sp, err := ch.Setpoints(step)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		payload, err := sp.Encode()
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		if err := ch.pub.Publish(payload); err != nil {
			return fmt.Errorf("publishing %s: %w", ch.Key, err)
		}

		s.log.WithFields(logrus.Fields{
			"step": step,
			"time": s.schedule.At(step),
		}).Debugf("Sent value: %s = %s", ch.Key, payload)
		s.obs.Trace.RecordExchange(trace.ExchangeRecord{
			Federate:  s.fed.Name(),
			Step:      step,
			Channel:   ch.Key,
			Direction: trace.Sent,
			Updated:   true,
			Setpoints: sp,
		})
	}
	return nil
}

func (s *SourceFederate) finish(ctx context.Context) error {
	if err := s.obs.Sink.Write(ctx, s.dataset(nil, []*InfoTable{s.ratingsTable()})); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// ratingsTable lists every rated device across all channels.
func (s *SourceFederate) ratingsTable() *InfoTable {
	info := &InfoTable{
		Name:    "device_ratings",
		Columns: []string{"channel", "device", "rating_kw"},
	}
	for _, ch := range s.channels {
		for _, name := range ch.Ratings.Names() {
			info.Rows = append(info.Rows, []string{
				ch.Key,
				name,
				strconv.FormatFloat(ch.Ratings[name], 'f', -1, 64),
			})
		}
	}
	return info
}
