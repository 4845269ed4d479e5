package cosim

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the federate loops.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Steps          *prometheus.CounterVec
	GrantWait      *prometheus.HistogramVec
	GrantedTime    *prometheus.GaugeVec
	ChannelUpdates *prometheus.CounterVec
	Applied        *prometheus.CounterVec
	SolveLatency   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cosim_steps_total",
			Help: "Loop iterations completed per federate.",
		}, []string{"federate"}),
		GrantWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cosim_time_grant_wait_seconds",
			Help:    "Wall-clock time spent blocked in a time request.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"federate"}),
		GrantedTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cosim_granted_time_seconds",
			Help: "Last granted simulation time, in seconds from the scenario start.",
		}, []string{"federate"}),
		ChannelUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cosim_channel_updates_total",
			Help: "Subscription polls, split by whether a new value was present.",
		}, []string{"channel", "updated"}),
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cosim_setpoints_applied_total",
			Help: "Device setpoints applied to the solver.",
		}, []string{"channel"}),
		SolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cosim_solve_seconds",
			Help:    "Wall-clock time of one solver step.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.Steps, m.GrantWait, m.GrantedTime, m.ChannelUpdates, m.Applied, m.SolveLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeGrant(federate string, waited time.Duration, granted time.Duration) {
	if m == nil {
		return
	}
	m.GrantWait.WithLabelValues(federate).Observe(waited.Seconds())
	m.GrantedTime.WithLabelValues(federate).Set(granted.Seconds())
}

func (m *Metrics) observeStep(federate string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(federate).Inc()
}

func (m *Metrics) observePoll(channel string, updated bool) {
	if m == nil {
		return
	}
	m.ChannelUpdates.WithLabelValues(channel, strconv.FormatBool(updated)).Inc()
}

func (m *Metrics) observeApplied(channel string, n int) {
	if m == nil {
		return
	}
	m.Applied.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) observeSolve(d time.Duration) {
	if m == nil {
		return
	}
	m.SolveLatency.Observe(d.Seconds())
}
