package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/NREL/dss-cosim/cosim"
	"github.com/NREL/dss-cosim/cosim/results"
	"github.com/NREL/dss-cosim/cosim/trace"
)

// session holds what one process needs to run its federates: the scenario,
// the results sink and the observability collaborators.
type session struct {
	opts     options
	scenario *cosim.Scenario
	sink     cosim.Sink
	trace    *trace.SimulationTrace
	registry *prometheus.Registry
	metrics  *cosim.Metrics
	log      *logrus.Entry
}

func openSession(ctx context.Context, opts options) (*session, error) {
	sc, err := opts.loadScenario()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := cosim.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	target := opts.resultsTarget(sc)
	sink, err := results.Open(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("opening results %s: %w", target, err)
	}

	log := logrus.WithField("run_id", opts.RunID)
	log.WithFields(logrus.Fields{
		"scenario": opts.Scenario,
		"results":  target,
		"steps":    sc.Schedule().Steps(),
	}).Info("Loaded scenario")

	return &session{
		opts:     opts,
		scenario: sc,
		sink:     sink,
		trace:    trace.NewSimulationTrace(trace.TraceConfig{Level: opts.TraceLevel}),
		registry: registry,
		metrics:  metrics,
		log:      log,
	}, nil
}

func (s *session) observers() cosim.Observers {
	return cosim.Observers{
		RunID:   s.opts.RunID,
		Sink:    s.sink,
		Trace:   s.trace,
		Metrics: s.metrics,
		Logger:  s.log,
	}
}

// startMetrics serves the registry over HTTP when --metrics-addr is set and
// returns the function that stops the server.
func (s *session) startMetrics() func() {
	addr := s.opts.MetricsAddr
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Metrics server failed")
		}
	}()
	s.log.WithField("addr", addr).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runSource builds the producer from the scenario and runs it on fed. A
// configuration failure aborts fed so peers do not wait on it.
func (s *session) runSource(ctx context.Context, fed cosim.Federate) error {
	cfg, err := s.scenario.SourceConfig(s.observers())
	if err != nil {
		return s.abort(ctx, fed, err)
	}
	src, err := cosim.NewSourceFederate(fed, cfg)
	if err != nil {
		return s.abort(ctx, fed, err)
	}
	return src.Run(ctx)
}

// runGrid loads the circuit and runs the consumer on fed. The solver is
// closed once the run ends.
func (s *session) runGrid(ctx context.Context, fed cosim.Federate) error {
	solver, err := cosim.NewSolver(ctx, s.scenario.CircuitConfig(), s.scenario.Schedule())
	if err != nil {
		return s.abort(ctx, fed, fmt.Errorf("loading circuit: %w", err))
	}
	defer func() {
		if err := solver.Close(); err != nil {
			s.log.WithError(err).Warn("Closing solver failed")
		}
	}()

	grid, err := cosim.NewGridFederate(fed, solver, s.scenario.GridConfig(s.observers()))
	if err != nil {
		return s.abort(ctx, fed, err)
	}
	return grid.Run(ctx)
}

func (s *session) abort(ctx context.Context, fed cosim.Federate, cause error) error {
	if err := fed.Abort(context.WithoutCancel(ctx), cause); err != nil {
		s.log.WithError(err).Warn("Abort failed")
	}
	return fmt.Errorf("%s: %w", fed.Name(), cause)
}

// close releases the sink and logs the trace summary, if tracing was on.
func (s *session) close() {
	if s.trace.Enabled() {
		summary := trace.Summarize(s.trace)
		s.log.WithFields(logrus.Fields{
			"grants":           summary.TotalGrants,
			"steps":            summary.StepsByFederate,
			"sent":             summary.SentExchanges,
			"received_updated": summary.UpdatedReceived,
			"received_empty":   summary.EmptyReceived,
			"applied":          summary.AppliedValues,
			"max_grant_lag":    summary.MaxGrantLag,
		}).Info("Coordination trace summary")
	}
	if err := s.sink.Close(); err != nil {
		s.log.WithError(err).Warn("Closing results sink failed")
	}
}
