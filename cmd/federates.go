package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/NREL/dss-cosim/cosim"
	"github.com/NREL/dss-cosim/cosim/broker"
	"github.com/NREL/dss-cosim/cosim/natsbus"
)

// brokerCmd serves time coordination over NATS until every federate finalized
var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Serve time coordination for distributed federates over NATS",
	Run: func(cmd *cobra.Command, args []string) {
		runDistributed(serveBroker)
	},
}

// sourceCmd runs the setpoint producer against a remote broker
var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Run the setpoint source federate against a NATS broker",
	Run: func(cmd *cobra.Command, args []string) {
		runDistributed(func(ctx context.Context, opts options) error {
			return runRemoteFederate(ctx, opts, func(s *cosim.Scenario) string { return s.Source.Name },
				(*session).runSource)
		})
	},
}

// gridCmd runs the circuit federate against a remote broker
var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Run the grid federate against a NATS broker",
	Run: func(cmd *cobra.Command, args []string) {
		runDistributed(func(ctx context.Context, opts options) error {
			return runRemoteFederate(ctx, opts, func(s *cosim.Scenario) string { return s.Grid.Name },
				(*session).runGrid)
		})
	},
}

func runDistributed(fn func(ctx context.Context, opts options) error) {
	opts, err := loadOptions()
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, opts); err != nil {
		logrus.Fatalf("Co-simulation failed: %v", err)
	}
	logrus.Info("Co-simulation complete.")
}

func connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("dss-cosim"))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return conn, nil
}

func serveBroker(ctx context.Context, opts options) error {
	sc, err := opts.loadScenario()
	if err != nil {
		return err
	}
	conn, err := connect(sc.Broker.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	log := logrus.WithField("run_id", opts.RunID)
	core := broker.NewCore(sc.Broker.Federates, log)
	srv := natsbus.NewServer(conn, sc.Broker.Prefix, core, log)
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	log.WithFields(logrus.Fields{
		"url":       conn.ConnectedUrl(),
		"prefix":    sc.Broker.Prefix,
		"federates": sc.Broker.Federates,
	}).Info("Broker ready")
	return core.Wait(ctx)
}

func runRemoteFederate(ctx context.Context, opts options, name func(*cosim.Scenario) string,
	run func(*session, context.Context, cosim.Federate) error) error {
	sess, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.close()
	stopMetrics := sess.startMetrics()
	defer stopMetrics()

	sc := sess.scenario
	conn, err := connect(sc.Broker.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	fed, err := natsbus.NewFederate(ctx, conn, sc.Broker.Prefix, name(sc), sc.Broker.Timeout)
	if err != nil {
		return err
	}
	return run(sess, ctx, fed)
}
