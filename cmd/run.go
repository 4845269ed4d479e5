package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NREL/dss-cosim/cosim/broker"
)

// runCmd runs both federates in one process over an in-process coordinator
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the source and grid federates in one process",
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := loadOptions()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runInProcess(ctx, opts); err != nil {
			logrus.Fatalf("Co-simulation failed: %v", err)
		}
		logrus.Info("Co-simulation complete.")
	},
}

func runInProcess(ctx context.Context, opts options) error {
	sess, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.close()
	stopMetrics := sess.startMetrics()
	defer stopMetrics()

	sc := sess.scenario
	core := broker.NewCore(2, sess.log)
	sourceFed, err := broker.NewLocalFederate(core, sc.Source.Name)
	if err != nil {
		return err
	}
	gridFed, err := broker.NewLocalFederate(core, sc.Grid.Name)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.runSource(gctx, sourceFed) })
	g.Go(func() error { return sess.runGrid(gctx, gridFed) })
	if err := g.Wait(); err != nil {
		return err
	}
	return core.Err()
}
