package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NREL/dss-cosim/cosim"
	"github.com/NREL/dss-cosim/cosim/trace"

	// registers the OpenDSS solver
	_ "github.com/NREL/dss-cosim/cosim/dss"
)

// settings resolves every runtime flag: an explicit flag wins over its
// COSIM_* environment variable, which wins over the flag default.
var settings *viper.Viper

func newSettings(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("COSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		logrus.Fatalf("Failed to bind flags: %v", err)
	}
	return v
}

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dss-cosim",
	Short: "Fixed-step co-simulation of a distribution circuit and its setpoint sources",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging()
	},
	SilenceUsage: true,
}

// options are the resolved runtime settings shared by every subcommand.
type options struct {
	Scenario    string
	Results     string
	BrokerURL   string
	MetricsAddr string
	TraceLevel  trace.TraceLevel
	RunID       string
}

func loadOptions() (options, error) {
	opts := options{
		Scenario:    settings.GetString("scenario"),
		Results:     settings.GetString("results"),
		BrokerURL:   settings.GetString("broker-url"),
		MetricsAddr: settings.GetString("metrics-addr"),
		TraceLevel:  trace.TraceLevel(settings.GetString("trace-level")),
		RunID:       settings.GetString("run-id"),
	}
	if opts.Scenario == "" {
		return options{}, fmt.Errorf("--scenario is required")
	}
	if !trace.IsValidTraceLevel(string(opts.TraceLevel)) {
		return options{}, fmt.Errorf("invalid trace level %q", opts.TraceLevel)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return opts, nil
}

// loadScenario reads the scenario and applies command-line overrides.
func (o options) loadScenario() (*cosim.Scenario, error) {
	sc, err := cosim.LoadScenario(o.Scenario)
	if err != nil {
		return nil, err
	}
	if o.BrokerURL != "" {
		sc.Broker.URL = o.BrokerURL
	}
	return sc, nil
}

// resultsTarget prefers --results, taken relative to the working directory,
// over the scenario's own target.
func (o options) resultsTarget(sc *cosim.Scenario) string {
	if o.Results != "" {
		return o.Results
	}
	return sc.ResultsTarget()
}

func configureLogging() error {
	level, err := logrus.ParseLevel(settings.GetString("log"))
	if err != nil {
		return fmt.Errorf("invalid log level %q", settings.GetString("log"))
	}
	logrus.SetLevel(level)

	switch format := settings.GetString("log-format"); format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("scenario", "scenarios/ieee13.yaml", "Scenario YAML file")
	flags.String("log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("results", "", "Results directory, postgres:// DSN or mongodb:// URI; overrides the scenario")
	flags.String("broker-url", "", "NATS server URL; overrides the scenario")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("trace-level", "none", "Coordination trace level (none, steps)")
	flags.String("run-id", "", "Run identifier shared by every federate of a run (default: random UUID)")

	settings = newSettings(flags)

	rootCmd.AddCommand(runCmd, brokerCmd, sourceCmd, gridCmd)
}
