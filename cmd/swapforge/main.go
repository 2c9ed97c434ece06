// Command swapforge is the adaptive swap-configuration engine's
// orchestrator: the long-lived, single-threaded-cooperative process that
// drives Inventory -> Benchmark -> Plan -> Partition -> Activate ->
// Tunables -> Report, in that strict sequence (spec §5), plus a
// `finalize` entry point for the post-reboot side of an offline root
// shrink.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swapforge/swapforge/internal/config"
	"github.com/swapforge/swapforge/pkg/utils"
)

// exit codes, per spec §6.
const (
	exitOK                   = 0
	exitFailure               = 1
	exitOfflineShrinkPending  = 42
)

var (
	cfgFile    string
	dryRunFlag bool
	debugFlag  bool
	logLevel   string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitFailure)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swapforge",
		Short: "Adaptive swap-configuration engine",
		Long: "swapforge measures this machine's compressed-swap behavior, " +
			"derives a swap topology, repartitions the root disk, and " +
			"activates the result — or schedules an offline finalization " +
			"when the root filesystem cannot shrink online.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML overrides file (spec §6)")
	cmd.PersistentFlags().BoolVar(&dryRunFlag, "dry-run", false, "compute a Plan/PartitionPlan but perform no writes")
	cmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "record a per-stage debug trace of this run")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "TRACE, DEBUG, INFO, WARN, ERROR, or FATAL")

	cmd.AddCommand(
		newProbeCmd(),
		newBenchCmd(),
		newPlanCmd(),
		newPartitionCmd(),
		newActivateCmd(),
		newTunablesCmd(),
		newReportCmd(),
		newFinalizeCmd(),
		newRunCmd(),
	)
	return cmd
}

// loadConfiguration applies the precedence of spec §6 / SPEC_FULL §2.4:
// compiled-in defaults, then an optional YAML file, then environment
// variables, then the CLI flags bound directly above (highest
// precedence, applied last by each command).
func loadConfiguration() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	if dryRunFlag {
		cfg.Engine.DryRun = true
	}
	if debugFlag {
		cfg.Engine.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(logLevel)
	if err != nil {
		level, err = utils.ParseLogLevel(cfg.Engine.LogLevel)
		if err != nil {
			level = utils.INFO
		}
	}

	out := os.Stderr
	loggerCfg := utils.DefaultStructuredLoggerConfig()
	loggerCfg.Level = level
	loggerCfg.Output = out
	loggerCfg.Format = utils.FormatJSON

	return utils.NewStructuredLogger(loggerCfg)
}
