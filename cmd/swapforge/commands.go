package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pipelinehealth "github.com/swapforge/swapforge/internal/health"
	"github.com/swapforge/swapforge/internal/reporter"
	"github.com/swapforge/swapforge/pkg/api"
	"github.com/swapforge/swapforge/pkg/health"
	"github.com/swapforge/swapforge/pkg/status"
	"github.com/swapforge/swapforge/pkg/types"
)

// helperComponent adapts a single readiness probe (kernel module
// presence, helper binary executability) into internal/health's
// HealthyComponent interface so it shows up in the preflight Monitor
// alongside the checks it registers by default.
type helperComponent struct {
	name  string
	kind  string
	check func(ctx context.Context) error
}

func (h *helperComponent) HealthCheck(ctx context.Context) error { return h.check(ctx) }
func (h *helperComponent) GetComponentName() string              { return h.name }
func (h *helperComponent) GetComponentType() string              { return h.kind }

// newPreflightMonitor builds the internal/health Monitor backing
// /healthz: the default zswap/zram/scratch-space checks plus one
// HealthyComponent per helper binary resolveHelperPaths located, so a
// missing or non-executable swaplock/swappressure/swapiogen shows up
// before a bench run ever tries to exec it.
func newPreflightMonitor(lockerPath, pressurizerPath, iogenPath string) (*pipelinehealth.Monitor, error) {
	monitor, err := pipelinehealth.NewMonitor(nil)
	if err != nil {
		return nil, fmt.Errorf("create preflight monitor: %w", err)
	}
	if err := monitor.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start preflight monitor: %w", err)
	}

	helpers := []struct{ name, path string }{
		{"locker", lockerPath},
		{"pressurizer", pressurizerPath},
		{"iogen", iogenPath},
	}
	for _, h := range helpers {
		path := h.path
		component := &helperComponent{
			name: h.name,
			kind: "helper",
			check: func(ctx context.Context) error {
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("helper binary %s: %w", path, err)
				}
				if info.Mode()&0o111 == 0 {
					return fmt.Errorf("helper binary %s is not executable", path)
				}
				return nil
			},
		}
		if err := monitor.RegisterComponent(component); err != nil {
			return nil, fmt.Errorf("register %s readiness check: %w", h.name, err)
		}
	}

	return monitor, nil
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, per spec
// §5's cancellation contract: "a top-level signal triggers ordered
// cleanup."
func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run the Inventory Probe (C1) and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()

			inv, err := e.prober.ProbeSystem(ctx)
			if err != nil {
				return err
			}
			return printJSON(inv)
		},
	}
}

func newBenchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Run the Benchmark Engine (C3) against the probed inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()
			release, err := e.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			inv, err := e.prober.ProbeSystem(ctx)
			if err != nil {
				return err
			}
			result, err := e.bencher.Run(ctx, *inv, e.cfg.Overrides.Overrides)
			if result != nil {
				if jsonErr := printJSON(result); jsonErr != nil {
					return jsonErr
				}
			}
			return err
		},
	}
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Compute the Plan (C4) from a fresh probe + benchmark run",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()
			release, err := e.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			inv, err := e.prober.ProbeSystem(ctx)
			if err != nil {
				return err
			}
			bench, err := e.bencher.Run(ctx, *inv, e.cfg.Overrides.Overrides)
			if err != nil && bench == nil {
				return err
			}
			p, err := e.planner.Calculate(*inv, *bench, e.cfg.Overrides.Overrides)
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
}

func newPartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partition",
		Short: "Run the Partition Transformer (C5): plan, backup, write or schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()
			release, err := e.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			inv, err := e.prober.ProbeSystem(ctx)
			if err != nil {
				return err
			}
			bench, err := e.bencher.Run(ctx, *inv, e.cfg.Overrides.Overrides)
			if err != nil && bench == nil {
				return err
			}
			p, err := e.planner.Calculate(*inv, *bench, e.cfg.Overrides.Overrides)
			if err != nil {
				return err
			}
			pp, exitCode, err := e.applyPartitionPlan(ctx, *inv, *p, e.cfg.Overrides.Overrides)
			if err != nil {
				return err
			}
			if jsonErr := printJSON(pp); jsonErr != nil {
				return jsonErr
			}
			if exitCode == exitOfflineShrinkPending {
				os.Exit(exitOfflineShrinkPending)
			}
			return nil
		},
	}
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Run the Swap Activator (C6) against the most recent PartitionPlan",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()
			release, err := e.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			last, err := reporter.ReadLatest(e.cfg.Engine.LogRoot)
			if err != nil {
				return fmt.Errorf("no persisted run to activate from; run `swapforge run` or `plan`+`partition` first: %w", err)
			}
			if last.PartitionPlan == nil || last.Plan == nil {
				return fmt.Errorf("most recent run has no partition plan to activate")
			}
			return e.activateAndTune(ctx, *last.PartitionPlan, *last.Plan)
		},
	}
}

func newTunablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tunables",
		Short: "Apply the Kernel Tunable Manager (C7) drop-in from the most recent Plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()

			last, err := reporter.ReadLatest(e.cfg.Engine.LogRoot)
			if err != nil {
				return fmt.Errorf("no persisted run to read tunables from: %w", err)
			}
			if last.Plan == nil {
				return fmt.Errorf("most recent run has no plan")
			}
			return e.tunemgr.Apply(ctx, last.Plan.Tunables)
		},
	}
}

func newReportCmd() *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the most recent RunReport's human-readable summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}

			last, err := reporter.ReadLatest(e.cfg.Engine.LogRoot)
			if err != nil {
				return fmt.Errorf("no persisted run to report on: %w", err)
			}
			fmt.Print(e.reportr.Summarize(last))

			if serve {
				return serveStatusAndHealth(e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "start the metrics/health/status HTTP endpoints and block until interrupted (SPEC_FULL §2.8)")
	return cmd
}

// serveStatusAndHealth starts the Prometheus metrics endpoint plus the
// /healthz and /status surfaces SPEC_FULL §2.8 adds on top of spec.md's
// Reporter, so an operator (or the notification-transport collaborator
// named in spec §1) can poll progress of a long benchmark without
// tailing a log file. Blocks until the process receives SIGINT/SIGTERM.
func serveStatusAndHealth(e *engine) error {
	ctx, cancel := rootContext()
	defer cancel()

	if err := e.metrics.Start(ctx); err != nil {
		return fmt.Errorf("start metrics endpoint: %w", err)
	}
	defer e.metrics.Stop(context.Background())

	statusTracker := status.NewTracker(status.DefaultTrackerConfig())
	healthTracker := health.NewTracker(health.DefaultConfig())

	lockerPath, pressurizerPath, iogenPath, err := resolveHelperPaths()
	if err != nil {
		return err
	}
	preflight, err := newPreflightMonitor(lockerPath, pressurizerPath, iogenPath)
	if err != nil {
		return fmt.Errorf("create preflight monitor: %w", err)
	}
	defer func() { _ = preflight.Stop() }()

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = fmt.Sprintf("localhost:%d", e.cfg.Engine.HealthPort)
	server := api.NewServer(serverCfg, statusTracker, healthTracker, preflight)
	server.StartBackground()
	defer server.Shutdown(context.Background())

	e.logger.WithComponent("report").Info("serving status/health", map[string]interface{}{
		"address": serverCfg.Address,
	})
	<-ctx.Done()
	return nil
}

func newFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Run the post-reboot finalizer: format scheduled swap partitions and persist mount entries",
		Long: "finalize is invoked by the one-shot service SCHEDULE_INITRAMFS installs " +
			"(spec §4.5). It reads the RunReport the pre-reboot run persisted, " +
			"confirms the scheduled swap partitions now exist, then runs C6+C7 " +
			"exactly as `activate`+`tunables` would on the live-reconfiguration path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()
			release, err := e.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			last, err := reporter.ReadLatest(e.cfg.Engine.LogRoot)
			if err != nil {
				return fmt.Errorf("no persisted pre-reboot run found: %w", err)
			}
			if last.FinalState != types.FinalStateOfflineShrinkPending || last.PartitionPlan == nil || last.Plan == nil {
				return fmt.Errorf("most recent run was not an offline-shrink-pending run; nothing to finalize")
			}

			if err := e.activateAndTune(ctx, *last.PartitionPlan, *last.Plan); err != nil {
				last.FinalState = types.FinalStatePartitionsPartial
				last.Warnings = append(last.Warnings, err.Error())
				_ = e.reportr.Write(ctx, last)
				return err
			}

			last.FinalState = types.FinalStatePlanComplete
			return e.reportr.Write(ctx, last)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: probe, bench, plan, partition, activate, tunables, report",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx, cancel := rootContext()
			defer cancel()

			report, code := e.runPipeline(ctx)
			if writeErr := e.reportr.Write(ctx, report); writeErr != nil {
				e.logger.WithComponent("run").Error("failed to persist run report", map[string]interface{}{"error": writeErr.Error()})
			}
			fmt.Print(e.reportr.Summarize(report))

			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
}
