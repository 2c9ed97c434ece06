package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/swapforge/swapforge/internal/activator"
	"github.com/swapforge/swapforge/internal/bench"
	"github.com/swapforge/swapforge/internal/config"
	"github.com/swapforge/swapforge/internal/inventory"
	"github.com/swapforge/swapforge/internal/lock"
	"github.com/swapforge/swapforge/internal/metrics"
	"github.com/swapforge/swapforge/internal/partition"
	"github.com/swapforge/swapforge/internal/plan"
	"github.com/swapforge/swapforge/internal/pressure"
	"github.com/swapforge/swapforge/internal/reporter"
	"github.com/swapforge/swapforge/internal/tunables"
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

// engine bundles every stage's concrete implementation plus the shared
// logger/metrics/config, wired the same way regardless of which
// subcommand is driving the pipeline. Building this once per invocation
// keeps `cmd/swapforge probe`, `... bench`, and `... run` consistent
// with each other (spec §5's strict-sequence, fully-persisted-artifacts
// discipline applies whether the operator drives it stage by stage or
// with a single `run`).
type engine struct {
	cfg      *config.Configuration
	logger   *utils.StructuredLogger
	metrics  *metrics.Collector
	prober   *inventory.Prober
	bencher  *bench.Engine
	planner  *plan.Calculator
	xformer  *partition.Transformer
	schedule *partition.Scheduler
	actr     *activator.Activator
	tunemgr  *tunables.Manager
	reportr  *reporter.Reporter

	debugSessionID string
}

func newEngine() (*engine, error) {
	cfg, err := loadConfiguration()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Engine.MetricsPort > 0,
		Port:      cfg.Engine.MetricsPort,
		Path:      "/metrics",
		Namespace: "swapforge",
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}

	lockerPath, pressurizerPath, ioGenPath, err := resolveHelperPaths()
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metricsCollector,
		prober:  inventory.NewProber(logger),
		bencher: bench.NewEngine(logger, metricsCollector, bench.Config{
			IOGenBinary: ioGenPath,
			ScratchDir:  filepath.Join(cfg.Engine.LogRoot, "scratch"),
			PersistDir:  cfg.Engine.LogRoot,
			PressurePaths: pressure.Paths{
				Locker:      lockerPath,
				Pressurizer: pressurizerPath,
			},
		}),
		planner:  plan.NewCalculator(),
		xformer:  partition.NewTransformer(logger, "/tmp"),
		schedule: partition.NewScheduler(partition.DefaultStagingPaths()),
		actr:     activator.NewActivator(logger),
		tunemgr:  tunables.NewManager(logger),
		reportr:  reporter.NewReporter(logger, cfg.Engine.LogRoot),
	}

	if cfg.Engine.Debug {
		utils.GetDebugManager().SetLogger(logger)
		sessionID := uuid.NewString()
		utils.GetDebugManager().StartSession(sessionID, nil, 0)
		e.debugSessionID = sessionID
	}

	return e, nil
}

// trace starts a debug trace for one pipeline stage, a no-op (nil
// *utils.DebugTrace, safe to call End/EndWithError on) unless --debug or
// SWAPFORGE_DEBUG enabled tracing for this run.
func (e *engine) trace(operation string) *utils.DebugTrace {
	if e.debugSessionID == "" {
		return nil
	}
	return utils.StartTrace(e.debugSessionID, "pipeline", operation, nil)
}

// resolveHelperPaths locates the swaplock/swappressure/swapiogen helper
// binaries relative to the running executable's own directory, the way
// spec §4.2/§9 requires them to be invoked as separate binaries rather
// than re-implemented in-process. Falls back to $PATH lookup so the
// binaries can also be installed system-wide.
func resolveHelperPaths() (locker, pressurizer, iogen string, err error) {
	self, err := os.Executable()
	if err != nil {
		return "", "", "", fmt.Errorf("resolve own executable path: %w", err)
	}
	dir := filepath.Dir(self)

	resolve := func(name string) string {
		candidate := filepath.Join(dir, name)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
		return name // fall back to PATH lookup by exec.LookPath at call time
	}

	return resolve("swaplock"), resolve("swappressure"), resolve("swapiogen"), nil
}

// acquireLock takes the single-instance file lock spec §5 requires
// before touching any process-wide kernel state, and returns a release
// function the caller defers.
func (e *engine) acquireLock() (func(), error) {
	fl, err := lock.Acquire(e.cfg.Engine.LogRoot)
	if err != nil {
		return nil, fmt.Errorf("acquire single-instance lock: %w", err)
	}
	return func() { _ = fl.Release() }, nil
}

// runPipeline executes every stage in the strict sequence of spec §5:
// probe, bench, plan, partition (with an offline-shrink early exit),
// activate, tunables, report. Each stage's artifacts are persisted
// before the next begins. Returns the final RunReport and the process
// exit code the caller should use.
func (e *engine) runPipeline(ctx context.Context) (types.RunReport, int) {
	report := types.RunReport{GeneratedAt: time.Now()}

	release, err := e.acquireLock()
	if err != nil {
		report.FinalState = types.FinalStateNoChange
		report.Warnings = append(report.Warnings, err.Error())
		return report, exitFailure
	}
	defer release()

	probeTrace := e.trace("probe")
	inv, err := e.prober.ProbeSystem(ctx)
	if err != nil {
		probeTrace.EndWithError(err)
		report.FinalState = types.FinalStateNoChange
		report.Warnings = append(report.Warnings, fmt.Sprintf("probe failed: %v", err))
		return report, exitFailure
	}
	probeTrace.End("probe complete")
	report.Inventory = *inv

	overrides := e.cfg.Overrides.Overrides

	benchTrace := e.trace("bench")
	benchResult, err := e.bencher.Run(ctx, *inv, overrides)
	if err != nil && benchResult == nil {
		benchTrace.EndWithError(err)
		report.FinalState = types.FinalStateNoChange
		report.Warnings = append(report.Warnings, fmt.Sprintf("benchmark failed: %v", err))
		return report, exitFailure
	}
	if err != nil {
		benchTrace.EndWithError(err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("benchmark completed with failures: %v", err))
	} else {
		benchTrace.End("benchmark complete")
	}
	report.BenchResult = benchResult

	planTrace := e.trace("plan")
	planResult, err := e.planner.Calculate(*inv, *benchResult, overrides)
	if err != nil {
		planTrace.EndWithError(err)
		report.FinalState = types.FinalStateNoChange
		if pe, ok := errors.AsSwapForgeError(err); ok {
			report.Warnings = append(report.Warnings, pe.Error())
		} else {
			report.Warnings = append(report.Warnings, err.Error())
		}
		return report, exitFailure
	}
	planTrace.End("plan computed")
	report.Plan = planResult

	if e.cfg.Engine.DryRun {
		report.FinalState = types.FinalStateNoChange
		report.Warnings = append(report.Warnings, "dry-run: plan computed, no writes performed")
		return report, exitOK
	}

	partitionTrace := e.trace("partition")
	partitionPlan, exitCode, err := e.applyPartitionPlan(ctx, *inv, *planResult, overrides)
	if err != nil {
		partitionTrace.EndWithError(err)
		report.FinalState = types.FinalStatePartitionsPartial
		report.Warnings = append(report.Warnings, err.Error())
		return report, exitFailure
	}
	partitionTrace.End("partition stage complete")
	report.PartitionPlan = &partitionPlan
	if exitCode == exitOfflineShrinkPending {
		report.FinalState = types.FinalStateOfflineShrinkPending
		return report, exitOfflineShrinkPending
	}

	activateTrace := e.trace("activate_and_tune")
	if err := e.activateAndTune(ctx, partitionPlan, *planResult); err != nil {
		activateTrace.EndWithError(err)
		report.FinalState = types.FinalStatePartitionsPartial
		report.Warnings = append(report.Warnings, err.Error())
		return report, exitFailure
	}
	activateTrace.End("swap activated and tunables applied")

	report.FinalState = types.FinalStatePlanComplete
	return report, exitOK
}

// applyPartitionPlan drives the C5 state machine of spec §4.5: PLAN,
// BACKUP (inside Probe), then either WRITE+READBACK+NOTIFY_KERNEL or
// SCHEDULE_INITRAMFS depending on root_action.
func (e *engine) applyPartitionPlan(ctx context.Context, inv types.Inventory, p types.Plan, overrides types.Overrides) (types.PartitionPlan, int, error) {
	probed, err := e.xformer.Probe(ctx, inv.RootDevicePath)
	if err != nil {
		return types.PartitionPlan{}, exitFailure, err
	}

	// Probe already wrote the structured BACKUP dump; re-read it to get a
	// typed Dump to plan against rather than re-invoking sgdisk.
	backupText, err := readBackupFile(probed.BackupDumpPath)
	if err != nil {
		return types.PartitionPlan{}, exitFailure, fmt.Errorf("read partition backup for planning: %w", err)
	}
	currentDump, err := partition.ParseDump(backupText)
	if err != nil {
		return types.PartitionPlan{}, exitFailure, fmt.Errorf("parse partition backup: %w", err)
	}

	layoutInput := partition.LayoutInput{
		RootPartitionIndex: inv.RootPartitionNumber,
		RootUsedBytes:      rootUsedBytes(),
		FilesystemKind:     inv.FilesystemKind,
		TotalSwapBytes:     p.DiskTotalBytes,
		StripeWidth:        p.StripeWidth,
		PerDeviceBytes:     p.PerDeviceBytes,
		PreserveRootGiB:    overrides.PreserveRootGiB,
		AllowRootShrink:    overrides.AllowRootShrink,
	}

	newPlan, err := partition.ComputeLayout(currentDump, layoutInput)
	if err != nil {
		return types.PartitionPlan{}, exitFailure, err
	}
	newPlan.Disk = inv.RootDevicePath
	newPlan.BackupDumpPath = probed.BackupDumpPath

	if newPlan.RootAction == types.RootActionShrinkOffline {
		if err := e.schedule.Schedule(currentDump, newPlan, p.DiskPriority); err != nil {
			return types.PartitionPlan{}, exitFailure, err
		}
		return newPlan, exitOfflineShrinkPending, nil
	}

	if err := e.xformer.Apply(ctx, newPlan); err != nil {
		return types.PartitionPlan{}, exitFailure, err
	}
	if err := e.xformer.Readback(ctx, newPlan); err != nil {
		return types.PartitionPlan{}, exitFailure, err
	}
	if err := e.xformer.NotifyKernel(ctx, newPlan); err != nil {
		return types.PartitionPlan{}, exitFailure, err
	}
	return newPlan, exitOK, nil
}

// rootUsedBytes statfs(2)s the live root filesystem to find how much of
// it is actually occupied, which ComputeLayout needs to enforce
// preserve_root_gib's "max(preserve_gib, used_bytes + 2 GiB)" floor
// (spec §4.5 PLAN). A read failure is treated as "nothing known to be
// used," which only ever makes the computed floor more conservative.
func rootUsedBytes() uint64 {
	var stat unix.Statfs_t
	if err := unix.Statfs("/", &stat); err != nil {
		return 0
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	if free > total {
		return 0
	}
	return total - free
}

func readBackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// activateAndTune drives C6 (format, enable, persist, configure
// compressed cache) and C7 (apply + persist tunables), in that order,
// per spec §5's ordering guarantee that compressed-cache parameters are
// only set after the module is confirmed enabled.
func (e *engine) activateAndTune(ctx context.Context, pp types.PartitionPlan, p types.Plan) error {
	for i, sp := range pp.SwapPartitions {
		device := devicePathForPartition(pp.Disk, sp.Index)
		if err := e.actr.FormatSwap(ctx, device); err != nil {
			return fmt.Errorf("format swap device %d: %w", sp.Index, err)
		}
		priority := p.DiskPriority
		if i == 0 {
			priority = p.DiskPriority
		}
		if err := e.actr.EnableSwap(ctx, device, priority); err != nil {
			return fmt.Errorf("enable swap device %d: %w", sp.Index, err)
		}
		if err := e.actr.PersistMount(ctx, device, priority); err != nil {
			return fmt.Errorf("persist mount entry for device %d: %w", sp.Index, err)
		}
	}

	if p.RAMSolution == types.RAMSolutionCompressedCache {
		poolPct := int((p.RAMPoolBytes * 100) / maxUint64(1, p.DiskTotalBytes+p.RAMPoolBytes))
		if err := e.actr.ConfigureCompressedCache(ctx, p.Compressor, p.Allocator, poolPct); err != nil {
			return fmt.Errorf("configure compressed cache: %w", err)
		}
	}

	if err := e.tunemgr.Apply(ctx, p.Tunables); err != nil {
		return fmt.Errorf("apply kernel tunables: %w", err)
	}
	return nil
}

func devicePathForPartition(disk string, index int) string {
	if len(disk) > 0 {
		last := disk[len(disk)-1]
		if last >= '0' && last <= '9' {
			return fmt.Sprintf("%sp%d", disk, index)
		}
	}
	return fmt.Sprintf("%s%d", disk, index)
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
