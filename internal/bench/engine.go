// Package bench implements the Benchmark Engine (spec §4.3): a series of
// short, invasive experiments that measure how this specific machine's
// kernel actually behaves under compressed-swap pressure, rather than
// trusting static defaults. Every sweep uses internal/pressure to drive
// the Locker/Pressurizer helper processes and never reimplements their
// memory-pinning behavior in-process (spec §9).
package bench

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/swapforge/swapforge/internal/pressure"
	"github.com/swapforge/swapforge/internal/zswap"
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/memmon"
	"github.com/swapforge/swapforge/pkg/recovery"
	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

// defaultCellDurationS is how long each matrix cell and each sweep step
// runs when the operator hasn't overridden bench_duration_s. Kept short
// because the engine runs dozens of these back to back.
const defaultCellDurationS = 5

// Engine implements types.BenchRunner against the machine's real zswap
// sysfs interface and the Locker/Pressurizer helpers.
type Engine struct {
	logger      *utils.StructuredLogger
	metrics     types.MetricsCollector
	ioGenBinary string
	scratchDir  string
	persistDir  string
	pressurePaths pressure.Paths
	zswap       zswap.Sysfs
	recoveryMgr *recovery.RecoveryManager
	memMonitor  *memmon.MemoryMonitor
	profiler    *memmon.Profiler
}

var _ types.BenchRunner = (*Engine)(nil)

// Config wires the filesystem locations and helper binary paths the
// Engine needs. cmd/swapforge resolves these relative to its own
// install location at startup.
type Config struct {
	IOGenBinary   string
	ScratchDir    string
	PersistDir    string
	PressurePaths pressure.Paths
}

// NewEngine constructs a bench Engine. A nil metrics collector disables
// metric recording.
func NewEngine(logger *utils.StructuredLogger, metrics types.MetricsCollector, cfg Config) *Engine {
	recoveryCfg := recovery.DefaultRecoveryConfig()
	recoveryCfg.Logger = logger

	monitorCfg := memmon.DefaultMonitorConfig()
	monitorCfg.SampleInterval = 10 * time.Second
	monitorCfg.Logger = logger

	return &Engine{
		logger:        logger,
		metrics:       metrics,
		ioGenBinary:   cfg.IOGenBinary,
		scratchDir:    cfg.ScratchDir,
		persistDir:    cfg.PersistDir,
		pressurePaths: cfg.PressurePaths,
		zswap:         zswap.Default(),
		recoveryMgr:   recovery.NewRecoveryManager(recoveryCfg),
		memMonitor:    memmon.NewMemoryMonitor(monitorCfg),
		profiler:      memmon.NewProfiler(filepath.Join(cfg.PersistDir, "profiles")),
	}
}

// Run executes every sweep in spec §4.3 in sequence (the sweeps share the
// zswap module and cannot run concurrently against it), aggregates
// per-sweep failures with multierr rather than aborting on the first one
// (spec §7's BENCH downgrade policy), and persists the completed
// BenchResult to a stable path so it survives the reboot an offline root
// shrink requires.
func (e *Engine) Run(ctx context.Context, inv types.Inventory, overrides types.Overrides) (*types.BenchResult, error) {
	if err := e.memMonitor.Start(ctx); err == nil {
		defer func() {
			_ = e.memMonitor.Stop()
			alerts := e.memMonitor.GetAlerts()
			for _, alert := range alerts {
				e.logger.WithComponent("bench").Warn("orchestrator memory alert during bench run", map[string]interface{}{
					"type":       alert.AlertType.String(),
					"message":    alert.Message,
					"growth_pct": alert.GrowthPct,
				})
			}
			if len(alerts) > 0 && e.persistDir != "" {
				prefix := fmt.Sprintf("bench-%d", time.Now().Unix())
				if err := e.profiler.WriteAllProfiles(prefix); err != nil {
					e.logger.WithComponent("bench").Warn("failed to capture diagnostic profiles for a flagged bench run", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}
		}()
	}

	durationS := overrides.BenchDurationS
	if durationS <= 0 {
		durationS = defaultCellDurationS
	}

	result := &types.BenchResult{
		Timestamp: time.Now().UTC(),
		BootID:    inv.BootID,
	}

	var errs error

	compSweep, err := e.runCompressorSweep(ctx, inv, durationS)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	result.CompressorSweep = compSweep

	allocSweep, inconclusive, err := e.runAllocatorSweep(ctx, inv, compSweep, durationS)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	result.AllocatorSweep = allocSweep
	result.AllocatorInconclusive = inconclusive

	matrix, optimal, err := e.runMatrix(ctx, durationS)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	result.Matrix = matrix
	result.Optimal = optimal

	latency, err := e.runLatencyProbe(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	result.Latency = latency

	if hasExistingSwapPartitions() {
		cwb, err := e.runCacheWithBackingProbe(ctx, inv, compSweep)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			result.CacheWithBacking = cwb
		}
	}

	swappiness, err := e.runSwappinessMicroSweep(ctx, inv)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	result.SwappinessSweep = swappiness

	if errs != nil {
		e.logger.WithComponent("bench").Warn("one or more sweeps degraded", map[string]interface{}{
			"error": errs.Error(),
		})
	}

	if e.persistDir != "" {
		if err := e.persist(result); err != nil {
			return result, errors.New(errors.KindBench, "failed to persist bench result").
				WithComponent("bench").WithCause(err)
		}
	}

	return result, nil
}

func (e *Engine) persist(result *types.BenchResult) error {
	if err := os.MkdirAll(e.persistDir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("bench-%d.json", result.Timestamp.Unix())
	return writeJSONAtomic(filepath.Join(e.persistDir, name), result)
}

// hasExistingSwapPartitions reports whether /proc/swaps lists any active
// swap device, gating the optional cache-with-backing probe of spec
// §4.3.5: it measures writeback behavior against real swap storage and
// has nothing to measure on a freshly imaged machine with none yet.
func hasExistingSwapPartitions() bool {
	data, err := os.ReadFile("/proc/swaps")
	if err != nil {
		return false
	}
	lines := splitLines(string(data))
	// First line is the header; any further non-empty line is an active
	// swap area.
	for _, l := range lines[1:] {
		if len(l) > 0 {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
