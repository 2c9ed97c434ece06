package types

import (
	"context"
	"time"
)

// Prober is the C1 Inventory Probe contract.
type Prober interface {
	ProbeSystem(ctx context.Context) (*Inventory, error)
	DetectCapabilities(ctx context.Context) (compressors, allocators []string, err error)
}

// HelperHandle abstracts a running Locker or Pressurizer child process:
// start it, wait for it to report ready, signal it, and wait for exit.
// internal/pressure is the only package that constructs one; everything
// else in the engine talks to memory pressure only through this contract,
// per spec §9's "do not attempt to re-implement their behavior in-process."
type HelperHandle interface {
	Start(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Signal() error
	Wait() error
	Pid() int

	// Alive reports whether the child process is still running, the
	// liveness check internal/pressure's connection supervisor polls
	// between benchmark cells to decide whether the Locker needs
	// respawning.
	Alive() bool
}

// BenchRunner is the C3 Benchmark Engine contract.
type BenchRunner interface {
	Run(ctx context.Context, inv Inventory, overrides Overrides) (*BenchResult, error)
}

// PlanCalculator is the C4 Plan Calculator contract — a pure function, no
// I/O, taking Inventory, BenchResult, and Overrides to a Plan.
type PlanCalculator interface {
	Calculate(inv Inventory, bench BenchResult, overrides Overrides) (*Plan, error)
}

// PartitionEditor is the C5 Partition Transformer contract.
type PartitionEditor interface {
	Probe(ctx context.Context, disk string) (PartitionPlan, error)
	Apply(ctx context.Context, plan PartitionPlan) error
	Readback(ctx context.Context, plan PartitionPlan) error
}

// Activator is the C6 Swap Activator contract.
type Activator interface {
	FormatSwap(ctx context.Context, device string) error
	EnableSwap(ctx context.Context, device string, priority int) error
	PersistMount(ctx context.Context, device string, priority int) error
	ConfigureCompressedCache(ctx context.Context, compressor, allocator string, poolPct int) error
}

// TunableManager is the C7 Kernel Tunable Manager contract.
type TunableManager interface {
	Apply(ctx context.Context, tunables Tunables) error
	Current(ctx context.Context) (Tunables, error)
}

// Reporter is the C8 Reporter contract.
type Reporter interface {
	Write(ctx context.Context, report RunReport) error
	Summarize(report RunReport) string
}

// MetricsCollector mirrors the Prometheus-backed collector in
// internal/metrics, kept here as an interface so pipeline stages can be
// tested against a no-op implementation.
type MetricsCollector interface {
	RecordStageDuration(stage string, duration time.Duration)
	RecordBenchCell(blockSizeKB, concurrency int, combinedMBPerS float64)
	RecordPartitionWriteAttempt(success bool)
	RecordSwapOnResult(device string, success bool)
}

// HealthChecker mirrors pkg/health.Tracker's read surface, kept here so
// internal/health's readiness checks can be exercised against a fake.
type HealthChecker interface {
	IsHealthy(component string) bool
	CanRead(component string) bool
	CanWrite(component string) bool
}
