// Package reporter implements the Reporter (spec §4.8, C8): the
// observer that assembles every other stage's artifacts into the
// structured JSON document that is the contract between a first-boot
// run and the post-reboot finalizer, plus the human-readable summary
// handed to the surrounding toolkit's notification transport.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

// Reporter implements types.Reporter by writing RunReport documents
// under a stable log directory and rendering a human summary from the
// same document. The dump/write/readback discipline used elsewhere in
// this repo for persistent state (internal/partition/gpt.go's backup
// dump, internal/bench's writeJSONAtomic) is mirrored here: write to a
// temp file in the same directory, fsync, then rename, so a reader
// never observes a half-written report.
type Reporter struct {
	logger  *utils.StructuredLogger
	logRoot string
}

var _ types.Reporter = (*Reporter)(nil)

// NewReporter constructs a Reporter that writes under logRoot (spec
// §6's "/<log-root>/bench-<timestamp>.json" stable directory; the
// Reporter's own documents live alongside it as "report-<ts>.json").
func NewReporter(logger *utils.StructuredLogger, logRoot string) *Reporter {
	return &Reporter{logger: logger, logRoot: logRoot}
}

// Write persists report to "<log-root>/report-<unix-ts>.json" and
// writes the same document to "latest.json" in that directory so the
// post-reboot finalizer (and `cmd/swapforge finalize`) can find the
// most recent run without scanning timestamps.
func (r *Reporter) Write(ctx context.Context, report types.RunReport) error {
	if err := os.MkdirAll(r.logRoot, 0o755); err != nil {
		return fmt.Errorf("create log root: %w", err)
	}

	name := fmt.Sprintf("report-%d.json", report.GeneratedAt.Unix())
	path := filepath.Join(r.logRoot, name)
	if err := writeJSONAtomic(path, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	latest := filepath.Join(r.logRoot, "latest.json")
	if err := writeJSONAtomic(latest, report); err != nil {
		return fmt.Errorf("write latest report pointer: %w", err)
	}

	if r.logger != nil {
		r.logger.WithComponent("reporter").Info("wrote run report", map[string]interface{}{
			"path":        path,
			"final_state": string(report.FinalState),
		})
	}
	return nil
}

// ReadLatest loads the most recently written report from logRoot, used
// by `cmd/swapforge finalize` to recover a Plan/PartitionPlan across
// the reboot an offline shrink requires.
func ReadLatest(logRoot string) (types.RunReport, error) {
	var report types.RunReport
	data, err := os.ReadFile(filepath.Join(logRoot, "latest.json"))
	if err != nil {
		return report, fmt.Errorf("read latest report: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("parse latest report: %w", err)
	}
	return report, nil
}

// Summarize renders the human-readable surface of spec §6: RAM, disk,
// selected solution, compressor/allocator, stripe width, per-device
// size, tunables, and measured compression ratio, suitable for
// attaching to a notification transport.
func (r *Reporter) Summarize(report types.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "swapforge run @ %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "final state: %s\n", report.FinalState)

	inv := report.Inventory
	fmt.Fprintf(&b, "\nmachine: %d MiB RAM, %d CPU cores, root %s (%s)\n",
		inv.RAMBytes/(1024*1024), inv.CPUCores, inv.RootDevicePath, inv.FilesystemKind)

	if report.Plan != nil {
		p := report.Plan
		fmt.Fprintf(&b, "\nplan:\n")
		fmt.Fprintf(&b, "  ram_solution:    %s (pool %d MiB, compressor=%s, allocator=%s)\n",
			p.RAMSolution, p.RAMPoolBytes/(1024*1024), p.Compressor, p.Allocator)
		fmt.Fprintf(&b, "  disk_backing:    %s (total %d MiB across %d devices of %d MiB each)\n",
			p.DiskBacking, p.DiskTotalBytes/(1024*1024), p.StripeWidth, p.PerDeviceBytes/(1024*1024))
		fmt.Fprintf(&b, "  priorities:      ram=%d disk=%d\n", p.RAMPriority, p.DiskPriority)
		fmt.Fprintf(&b, "  tunables:        swappiness=%d page_cluster=%d cache_pressure=%d watermark_scale=%d\n",
			p.Tunables.Swappiness, p.Tunables.PageCluster, p.Tunables.CachePressure, p.Tunables.WatermarkScale)
		if p.RAMSolution == types.RAMSolutionCompressedCache && p.Tunables.PageCluster != p.DiskOptimalBlockSizeKB {
			fmt.Fprintf(&b, "  audit:           disk-optimal block size was %d KiB; page_cluster forced to 0 for the compressed cache (spec §4.3.6)\n",
				p.DiskOptimalBlockSizeKB)
		}
	}

	if report.BenchResult != nil {
		br := report.BenchResult
		fmt.Fprintf(&b, "\nmeasured compression ratios:\n")
		for name, stat := range br.CompressorSweep {
			fmt.Fprintf(&b, "  %-10s ratio=%.2fx bandwidth=%.1f MB/s capacity=%.0f%%\n",
				name, stat.CompressionRatio, stat.BandwidthMBPerS, stat.EffectiveCapacityPct)
		}
		if br.AllocatorInconclusive {
			fmt.Fprintf(&b, "  allocator sweep: INCONCLUSIVE — falling back to default zsmalloc>z3fold>zbud ordering\n")
		}
		for _, c := range br.Matrix {
			if c.Anomalous {
				fmt.Fprintf(&b, "  anomalous matrix cell: block=%dKiB concurrency=%d (%s)\n",
					c.BlockSizeKB, c.Concurrency, c.AnomalousReason)
			}
		}
	}

	if report.PartitionPlan != nil {
		pp := report.PartitionPlan
		fmt.Fprintf(&b, "\npartitions: root_action=%s, %d swap partition(s) on %s\n",
			pp.RootAction, len(pp.SwapPartitions), pp.Disk)
		if pp.BackupDumpPath != "" {
			fmt.Fprintf(&b, "  backup dump: %s\n", pp.BackupDumpPath)
		}
	}

	if len(report.Warnings) > 0 {
		fmt.Fprintf(&b, "\nwarnings:\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return b.String()
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
