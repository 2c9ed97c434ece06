package reporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapforge/swapforge/pkg/types"
)

func sampleReport() types.RunReport {
	return types.RunReport{
		GeneratedAt: time.Unix(1700000000, 0).UTC(),
		Inventory: types.Inventory{
			RAMBytes:       7 * 1024 * 1024 * 1024,
			CPUCores:       4,
			RootDevicePath: "/dev/sda1",
			FilesystemKind: types.FSExt4,
		},
		Plan: &types.Plan{
			RAMSolution:            types.RAMSolutionCompressedCache,
			RAMPoolBytes:           3 * 1024 * 1024 * 1024,
			Compressor:             "lz4",
			Allocator:              "zbud",
			DiskBacking:            types.DiskBackingNativeSwapPartitions,
			DiskTotalBytes:         14 * 1024 * 1024 * 1024,
			StripeWidth:            8,
			PerDeviceBytes:         1750 * 1024 * 1024,
			DiskPriority:           10,
			RAMPriority:            20,
			Tunables:               types.Tunables{Swappiness: 80, PageCluster: 0, CachePressure: 50, WatermarkScale: 125},
			DiskOptimalBlockSizeKB: 64,
		},
		FinalState: types.FinalStatePlanComplete,
		Warnings:   []string{"allocator sweep inconclusive, used default ordering"},
	}
}

func TestWriteThenReadLatestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(nil, dir)

	report := sampleReport()
	require.NoError(t, r.Write(context.Background(), report))

	_, err := os.Stat(filepath.Join(dir, "report-1700000000.json"))
	require.NoError(t, err)

	got, err := ReadLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, report.FinalState, got.FinalState)
	assert.Equal(t, report.Plan.Compressor, got.Plan.Compressor)
	assert.Equal(t, report.Plan.StripeWidth, got.Plan.StripeWidth)
}

func TestSummarizeIncludesKeyFields(t *testing.T) {
	r := NewReporter(nil, t.TempDir())
	summary := r.Summarize(sampleReport())

	assert.Contains(t, summary, "plan complete, swap active")
	assert.Contains(t, summary, "compressed_cache")
	assert.Contains(t, summary, "lz4")
	assert.Contains(t, summary, "swappiness=80")
	assert.Contains(t, summary, "warnings:")
}

func TestSummarizeAuditsPageClusterDisagreement(t *testing.T) {
	r := NewReporter(nil, t.TempDir())
	report := sampleReport()
	summary := r.Summarize(report)

	assert.Contains(t, summary, "disk-optimal block size was 64 KiB")
}

func TestReadLatestMissingFileErrors(t *testing.T) {
	_, err := ReadLatest(t.TempDir())
	assert.Error(t, err)
}
