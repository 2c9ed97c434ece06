package plan

import (
	"testing"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

func invWithRAM(ramBytes uint64) types.Inventory {
	return types.Inventory{
		RAMBytes:                 ramBytes,
		DiskSizeSectors:          200 * gib / 512,
		RootPartitionStartSector: 2048,
		RootPartitionSizeSectors: 20 * gib / 512,
		SectorSize:               512,
		FilesystemKind:           types.FSExt4,
		IsRotational:             false,
	}
}

func TestDiskTotalBytesFloorAtOneGiBRAM(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(1*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DiskTotalBytes != minDiskTotalBytes {
		t.Errorf("expected the 4 GiB floor, got %d", p.DiskTotalBytes)
	}
	if p.RAMSolution != types.RAMSolutionCompressedBlockDevice {
		t.Errorf("expected compressed_block_device below 4 GiB RAM, got %s", p.RAMSolution)
	}
}

func TestPoolPctFiftyAtTwoGiBRAM(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(2*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DiskTotalBytes != minDiskTotalBytes {
		t.Errorf("expected the 4 GiB floor, got %d", p.DiskTotalBytes)
	}
	wantPool := uint64(0.5 * 2 * gib)
	if p.RAMPoolBytes != wantPool {
		t.Errorf("expected pool_pct=50 (%d bytes), got %d", wantPool, p.RAMPoolBytes)
	}
}

func TestPoolPctTwentyFiveAtSixteenGiBRAM(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(16*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DiskTotalBytes != 32*gib {
		t.Errorf("expected disk_total_bytes=32 GiB, got %d", p.DiskTotalBytes)
	}
	wantPool := uint64(0.25 * 16 * gib)
	if p.RAMPoolBytes != wantPool {
		t.Errorf("expected pool_pct=25 (%d bytes), got %d", wantPool, p.RAMPoolBytes)
	}
}

func TestDiskTotalBytesCeilingAtSixtyFourGiBRAM(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(64*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DiskTotalBytes != maxDiskTotalBytes {
		t.Errorf("expected the 64 GiB ceiling, got %d", p.DiskTotalBytes)
	}
}

func TestPageClusterZeroWhenCompressedCache(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(8*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RAMSolution != types.RAMSolutionCompressedCache {
		t.Fatalf("expected compressed_cache at 8 GiB RAM, got %s", p.RAMSolution)
	}
	if p.Tunables.PageCluster != 0 {
		t.Errorf("invariant violated: page_cluster must be 0 when ram_solution=compressed_cache, got %d", p.Tunables.PageCluster)
	}
}

func TestBackingNoneWhenFreeDiskBelowTwentyGiB(t *testing.T) {
	inv := invWithRAM(8 * gib)
	// 19 GiB of free tail space past the root partition.
	inv.DiskSizeSectors = inv.RootPartitionEndSector() + 19*gib/512
	p, err := NewCalculator().Calculate(inv, types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DiskBacking != types.DiskBackingNone {
		t.Errorf("expected disk_backing=none with 19 GiB free, got %s", p.DiskBacking)
	}
}

func TestOverrideDiskTotalBytesBeyondFreeDiskIsPlanError(t *testing.T) {
	inv := invWithRAM(8 * gib)
	inv.DiskSizeSectors = inv.RootPartitionEndSector() + 20*gib/512
	override := uint64(40 * gib)
	_, err := NewCalculator().Calculate(inv, types.BenchResult{}, types.Overrides{DiskTotalBytes: &override})
	if err == nil {
		t.Fatal("expected a PlanError when disk_total_bytes override exceeds free disk space")
	}
	sfe, ok := errors.AsSwapForgeError(err)
	if !ok {
		t.Fatalf("expected a *SwapForgeError, got %T", err)
	}
	if sfe.Kind != errors.KindPlan {
		t.Errorf("expected KindPlan, got %s", sfe.Kind)
	}
}

func TestStripeWidthFromMatrixOptimum(t *testing.T) {
	bench := types.BenchResult{
		Matrix: []types.MatrixCell{
			{BlockSizeKB: 4, Concurrency: 1, CombinedMBPerS: 50},
			{BlockSizeKB: 4, Concurrency: 8, CombinedMBPerS: 500},
		},
		Optimal: types.OptimalRows{BestCombined: 1},
	}
	p, err := NewCalculator().Calculate(invWithRAM(8*gib), bench, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StripeWidth != 8 {
		t.Errorf("expected stripe_width=8 from the matrix optimum, got %d", p.StripeWidth)
	}
}

func TestPerDeviceBytesNeverExceedsDiskTotal(t *testing.T) {
	bench := types.BenchResult{
		Matrix:  []types.MatrixCell{{BlockSizeKB: 4, Concurrency: 7, CombinedMBPerS: 100}},
		Optimal: types.OptimalRows{BestCombined: 0},
	}
	p, err := NewCalculator().Calculate(invWithRAM(8*gib), bench, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PerDeviceBytes*uint64(p.StripeWidth) > p.DiskTotalBytes {
		t.Errorf("invariant violated: per_device_bytes * stripe_width (%d) exceeds disk_total_bytes (%d)",
			p.PerDeviceBytes*uint64(p.StripeWidth), p.DiskTotalBytes)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	inv := invWithRAM(7 * gib)
	bench := types.BenchResult{
		Matrix:  []types.MatrixCell{{BlockSizeKB: 4, Concurrency: 8, CombinedMBPerS: 100}},
		Optimal: types.OptimalRows{BestCombined: 0},
	}
	a, err := NewCalculator().Calculate(inv, bench, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewCalculator().Calculate(inv, bench, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *a != *b {
		t.Error("expected Calculate to be deterministic for identical inputs")
	}
}

func TestCompressorChoiceBelowFourGiBIsZstd(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(2*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Compressor != "zstd" {
		t.Errorf("expected zstd below 4 GiB RAM, got %s", p.Compressor)
	}
}

func TestAllocatorChoiceForCompressedCacheIsZbud(t *testing.T) {
	p, err := NewCalculator().Calculate(invWithRAM(8*gib), types.BenchResult{}, types.Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Allocator != "zbud" {
		t.Errorf("expected zbud for compressed_cache, got %s", p.Allocator)
	}
}
