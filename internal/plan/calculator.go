// Package plan implements the Plan Calculator (spec §4.4): a pure
// function of Inventory, BenchResult, and Overrides with no I/O. Every
// sizing rule below is a direct transcription of that section; the
// calculator's only job is to apply them deterministically so the same
// inputs always produce the same Plan.
package plan

import (
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

const (
	gib = 1 << 30

	minDiskTotalBytes = 4 * gib
	maxDiskTotalBytes = 64 * gib

	compressedCacheRAMFloor = 4 * gib
	highRAMFloor            = 16 * gib

	backingNoneFloorBytes       = 20 * gib
	backingFilesInRootFloor     = 50 * gib
	backingNativeSwapPartFloor  = 100 * gib

	alignmentBytes = 1 * 1024 * 1024 // 1 MiB
)

// Calculator implements types.PlanCalculator.
type Calculator struct{}

var _ types.PlanCalculator = (*Calculator)(nil)

// NewCalculator returns a Calculator. It holds no state: every Calculate
// call is independent and deterministic.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate turns measured capabilities and hardware inventory into a
// concrete swap topology. It never performs I/O and never mutates its
// arguments.
func (c *Calculator) Calculate(inv types.Inventory, bench types.BenchResult, overrides types.Overrides) (*types.Plan, error) {
	diskTotal, err := diskTotalBytes(inv, overrides)
	if err != nil {
		return nil, err
	}

	solution, err := ramSolution(inv, overrides)
	if err != nil {
		return nil, err
	}

	poolBytes := ramPoolBytes(inv, solution, overrides)

	backing, err := diskBacking(inv, overrides)
	if err != nil {
		return nil, err
	}

	compressor := compressorChoice(inv, overrides)
	allocator := allocatorChoice(solution, overrides)

	stripeWidth, optimalBlockSizeKB := stripeWidthAndBlockSize(bench, overrides)
	perDeviceBytes := alignDown(diskTotal/uint64(stripeWidth), alignmentBytes)

	if perDeviceBytes*uint64(stripeWidth) > diskTotal {
		return nil, errors.New(errors.KindPlan, "computed per-device size times stripe width exceeds disk_total_bytes").
			WithComponent("plan").WithDetail("disk_total_bytes", diskTotal).
			WithDetail("stripe_width", stripeWidth).WithDetail("per_device_bytes", perDeviceBytes)
	}

	tunables := computeTunables(solution, inv, optimalBlockSizeKB)

	return &types.Plan{
		RAMSolution:            solution,
		RAMPoolBytes:           poolBytes,
		Compressor:             compressor,
		Allocator:              allocator,
		DiskBacking:            backing,
		DiskTotalBytes:         diskTotal,
		StripeWidth:            stripeWidth,
		PerDeviceBytes:         perDeviceBytes,
		DiskPriority:           10,
		RAMPriority:            100,
		Tunables:               tunables,
		DiskOptimalBlockSizeKB: optimalBlockSizeKB,
	}, nil
}

// diskTotalBytes applies the uniform 2x-RAM rule, clamped to [4 GiB, 64
// GiB], or the operator override if one is given and does not exceed the
// disk's free tail space.
func diskTotalBytes(inv types.Inventory, overrides types.Overrides) (uint64, error) {
	if overrides.DiskTotalBytes != nil {
		requested := *overrides.DiskTotalBytes
		if free := freeTailBytes(inv); requested > free {
			return 0, errors.New(errors.KindPlan, "disk_total_bytes override exceeds free disk space").
				WithComponent("plan").WithDetail("requested_bytes", requested).WithDetail("free_bytes", free)
		}
		return requested, nil
	}
	return clampUint64(2*inv.RAMBytes, minDiskTotalBytes, maxDiskTotalBytes), nil
}

// freeTailBytes is the unused space past the root partition's current
// end — where the swap group would be placed without shrinking root.
func freeTailBytes(inv types.Inventory) uint64 {
	if inv.DiskSizeSectors <= inv.RootPartitionEndSector() {
		return 0
	}
	return (inv.DiskSizeSectors - inv.RootPartitionEndSector()) * uint64(inv.SectorSize)
}

func ramSolution(inv types.Inventory, overrides types.Overrides) (types.RAMSolution, error) {
	if overrides.RAMSolution != nil && *overrides.RAMSolution != "auto" {
		switch types.RAMSolution(*overrides.RAMSolution) {
		case types.RAMSolutionCompressedCache, types.RAMSolutionCompressedBlockDevice, types.RAMSolutionNone:
			return types.RAMSolution(*overrides.RAMSolution), nil
		default:
			return "", errors.New(errors.KindPlan, "unrecognized ram_solution override").
				WithComponent("plan").WithDetail("value", *overrides.RAMSolution)
		}
	}
	if inv.RAMBytes >= compressedCacheRAMFloor {
		return types.RAMSolutionCompressedCache, nil
	}
	return types.RAMSolutionCompressedBlockDevice, nil
}

// ramPoolBytes applies the linear pool-sizing rule, clamped to [25, 50]
// percent of RAM. Both RAM solutions consume a RAM pool sized this way —
// compressed_cache as a transparent eviction tier, compressed_block_device
// as the zram device itself — so the formula applies whenever a RAM
// solution is active at all.
func ramPoolBytes(inv types.Inventory, solution types.RAMSolution, overrides types.Overrides) uint64 {
	if overrides.RAMPoolBytes != nil {
		return *overrides.RAMPoolBytes
	}
	if solution == types.RAMSolutionNone {
		return 0
	}
	ramGiB := float64(inv.RAMBytes) / gib
	poolPct := 50 - 1.786*(ramGiB-2)
	poolPct = clampFloat(poolPct, 25, 50)
	return uint64(poolPct / 100 * float64(inv.RAMBytes))
}

func diskBacking(inv types.Inventory, overrides types.Overrides) (types.DiskBacking, error) {
	if overrides.DiskBacking != nil && *overrides.DiskBacking != "auto" {
		switch types.DiskBacking(*overrides.DiskBacking) {
		case types.DiskBackingFilesInRoot, types.DiskBackingNativeSwapPartitions,
			types.DiskBackingZvolPartitions, types.DiskBackingFilesOnDedicatedPart, types.DiskBackingNone:
			return types.DiskBacking(*overrides.DiskBacking), nil
		default:
			return "", errors.New(errors.KindPlan, "unrecognized disk_backing override").
				WithComponent("plan").WithDetail("value", *overrides.DiskBacking)
		}
	}

	free := freeTailBytes(inv)
	switch {
	case free < backingNoneFloorBytes:
		return types.DiskBackingNone, nil
	case inv.FilesystemKind == types.FSBtrfs:
		return types.DiskBackingZvolPartitions, nil
	case !inv.IsRotational && free >= backingFilesInRootFloor:
		return types.DiskBackingFilesInRoot, nil
	case inv.IsRotational && free >= backingNativeSwapPartFloor:
		return types.DiskBackingNativeSwapPartitions, nil
	default:
		return types.DiskBackingFilesInRoot, nil
	}
}

func compressorChoice(inv types.Inventory, overrides types.Overrides) string {
	if overrides.Compressor != nil {
		return *overrides.Compressor
	}
	if inv.RAMBytes < compressedCacheRAMFloor {
		return "zstd"
	}
	return "lz4"
}

func allocatorChoice(solution types.RAMSolution, overrides types.Overrides) string {
	if overrides.Allocator != nil {
		return *overrides.Allocator
	}
	if solution == types.RAMSolutionCompressedCache {
		return "zbud"
	}
	return "zsmalloc"
}

// stripeWidthAndBlockSize reads the matrix optimum (or an override),
// clamping the matrix-derived stripe width to [1, 16], and
// returning the block size that produced the best combined throughput so
// tunables can reason about page_cluster even when compressed_cache is
// off.
func stripeWidthAndBlockSize(bench types.BenchResult, overrides types.Overrides) (stripeWidth, blockSizeKB int) {
	blockSizeKB = 4
	if len(bench.Matrix) > 0 && bench.Optimal.BestCombined < len(bench.Matrix) {
		best := bench.Matrix[bench.Optimal.BestCombined]
		stripeWidth = best.Concurrency
		blockSizeKB = best.BlockSizeKB
		const maxMatrixStripeWidth = 16
		if stripeWidth > maxMatrixStripeWidth {
			stripeWidth = maxMatrixStripeWidth
		}
	} else {
		stripeWidth = 1
	}
	if overrides.StripeWidth != nil {
		stripeWidth = *overrides.StripeWidth
	}
	if stripeWidth < 1 {
		stripeWidth = 1
	}
	return stripeWidth, blockSizeKB
}

// pageClusterByBlockSize is the matrix-derived page_cluster mapping of
// spec §4.4, used only when the compressed cache is off.
var pageClusterByBlockSize = map[int]int{
	4:   0,
	8:   1,
	16:  2,
	32:  3,
	64:  4,
	128: 5,
}

func computeTunables(solution types.RAMSolution, inv types.Inventory, optimalBlockSizeKB int) types.Tunables {
	t := types.Tunables{}

	switch {
	case solution == types.RAMSolutionCompressedCache:
		t.Swappiness = 80
	case inv.RAMBytes >= highRAMFloor:
		t.Swappiness = 10
	default:
		t.Swappiness = 60
	}

	if solution == types.RAMSolutionCompressedCache {
		t.PageCluster = 0
	} else if pc, ok := pageClusterByBlockSize[optimalBlockSizeKB]; ok {
		t.PageCluster = pc
	} else {
		t.PageCluster = 3
	}

	if solution == types.RAMSolutionCompressedCache {
		t.CachePressure = 50
		t.WatermarkScale = 125
	} else {
		t.CachePressure = 100
		t.WatermarkScale = 10
	}

	return t
}

func clampUint64(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func alignDown(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return (v / alignment) * alignment
}
