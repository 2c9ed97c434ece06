package partition

import (
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

// alignmentSectors is the 1-MiB alignment every start/size sector value
// must be a multiple of (spec §8 invariant 3, at a 512-byte sector size).
const alignmentSectors = 2048

// endBufferSectors is reserved before the disk's last sector, per spec
// §4.5's "a 2048-sector end buffer is reserved before disk end."
const endBufferSectors = 2048

// linuxSwapTypeGUID is the GPT partition type GUID for Linux swap space.
const linuxSwapTypeGUID = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"

const defaultPreserveRootGiB = 10

const gib = 1 << 30

// LayoutInput bundles everything ComputeLayout needs that isn't already
// in the current Dump: the numbers the Plan Calculator produced, the
// root filesystem's current usage, and the operator's preserve/shrink
// overrides.
type LayoutInput struct {
	RootPartitionIndex int
	RootUsedBytes       uint64
	FilesystemKind      types.FilesystemKind
	TotalSwapBytes      uint64
	StripeWidth         int
	PerDeviceBytes      uint64
	PreserveRootGiB     float64
	AllowRootShrink     bool
}

// ComputeLayout implements the PLAN step of spec §4.5: it never moves the
// root partition's start sector, always 1-MiB-aligns every boundary, and
// places the swap group at the very tail of the disk (minus the end
// buffer), deciding between extending root online, shrinking it offline,
// or leaving it unchanged.
func ComputeLayout(current Dump, in LayoutInput) (types.PartitionPlan, error) {
	root, ok := current.ByIndex(in.RootPartitionIndex)
	if !ok {
		return types.PartitionPlan{}, errors.New(errors.KindPartition, "root partition not found in current dump").
			WithComponent("partition").WithDetail("root_partition_index", in.RootPartitionIndex)
	}

	sectorSize := uint64(current.SectorSize)
	if sectorSize == 0 {
		sectorSize = 512
	}

	perDeviceSectors := alignDown(in.PerDeviceBytes/sectorSize, alignmentSectors)
	if perDeviceSectors == 0 {
		perDeviceSectors = alignmentSectors
	}
	stripeWidth := in.StripeWidth
	if stripeWidth < 1 {
		stripeWidth = 1
	}
	totalSwapSectors := perDeviceSectors * uint64(stripeWidth)

	diskEnd := uint64(0)
	if current.DiskSizeSectors > endBufferSectors {
		diskEnd = current.DiskSizeSectors - endBufferSectors
	}
	swapStart := alignDown(saturatingSub(diskEnd, totalSwapSectors), alignmentSectors)

	if swapStart <= root.StartSector {
		return types.PartitionPlan{}, errors.New(errors.KindPartition, "disk too small to fit the computed swap group").
			WithComponent("partition").WithOperation("plan").
			WithDetail("swap_start_sector", swapStart).WithDetail("root_start_sector", root.StartSector)
	}

	preserveGiB := in.PreserveRootGiB
	if preserveGiB <= 0 {
		preserveGiB = defaultPreserveRootGiB
	}
	preserveSectors := uint64(preserveGiB*gibFloat) / sectorSize
	usedPlusFloorSectors := (in.RootUsedBytes+2*gib)/sectorSize
	minRootSectors := maxUint64(preserveSectors, usedPlusFloorSectors)

	candidateRootSectors := swapStart - root.StartSector

	plan := types.PartitionPlan{
		Disk: current.Disk,
		SwapPartitions: buildSwapSpecs(root.Index, swapStart, perDeviceSectors, stripeWidth),
	}

	switch {
	case candidateRootSectors >= minRootSectors && candidateRootSectors >= root.SizeSectors:
		plan.NewRootSizeSectors = candidateRootSectors
		if candidateRootSectors == root.SizeSectors {
			plan.RootAction = types.RootActionUnchanged
		} else {
			plan.RootAction = types.RootActionExtendOnline
		}
	default:
		if in.FilesystemKind == types.FSXFS {
			return types.PartitionPlan{}, errors.New(errors.KindEnvironment, "xfs root cannot shrink; a shrink is required by this layout").
				WithComponent("partition").WithOperation("plan")
		}
		if !in.AllowRootShrink {
			return types.PartitionPlan{}, errors.New(errors.KindPlan, "layout requires shrinking the root partition but allow_root_shrink is false").
				WithComponent("partition").WithOperation("plan")
		}
		if minRootSectors < root.StartSector {
			minRootSectors = root.StartSector
		}
		newRoot := alignUp(minRootSectors, alignmentSectors)
		if newRoot >= root.SizeSectors {
			return types.PartitionPlan{}, errors.New(errors.KindPartition, "computed minimum root size does not actually require a shrink").
				WithComponent("partition").WithOperation("plan")
		}
		plan.NewRootSizeSectors = newRoot
		plan.RootAction = types.RootActionShrinkOffline
	}

	return plan, nil
}

func buildSwapSpecs(rootIndex int, swapStart, perDeviceSectors uint64, stripeWidth int) []types.SwapPartitionSpec {
	specs := make([]types.SwapPartitionSpec, 0, stripeWidth)
	cursor := swapStart
	for i := 0; i < stripeWidth; i++ {
		specs = append(specs, types.SwapPartitionSpec{
			Index:       rootIndex + 1 + i,
			StartSector: cursor,
			SizeSectors: perDeviceSectors,
			TypeGUID:    linuxSwapTypeGUID,
		})
		cursor += perDeviceSectors
	}
	return specs
}

const gibFloat = float64(gib)

func alignDown(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return (v / alignment) * alignment
}

func alignUp(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return ((v + alignment - 1) / alignment) * alignment
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
