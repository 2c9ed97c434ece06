package partition

import (
	"testing"

	"github.com/swapforge/swapforge/pkg/types"
)

func baseLayoutDump(diskSizeSectors, rootSizeSectors uint64) Dump {
	return Dump{
		Disk:            "/dev/sda",
		DiskSizeSectors: diskSizeSectors,
		SectorSize:      512,
		Entries: []Entry{
			{Index: 1, StartSector: 2048, SizeSectors: rootSizeSectors, TypeGUID: "0FC63DAF-8483-4772-8E79-3D69D8477DE4"},
		},
	}
}

// A generously oversized disk with a small root: swap fits in the free
// tail without touching root's start, and root extends to close the gap.
func TestComputeLayoutExtendsOnlineWhenTailIsFree(t *testing.T) {
	disk := baseLayoutDump(100*gib/512, 9*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       3 * gib,
		FilesystemKind:      types.FSExt4,
		TotalSwapBytes:      14 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (14 * gib) / 8,
		PreserveRootGiB:     10,
		AllowRootShrink:     false,
	}
	plan, err := ComputeLayout(disk, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.RootAction != types.RootActionExtendOnline && plan.RootAction != types.RootActionUnchanged {
		t.Errorf("expected extend_online or unchanged, got %s", plan.RootAction)
	}
	if len(plan.SwapPartitions) != 8 {
		t.Errorf("expected 8 swap partitions, got %d", len(plan.SwapPartitions))
	}
}

// A disk where root fills nearly all of it: swap can only fit by
// shrinking root, which for ext4 must be offline.
func TestComputeLayoutShrinksOfflineWhenRootFillsDisk(t *testing.T) {
	disk := baseLayoutDump(40*gib/512, 38*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       6 * gib,
		FilesystemKind:      types.FSExt4,
		TotalSwapBytes:      4 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (4 * gib) / 8,
		PreserveRootGiB:     10,
		AllowRootShrink:     true,
	}
	plan, err := ComputeLayout(disk, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.RootAction != types.RootActionShrinkOffline {
		t.Errorf("expected shrink_offline, got %s", plan.RootAction)
	}
	if plan.NewRootSizeSectors >= 38*gib/512 {
		t.Error("expected the new root size to be smaller than the current one")
	}
}

func TestComputeLayoutXFSShrinkRequiredIsEnvironmentError(t *testing.T) {
	disk := baseLayoutDump(40*gib/512, 38*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       6 * gib,
		FilesystemKind:      types.FSXFS,
		TotalSwapBytes:      4 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (4 * gib) / 8,
		PreserveRootGiB:     10,
		AllowRootShrink:     true,
	}
	_, err := ComputeLayout(disk, in)
	if err == nil {
		t.Fatal("expected an error for an xfs root that requires shrinking")
	}
}

func TestComputeLayoutRefusesShrinkWhenNotAllowed(t *testing.T) {
	disk := baseLayoutDump(40*gib/512, 38*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       6 * gib,
		FilesystemKind:      types.FSExt4,
		TotalSwapBytes:      4 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (4 * gib) / 8,
		PreserveRootGiB:     10,
		AllowRootShrink:     false,
	}
	_, err := ComputeLayout(disk, in)
	if err == nil {
		t.Fatal("expected an error when allow_root_shrink is false but a shrink is required")
	}
}

func TestComputeLayoutEverySwapPartitionIsAligned(t *testing.T) {
	disk := baseLayoutDump(100*gib/512, 9*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       3 * gib,
		FilesystemKind:      types.FSExt4,
		TotalSwapBytes:      14 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (14 * gib) / 8,
		PreserveRootGiB:     10,
	}
	plan, err := ComputeLayout(disk, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sp := range plan.SwapPartitions {
		if sp.StartSector%alignmentSectors != 0 {
			t.Errorf("swap partition %d start sector %d is not 2048-sector aligned", sp.Index, sp.StartSector)
		}
		if sp.SizeSectors%alignmentSectors != 0 {
			t.Errorf("swap partition %d size sectors %d is not 2048-sector aligned", sp.Index, sp.SizeSectors)
		}
	}
}

func TestComputeLayoutSwapPartitionsAreDisjointAndWithinDisk(t *testing.T) {
	disk := baseLayoutDump(100*gib/512, 9*gib/512)
	in := LayoutInput{
		RootPartitionIndex: 1,
		RootUsedBytes:       3 * gib,
		FilesystemKind:      types.FSExt4,
		TotalSwapBytes:      14 * gib,
		StripeWidth:         8,
		PerDeviceBytes:      (14 * gib) / 8,
		PreserveRootGiB:     10,
	}
	plan, err := ComputeLayout(disk, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(plan.SwapPartitions); i++ {
		prev, cur := plan.SwapPartitions[i-1], plan.SwapPartitions[i]
		if cur.StartSector < prev.StartSector+prev.SizeSectors {
			t.Errorf("swap partitions %d and %d overlap", prev.Index, cur.Index)
		}
	}
	last := plan.SwapPartitions[len(plan.SwapPartitions)-1]
	if last.StartSector+last.SizeSectors > disk.DiskSizeSectors-endBufferSectors {
		t.Error("last swap partition runs past the reserved end buffer")
	}
}
