package types

import "time"

// FilesystemKind enumerates the root filesystem families the engine knows
// how to reason about for online-vs-offline shrink decisions.
type FilesystemKind string

const (
	FSExt2  FilesystemKind = "ext2"
	FSExt3  FilesystemKind = "ext3"
	FSExt4  FilesystemKind = "ext4"
	FSXFS   FilesystemKind = "xfs"
	FSBtrfs FilesystemKind = "btrfs"
	FSOther FilesystemKind = "other"
)

// PartitionScheme identifies the partition table format on the root disk.
// Only GPT is supported end to end; MBR is recorded so probe_system can
// still report on a machine the engine will refuse to repartition.
type PartitionScheme string

const (
	SchemeGPT PartitionScheme = "gpt"
	SchemeMBR PartitionScheme = "mbr"
)

// Inventory captures everything probe_system gathers about the machine in
// one atomic read. See spec §3 and §4.1.
type Inventory struct {
	RAMBytes   uint64 `json:"ram_bytes"`
	CPUCores   int    `json:"cpu_cores"`

	RootDevicePath           string `json:"root_device_path"`
	RootPartitionNumber      int    `json:"root_partition_number"`
	RootPartitionStartSector uint64 `json:"root_partition_start_sector"`
	RootPartitionSizeSectors uint64 `json:"root_partition_size_sectors"`
	DiskSizeSectors          uint64 `json:"disk_size_sectors"`
	SectorSize               uint32 `json:"sector_size"`

	FilesystemKind  FilesystemKind  `json:"filesystem_kind"`
	IsRotational    bool            `json:"is_rotational"`
	PartitionScheme PartitionScheme `json:"partition_scheme"`

	AvailableCompressors []string `json:"available_compressors"`
	AvailableAllocators  []string `json:"available_allocators"`

	// KernelRelease and BootID stamp which boot a BenchResult/Plan belongs
	// to, so the post-reboot finalizer can tell a stale persisted
	// BenchResult from one still valid for the running kernel.
	KernelRelease string `json:"kernel_release"`
	BootID        string `json:"boot_id"`

	ZswapLoaded bool `json:"zswap_loaded"`
	ZramLoaded  bool `json:"zram_loaded"`
}

// RootPartitionEndSector returns the sector immediately past the root
// partition's last occupied one.
func (inv Inventory) RootPartitionEndSector() uint64 {
	return inv.RootPartitionStartSector + inv.RootPartitionSizeSectors
}

// CompressorStat is one row of the compressor or allocator sweep.
type CompressorStat struct {
	CompressionRatio     float64 `json:"compression_ratio"`
	BandwidthMBPerS      float64 `json:"bandwidth_mb_per_s"`
	EffectiveCapacityPct float64 `json:"effective_capacity_pct"`
}

// MatrixCell is one (block_size, concurrency) point of the disk I/O sweep.
type MatrixCell struct {
	BlockSizeKB     int     `json:"block_size_kb"`
	Concurrency     int     `json:"concurrency"`
	ReadMBPerS      float64 `json:"read_mb_per_s"`
	WriteMBPerS     float64 `json:"write_mb_per_s"`
	CombinedMBPerS  float64 `json:"combined_mb_per_s"`
	Anomalous       bool    `json:"anomalous,omitempty"`
	AnomalousReason string  `json:"anomalous_reason,omitempty"`
}

// OptimalRows names the index into Matrix that maximizes each metric.
type OptimalRows struct {
	BestRead     int `json:"best_read"`
	BestWrite    int `json:"best_write"`
	BestCombined int `json:"best_combined"`
}

// LatencyResult holds the three reference points from the latency probe.
type LatencyResult struct {
	RAMNs            int64 `json:"ram_ns"`
	CompressedCacheUs int64 `json:"compressed_cache_us"`
	DiskUs           int64 `json:"disk_us"`
}

// CacheWithBackingResult is the optional writeback probe, only run when
// real swap partitions already exist.
type CacheWithBackingResult struct {
	HotHitUs             int64   `json:"hot_hit_us"`
	ColdReadUs           int64   `json:"cold_read_us"`
	WritebackMBPerS      float64 `json:"writeback_mb_per_s"`
	BytesWrittenToBacking uint64  `json:"bytes_written_to_backing"`
}

// SwappinessSample is one point of the swappiness micro-sweep
// (§2.3 of the expanded spec): a reclaim-latency measurement at a given
// swappiness value, used only to sanity-check the rule-based tunable.
type SwappinessSample struct {
	Swappiness       int   `json:"swappiness"`
	ReclaimLatencyNs int64 `json:"reclaim_latency_ns"`
}

// BenchResult is the immutable record produced by the benchmark engine. It
// is persisted to disk because it must survive the reboot that an offline
// root shrink requires.
type BenchResult struct {
	Timestamp time.Time `json:"timestamp"`
	BootID    string    `json:"boot_id"`

	CompressorSweep map[string]CompressorStat `json:"compressor_sweep"`
	AllocatorSweep  map[string]CompressorStat `json:"allocator_sweep"`

	Matrix  []MatrixCell `json:"matrix"`
	Optimal OptimalRows  `json:"optimal"`

	Latency           LatencyResult           `json:"latency"`
	CacheWithBacking  *CacheWithBackingResult `json:"cache_with_backing,omitempty"`
	SwappinessSweep   []SwappinessSample      `json:"swappiness_sweep,omitempty"`

	// AllocatorInconclusive records that the measured allocator ordering
	// contradicted the expected zsmalloc > z3fold > zbud efficiency
	// ordering, per spec §4.3.2 — the Plan Calculator must fall back to
	// the default ordering rather than trust this sweep.
	AllocatorInconclusive bool `json:"allocator_inconclusive"`
}

// RAMSolution is the compressed-swap strategy chosen for the RAM tier.
type RAMSolution string

const (
	RAMSolutionCompressedCache       RAMSolution = "compressed_cache"
	RAMSolutionCompressedBlockDevice RAMSolution = "compressed_block_device"
	RAMSolutionNone                  RAMSolution = "none"
)

// DiskBacking is the swap-on-disk strategy chosen for the disk tier.
type DiskBacking string

const (
	DiskBackingFilesInRoot            DiskBacking = "files_in_root"
	DiskBackingNativeSwapPartitions   DiskBacking = "native_swap_partitions"
	DiskBackingZvolPartitions         DiskBacking = "zvol_partitions"
	DiskBackingFilesOnDedicatedPart   DiskBacking = "files_on_dedicated_partition"
	DiskBackingNone                   DiskBacking = "none"
)

// Tunables are the sysctl-level values the Kernel Tunable Manager applies
// and persists in its drop-in file.
type Tunables struct {
	Swappiness      int `json:"swappiness" yaml:"swappiness"`
	PageCluster     int `json:"page_cluster" yaml:"page_cluster"`
	CachePressure   int `json:"cache_pressure" yaml:"cache_pressure"`
	WatermarkScale  int `json:"watermark_scale" yaml:"watermark_scale"`
}

// Plan is the output of the Plan Calculator: a pure function of Inventory,
// BenchResult, and Overrides. See spec §3 and §4.4 for every sizing rule.
type Plan struct {
	RAMSolution   RAMSolution `json:"ram_solution"`
	RAMPoolBytes  uint64      `json:"ram_pool_bytes"`
	Compressor    string      `json:"compressor"`
	Allocator     string      `json:"allocator"`

	DiskBacking     DiskBacking `json:"disk_backing"`
	DiskTotalBytes  uint64      `json:"disk_total_bytes"`
	StripeWidth     int         `json:"stripe_width"`
	PerDeviceBytes  uint64      `json:"per_device_bytes"`

	DiskPriority int `json:"disk_priority"`
	RAMPriority  int `json:"ram_priority"`

	Tunables Tunables `json:"tunables"`

	// DiskOptimalBlockSizeKB, read next to Tunables.PageCluster, lets the
	// Reporter audit the disagreement between the matrix-optimal block size
	// and the page_cluster value actually applied, per spec §4.3.6.
	DiskOptimalBlockSizeKB int `json:"disk_optimal_block_size_kb"`
}

// RootAction is what the Partition Transformer does to the root partition
// to make room for the swap group.
type RootAction string

const (
	RootActionUnchanged     RootAction = "unchanged"
	RootActionExtendOnline  RootAction = "extend_online"
	RootActionShrinkOffline RootAction = "shrink_offline"
)

// SwapPartitionSpec describes one new swap partition to be appended to the
// GPT tail.
type SwapPartitionSpec struct {
	Index       int    `json:"index"`
	StartSector uint64 `json:"start_sector"`
	SizeSectors uint64 `json:"size_sectors"`
	TypeGUID    string `json:"type_guid"`
}

// PartitionPlan is the ephemeral layout the Partition Transformer computes
// and then applies. Only its backup dump outlives the process.
type PartitionPlan struct {
	Disk               string              `json:"disk"`
	BackupDumpPath     string              `json:"backup_dump_path"`
	NewRootSizeSectors uint64              `json:"new_root_size_sectors"`
	SwapPartitions     []SwapPartitionSpec `json:"swap_partitions"`
	RootAction         RootAction          `json:"root_action"`
}

// Overrides is the flat operator configuration layer of spec §6. A zero
// value for any pointer field means "not set, use the computed default."
type Overrides struct {
	RAMSolution     *string `yaml:"ram_solution,omitempty"`
	RAMPoolBytes    *uint64 `yaml:"ram_pool_bytes,omitempty"`
	Compressor      *string `yaml:"compressor,omitempty"`
	Allocator       *string `yaml:"allocator,omitempty"`
	DiskBacking     *string `yaml:"disk_backing,omitempty"`
	DiskTotalBytes  *uint64 `yaml:"disk_total_bytes,omitempty"`
	StripeWidth     *int    `yaml:"stripe_width,omitempty"`
	PreserveRootGiB float64 `yaml:"preserve_root_gib"`
	AllowRootShrink bool    `yaml:"allow_root_shrink"`
	BenchDurationS  int     `yaml:"bench_duration_s"`
}

// ExternalConfig models the shape of the configuration record swapforge
// consumes from the surrounding post-install toolkit — the RAM override,
// a notification webhook placeholder, and the set of stages to skip. The
// toolkit's own shell bootstrap, repo cloning, package install, and
// Telegram transport live outside this module; ExternalConfig is the seam.
type ExternalConfig struct {
	RAMOverrideBytes    uint64   `yaml:"ram_override_bytes,omitempty"`
	NotificationWebhook string   `yaml:"notification_webhook,omitempty"`
	SkipStages          []string `yaml:"skip_stages,omitempty"`
}

// CompressionPattern is the fill pattern the Pressurizer writes.
type CompressionPattern string

const (
	PatternMixed      CompressionPattern = "mixed"
	PatternRandom     CompressionPattern = "random"
	PatternZeros      CompressionPattern = "zeros"
	PatternSequential CompressionPattern = "sequential"
)

// FinalState is what the engine's final JSON document records once a run
// completes, aborts, or schedules an offline reboot — spec §7's "the
// engine never silently leaves a half-mutated GPT with no record."
type FinalState string

const (
	FinalStatePlanComplete          FinalState = "plan complete, swap active"
	FinalStatePartitionsPartial     FinalState = "partitions created, activation partial"
	FinalStateNoChange              FinalState = "no change, rollback not needed"
	FinalStateOfflineShrinkPending  FinalState = "offline shrink scheduled, reboot required"
)

// RunReport is the top-level document the Reporter assembles: the contract
// between a first-boot run and a post-reboot finalizer.
type RunReport struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	Inventory     Inventory      `json:"inventory"`
	BenchResult   *BenchResult   `json:"bench_result,omitempty"`
	Plan          *Plan          `json:"plan,omitempty"`
	PartitionPlan *PartitionPlan `json:"partition_plan,omitempty"`
	FinalState    FinalState     `json:"final_state"`
	Warnings      []string       `json:"warnings,omitempty"`
}
